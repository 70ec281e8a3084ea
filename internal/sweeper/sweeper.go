// Package sweeper expires queued envelopes that no peer ever collected.
// Retention is short by design: the durable queue is a hand-off buffer,
// not a mailbox.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/storage"
)

// DefaultInterval is how often the sweep runs. The first sweep happens
// one interval after start.
const DefaultInterval = time.Minute

type Sweeper struct {
	store    storage.Store
	cfg      *config.Config
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

func New(store storage.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("envelope sweeper started",
		"interval", s.interval.String(), "retention", s.cfg.Retention().String())
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep removes envelopes older than the retention window. Failures
// are logged and the loop keeps going; the next tick retries.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention())
	deleted, err := s.store.DeleteEnvelopesBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("envelope sweep failed", "error", err)
		}
		return
	}
	if deleted > 0 {
		s.logger.Info("cleaned old envelopes", "count", deleted)
	}
}
