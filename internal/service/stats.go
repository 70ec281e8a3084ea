package service

import (
	"context"
	"fmt"
	"time"

	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/storage"
	"golang.org/x/sync/errgroup"
)

// OnlineWindow is how recently a device must have checked in to count
// as online. Presence over a live stream and presence over HTTP polling
// both funnel through last_seen, so one window covers both transports.
const OnlineWindow = 5 * time.Minute

// Statser produces the operational snapshot and the health report.
type Statser interface {
	Snapshot(ctx context.Context) (model.Stats, error)
	Health(ctx context.Context) model.Health
}

type StatsService struct {
	store storage.Store
	reg   registry.Registrar
	cfg   *config.Config
}

// Interface guard
var _ Statser = (*StatsService)(nil)

func NewStatsService(store storage.Store, reg registry.Registrar, cfg *config.Config) *StatsService {
	return &StatsService{store: store, reg: reg, cfg: cfg}
}

// Snapshot gathers the store counters concurrently. The registry
// counters are cheap and read inline.
func (s *StatsService) Snapshot(ctx context.Context) (model.Stats, error) {
	var onlineDevices, totalDevices, totalUsers, toDevice, toClient int64
	seenSince := time.Now().Add(-OnlineWindow)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		onlineDevices, err = s.store.CountDevicesSeenSince(gCtx, seenSince)
		return err
	})
	g.Go(func() error {
		var err error
		totalDevices, err = s.store.CountDevices(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		totalUsers, err = s.store.CountUsers(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		toDevice, err = s.store.CountEnvelopes(gCtx, model.DirectionToDevice)
		return err
	})
	g.Go(func() error {
		var err error
		toClient, err = s.store.CountEnvelopes(gCtx, model.DirectionToClient)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Stats{}, fmt.Errorf("collect stats: %w", err)
	}

	return model.Stats{
		OnlineDevices:        onlineDevices,
		TotalDevices:         totalDevices,
		TotalUsers:           totalUsers,
		QueuesToDevice:       toDevice,
		QueuesToClient:       toClient,
		TotalQueues:          toDevice + toClient,
		WebsocketConnections: s.reg.Len(),
		ServerTime:           time.Now().UTC().Format(time.RFC3339),
		Status:               "running",
	}, nil
}

// Health reports liveness. The advertised base URL prefers the stored
// value so an operator override survives restarts.
func (s *StatsService) Health(ctx context.Context) model.Health {
	baseURL, err := s.store.ConfigValue(ctx, storage.BaseURLKey)
	if err != nil {
		baseURL = s.cfg.BaseURL()
	}

	return model.Health{
		Status:     "healthy",
		Service:    config.ServiceTitle,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Websockets: s.reg.Len(),
		BaseURL:    baseURL,
	}
}
