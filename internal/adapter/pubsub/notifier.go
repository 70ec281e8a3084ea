package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/telewake/relay-service/internal/domain/event"
)

// Notifier defines the high-level contract for queue activity hints.
// This keeps the relay engine agnostic of the transport implementation.
type Notifier interface {
	// Announce publishes a queued-envelope hint to every relay node,
	// this one included.
	Announce(ctx context.Context, ev event.EnvelopeQueued) error

	// Watch registers interest in hints for one device. The returned
	// channel holds at most one pending signal; the cancel func
	// releases the registration.
	Watch(deviceID string) (<-chan struct{}, func())
}

// EnvelopeNotifier relays queued-envelope hints between the bus and
// local watchers. Hints are fire-and-forget: a lost hint only delays a
// long-poller until its next poll slice.
type EnvelopeNotifier struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]map[int64]chan struct{}
	lastID   int64

	stop context.CancelFunc
	done chan struct{}
}

var _ Notifier = (*EnvelopeNotifier)(nil)

func NewEnvelopeNotifier(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *EnvelopeNotifier {
	return &EnvelopeNotifier{
		pub:      pub,
		sub:      sub,
		logger:   logger,
		watchers: make(map[string]map[int64]chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the queued topic and fans incoming hints out to
// local watchers until Stop is called.
func (n *EnvelopeNotifier) Start() error {
	runCtx, cancel := context.WithCancel(context.Background())

	messages, err := n.sub.Subscribe(runCtx, event.TopicEnvelopeQueued)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", event.TopicEnvelopeQueued, err)
	}

	n.stop = cancel
	go n.run(messages)
	return nil
}

// Stop ends the subscription and waits for the fan-out loop to drain.
func (n *EnvelopeNotifier) Stop() {
	if n.stop == nil {
		return
	}
	n.stop()
	<-n.done
}

func (n *EnvelopeNotifier) Announce(ctx context.Context, ev event.EnvelopeQueued) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal queued hint: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := n.pub.Publish(event.TopicEnvelopeQueued, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", event.TopicEnvelopeQueued, err)
	}
	return nil
}

func (n *EnvelopeNotifier) Watch(deviceID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	n.lastID++
	id := n.lastID
	set := n.watchers[deviceID]
	if set == nil {
		set = make(map[int64]chan struct{})
		n.watchers[deviceID] = set
	}
	set[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if set := n.watchers[deviceID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(n.watchers, deviceID)
			}
		}
	}
	return ch, cancel
}

func (n *EnvelopeNotifier) run(messages <-chan *message.Message) {
	defer close(n.done)

	for msg := range messages {
		var ev event.EnvelopeQueued
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			// ACK: a malformed hint is a terminal state.
			n.logger.Warn("drop malformed bus hint", "msg_id", msg.UUID, "error", err)
			msg.Ack()
			continue
		}

		n.wake(ev.DeviceID)
		msg.Ack()
	}
}

func (n *EnvelopeNotifier) wake(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.watchers[deviceID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
