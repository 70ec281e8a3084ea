package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/telewake/relay-service/internal/adapter/pubsub"
	"github.com/telewake/relay-service/internal/domain/event"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/storage"
)

const (
	// pollSlice bounds how long a long-poller sleeps between queue
	// checks when no bus hint arrives.
	pollSlice = 100 * time.Millisecond

	// maxPullWait caps client-supplied long-poll windows.
	maxPullWait = 30 * time.Second
)

// Relayer is the primary interface for transport handlers. It moves
// opaque packets between live streams and the durable queue while
// keeping both coherent.
type Relayer interface {
	// Attach registers a stream under id and flushes its backlog.
	Attach(ctx context.Context, id string, stream registry.Stream) error

	// Detach removes the stream when it is still the registered one.
	Detach(id string, stream registry.Stream)

	// Deliver moves a command packet toward its device. It reports
	// whether the packet reached a live stream; false means the
	// envelope is parked in the durable queue.
	Deliver(ctx context.Context, dev model.Device, pkt model.Packet, senderID string) (bool, error)

	// DeliverResponse moves a response packet back to the client whose
	// command the device answered.
	DeliverResponse(ctx context.Context, dev model.Device, pkt model.Packet) (bool, error)

	// Pull drains the durable queue for one device and direction,
	// blocking up to wait for envelopes to arrive.
	Pull(ctx context.Context, deviceID string, dir model.Direction, wait time.Duration) ([]model.Envelope, error)

	// TouchPresence bumps the device's last_seen bookkeeping.
	TouchPresence(ctx context.Context, deviceID string, counter *int64)
}

type RelayService struct {
	reg     registry.Registrar
	store   storage.Store
	bus     pubsub.Notifier
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Interface guard
var _ Relayer = (*RelayService)(nil)

func NewRelayService(reg registry.Registrar, store storage.Store, bus pubsub.Notifier, logger *slog.Logger) *RelayService {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "durable-queue",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &RelayService{
		reg:     reg,
		store:   store,
		bus:     bus,
		breaker: breaker,
		logger:  logger,
	}
}

// liveFrame forwards the packet verbatim, request counter included.
// Peers deduplicate re-deliveries by that counter, so the relay never
// strips it in either direction.
func liveFrame(pkt model.Packet) ([]byte, error) {
	return json.Marshal(pkt)
}

// envelopeFrame rebuilds a frame from a durable row. Counters are not
// persisted, so replayed frames carry none.
func envelopeFrame(env model.Envelope) ([]byte, error) {
	return json.Marshal(model.Packet{
		DeviceID:  env.DeviceID,
		Payload:   env.Payload,
		Signature: env.Signature,
		Version:   model.ProtocolVersion,
	})
}

// Deliver writes the envelope to the durable queue first; a confirmed
// stream delivery retires the row, anything else leaves it for pull or
// reconnect. When senderID names a client connection it is recorded as
// the one waiting for the device's next response, even if the device is
// offline right now.
func (s *RelayService) Deliver(ctx context.Context, dev model.Device, pkt model.Packet, senderID string) (bool, error) {
	frame, err := liveFrame(pkt)
	if err != nil {
		return false, fmt.Errorf("encode device frame: %w", err)
	}

	rowID, err := s.appendDurable(ctx, model.NewEnvelope(model.DirectionToDevice, dev.DeviceToken, pkt))
	if err != nil {
		return false, err
	}

	stream, online := s.reg.Route(dev.DeviceID, senderID)
	if !online {
		s.hint(ctx, dev.DeviceID, model.DirectionToDevice)
		return false, nil
	}

	if err := stream.Send(frame); err != nil {
		s.logger.Warn("stream delivery failed, keeping durable row",
			"device_id", dev.DeviceID, "row_id", rowID, "error", err)
		if !s.reg.Enqueue(dev.DeviceID, registry.Entry{Frame: frame, RowID: rowID}) {
			s.logger.Warn("memory queue full, durable row remains",
				"device_id", dev.DeviceID, "row_id", rowID)
		}
		s.hint(ctx, dev.DeviceID, model.DirectionToDevice)
		return false, nil
	}

	s.confirm(ctx, rowID)
	return true, nil
}

// DeliverResponse consumes the pending slot whether or not the client
// is still reachable; an unreachable client picks the response up by
// polling instead.
func (s *RelayService) DeliverResponse(ctx context.Context, dev model.Device, pkt model.Packet) (bool, error) {
	frame, err := liveFrame(pkt)
	if err != nil {
		return false, fmt.Errorf("encode client frame: %w", err)
	}

	rowID, err := s.appendDurable(ctx, model.NewEnvelope(model.DirectionToClient, dev.DeviceToken, pkt))
	if err != nil {
		return false, err
	}

	stream, clientID, ok := s.reg.TakePending(dev.DeviceID)
	if !ok {
		s.hint(ctx, dev.DeviceID, model.DirectionToClient)
		return false, nil
	}

	if err := stream.Send(frame); err != nil {
		s.logger.Warn("response delivery failed, keeping durable row",
			"device_id", dev.DeviceID, "client_id", clientID, "row_id", rowID, "error", err)
		s.hint(ctx, dev.DeviceID, model.DirectionToClient)
		return false, nil
	}

	s.confirm(ctx, rowID)
	return true, nil
}

// Attach registers the stream and flushes the target's backlog, memory
// queue first, then whatever the durable queue still holds. Rows are
// retired one by one as frames reach the stream.
func (s *RelayService) Attach(ctx context.Context, id string, stream registry.Stream) error {
	sent := s.reg.Register(id, stream)
	for _, e := range sent {
		s.confirm(ctx, e.RowID)
	}

	// Only devices accumulate a durable backlog under their own id;
	// client connections are ephemeral.
	if registry.IsClientConn(id) {
		return nil
	}

	backlog, err := s.store.PendingEnvelopes(ctx, id, model.DirectionToDevice)
	if err != nil {
		return fmt.Errorf("load backlog for %s: %w", id, err)
	}
	for _, env := range backlog {
		frame, err := envelopeFrame(env)
		if err != nil {
			s.logger.Error("skip unencodable backlog row", "row_id", env.ID, "error", err)
			continue
		}
		if err := stream.Send(frame); err != nil {
			// Remaining rows stay durable for the next attach or pull.
			s.logger.Warn("backlog flush interrupted",
				"device_id", id, "row_id", env.ID, "error", err)
			return nil
		}
		s.confirm(ctx, env.ID)
	}
	return nil
}

func (s *RelayService) Detach(id string, stream registry.Stream) {
	s.reg.Deregister(id, stream)
}

// Pull is the long-poll drain. A zero wait returns immediately;
// otherwise the call blocks until envelopes arrive, the wait expires,
// or ctx ends. Drained command rows are also dropped from the memory
// queue so a reconnect cannot replay them.
func (s *RelayService) Pull(ctx context.Context, deviceID string, dir model.Direction, wait time.Duration) ([]model.Envelope, error) {
	if wait > maxPullWait {
		wait = maxPullWait
	}
	deadline := time.Now().Add(wait)

	var watch <-chan struct{}
	for {
		envs, err := s.store.TakeEnvelopes(ctx, deviceID, dir)
		if err != nil {
			return nil, fmt.Errorf("take envelopes for %s: %w", deviceID, err)
		}
		if len(envs) > 0 {
			if dir == model.DirectionToDevice {
				rowIDs := make([]int64, len(envs))
				for i, e := range envs {
					rowIDs[i] = e.ID
				}
				s.reg.DropEntries(deviceID, rowIDs)
			}
			if err := s.store.IncrementPollCount(ctx, deviceID); err != nil {
				s.logger.Warn("poll count update failed", "device_id", deviceID, "error", err)
			}
			return envs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if watch == nil {
			ch, cancel := s.bus.Watch(deviceID)
			defer cancel()
			watch = ch
		}

		slice := pollSlice
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watch:
		case <-time.After(slice):
		}
	}
}

// TouchPresence failures only log: presence is bookkeeping, never a
// delivery gate.
func (s *RelayService) TouchPresence(ctx context.Context, deviceID string, counter *int64) {
	if err := s.store.TouchDevice(ctx, deviceID, time.Now(), counter); err != nil {
		s.logger.Warn("presence update failed", "device_id", deviceID, "error", err)
	}
}

// appendDurable funnels every queue insert through the breaker so a
// failing store sheds load instead of stacking writes.
func (s *RelayService) appendDurable(ctx context.Context, env model.Envelope) (int64, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return s.store.AppendEnvelope(ctx, env)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, model.NewError(model.ErrBackpressure, "Durable queue unavailable")
		}
		return 0, fmt.Errorf("append durable envelope: %w", err)
	}
	return v.(int64), nil
}

// confirm retires a durable row after its frame reached a live stream.
func (s *RelayService) confirm(ctx context.Context, rowID int64) {
	if rowID == 0 {
		return
	}
	if err := s.store.DeleteEnvelope(ctx, rowID); err != nil {
		// At-least-once: the row is re-delivered or swept later.
		s.logger.Warn("confirm delete failed", "row_id", rowID, "error", err)
	}
}

func (s *RelayService) hint(ctx context.Context, deviceID string, dir model.Direction) {
	err := s.bus.Announce(ctx, event.EnvelopeQueued{DeviceID: deviceID, Direction: string(dir)})
	if err != nil {
		s.logger.Debug("queue hint dropped", "device_id", deviceID, "error", err)
	}
}
