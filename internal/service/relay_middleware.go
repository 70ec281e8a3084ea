package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
)

// RelayMiddleware decorates a Relayer with outcome logging so the
// transport handlers stay free of observability concerns.
type RelayMiddleware struct {
	Next   Relayer
	Logger *slog.Logger
}

// Interface guard
var _ Relayer = (*RelayMiddleware)(nil)

func (m *RelayMiddleware) Attach(ctx context.Context, id string, stream registry.Stream) error {
	err := m.Next.Attach(ctx, id, stream)
	if err != nil {
		m.Logger.Error("stream attach failed", "conn_id", id, "error", err)
	} else {
		m.Logger.Info("stream attached", "conn_id", id, "client", registry.IsClientConn(id))
	}
	return err
}

func (m *RelayMiddleware) Detach(id string, stream registry.Stream) {
	m.Next.Detach(id, stream)
	m.Logger.Info("stream detached", "conn_id", id)
}

func (m *RelayMiddleware) Deliver(ctx context.Context, dev model.Device, pkt model.Packet, senderID string) (bool, error) {
	start := time.Now()

	delivered, err := m.Next.Deliver(ctx, dev, pkt, senderID)
	if err != nil {
		m.Logger.Error("command relay failed",
			"device_id", dev.DeviceID,
			"sender_id", senderID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	} else {
		m.Logger.Debug("command relayed",
			"device_id", dev.DeviceID,
			"via_stream", delivered,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return delivered, err
}

func (m *RelayMiddleware) DeliverResponse(ctx context.Context, dev model.Device, pkt model.Packet) (bool, error) {
	start := time.Now()

	delivered, err := m.Next.DeliverResponse(ctx, dev, pkt)
	if err != nil {
		m.Logger.Error("response relay failed",
			"device_id", dev.DeviceID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	} else {
		m.Logger.Debug("response relayed",
			"device_id", dev.DeviceID,
			"via_stream", delivered,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return delivered, err
}

func (m *RelayMiddleware) Pull(ctx context.Context, deviceID string, dir model.Direction, wait time.Duration) ([]model.Envelope, error) {
	envs, err := m.Next.Pull(ctx, deviceID, dir, wait)
	if err != nil {
		m.Logger.Error("pull failed", "device_id", deviceID, "direction", string(dir), "error", err)
	} else if len(envs) > 0 {
		m.Logger.Debug("pull drained", "device_id", deviceID, "direction", string(dir), "count", len(envs))
	}
	return envs, err
}

func (m *RelayMiddleware) TouchPresence(ctx context.Context, deviceID string, counter *int64) {
	m.Next.TouchPresence(ctx, deviceID, counter)
}
