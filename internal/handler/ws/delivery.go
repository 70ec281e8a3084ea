package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/telewake/relay-service/infra/server/httpsrv"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/service"
)

// authWait bounds how long a client stream may take to present its
// in-band auth message.
const authWait = 10 * time.Second

// WSHandler serves both push-stream endpoints. Devices authenticate
// with the account token in the upgrade headers; clients send an
// explicit auth message after the upgrade.
type WSHandler struct {
	logger   *slog.Logger
	relay    service.Relayer
	auth     service.Auther
	devices  service.Devicer
	upgrader websocket.Upgrader

	authWait time.Duration
}

func NewWSHandler(logger *slog.Logger, relay service.Relayer, auth service.Auther, devices service.Devicer) *WSHandler {
	return &WSHandler{
		logger:  logger,
		relay:   relay,
		auth:    auth,
		devices: devices,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
		authWait: authWait,
	}
}

// Register mounts the stream endpoints. The static client prefix wins
// over the device wildcard, so the two cannot shadow each other.
func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws/{deviceID}", h.ServeDevice)
	r.Get("/ws/client/{clientID}", h.ServeClient)
}

// ServeDevice is the device-side stream. The path id must name a device
// owned by the token's account; anything else is a policy violation.
func (h *WSHandler) ServeDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	stream := newStream(conn)

	user, err := h.auth.ResolveToken(r.Context(), httpsrv.BearerToken(r))
	if err != nil {
		h.reject(stream, err)
		return
	}
	if _, err := h.devices.Owned(r.Context(), user, deviceID); err != nil {
		h.reject(stream, err)
		return
	}

	h.relay.TouchPresence(r.Context(), deviceID, nil)

	if err := stream.SendJSON(deviceWelcome(deviceID)); err != nil {
		_ = stream.Close()
		return
	}

	// Attach after the welcome so the welcome is the first frame even
	// when a backlog is waiting.
	if err := h.relay.Attach(r.Context(), deviceID, stream); err != nil {
		h.logger.Error("device attach failed", "device_id", deviceID, "error", err)
		_ = stream.Close()
		return
	}
	defer h.relay.Detach(deviceID, stream)
	defer stream.Close()

	h.logger.Info("device stream open", "device_id", deviceID, "user", user.Username)
	h.pumpDevice(r.Context(), user, stream)
	h.logger.Info("device stream closed", "device_id", deviceID)
}

// pumpDevice treats every valid ingress frame as a response and hands
// it to the correlator. Malformed frames are reported and the stream
// stays open; a frame for a device outside the account closes it.
func (h *WSHandler) pumpDevice(ctx context.Context, user model.User, stream *wsStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-stream.Frames():
			if !ok {
				return
			}

			pkt, err := service.ParsePacket(raw)
			if err != nil {
				if !h.sendError(stream, err) {
					return
				}
				continue
			}

			dev, err := h.devices.Owned(ctx, user, pkt.DeviceID)
			if err != nil {
				h.reject(stream, err)
				return
			}

			h.relay.TouchPresence(ctx, dev.DeviceID, pkt.RequestCounter)

			if _, err := h.relay.DeliverResponse(ctx, dev, pkt); err != nil {
				if _, ok := model.AsError(err); ok {
					if !h.sendError(stream, err) {
						return
					}
					continue
				}
				h.logger.Error("response relay failed", "device_id", dev.DeviceID, "error", err)
				return
			}
		}
	}
}

// ServeClient is the client-side stream for CLI and application peers.
func (h *WSHandler) ServeClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	stream := newStream(conn)

	user, err := h.awaitClientAuth(r, stream)
	if err != nil {
		h.reject(stream, err)
		return
	}

	connID := registry.ClientConnPrefix + clientID

	if err := stream.SendJSON(clientWelcome(clientID)); err != nil {
		_ = stream.Close()
		return
	}
	if err := h.relay.Attach(r.Context(), connID, stream); err != nil {
		h.logger.Error("client attach failed", "client_id", clientID, "error", err)
		_ = stream.Close()
		return
	}
	defer h.relay.Detach(connID, stream)
	defer stream.Close()

	h.logger.Info("client stream open", "client_id", clientID, "user", user.Username)
	h.pumpClient(r.Context(), user, stream, connID)
	h.logger.Info("client stream closed", "client_id", clientID)
}

// awaitClientAuth waits for the explicit handshake message. A data
// frame in its place is rejected: the handshake must be explicit. A
// silent peer falls back to the upgrade headers so fleets that still
// pin tokens there keep working.
func (h *WSHandler) awaitClientAuth(r *http.Request, stream *wsStream) (model.User, error) {
	timer := time.NewTimer(h.authWait)
	defer timer.Stop()

	select {
	case raw, ok := <-stream.Frames():
		if !ok {
			return model.User{}, model.NewError(model.ErrAuthRequired, authHint)
		}
		var frame authFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "auth" {
			return model.User{}, model.NewError(model.ErrAuthRequired, authHint)
		}
		return h.auth.ResolveToken(r.Context(), frame.Token)

	case <-timer.C:
		if token := httpsrv.BearerToken(r); token != "" {
			return h.auth.ResolveToken(r.Context(), token)
		}
		return model.User{}, model.NewError(model.ErrAuthRequired, authHint)
	}
}

// pumpClient treats every valid ingress frame as a command for the
// named device and acknowledges each one.
func (h *WSHandler) pumpClient(ctx context.Context, user model.User, stream *wsStream, connID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-stream.Frames():
			if !ok {
				return
			}

			pkt, err := service.ParsePacket(raw)
			if err != nil {
				if !h.sendError(stream, err) {
					return
				}
				continue
			}

			dev, err := h.devices.Owned(ctx, user, pkt.DeviceID)
			if err != nil {
				h.reject(stream, err)
				return
			}

			h.relay.TouchPresence(ctx, dev.DeviceID, nil)

			delivered, err := h.relay.Deliver(ctx, dev, pkt, connID)
			if err != nil {
				if _, ok := model.AsError(err); ok {
					if !h.sendError(stream, err) {
						return
					}
					continue
				}
				h.logger.Error("command relay failed", "device_id", dev.DeviceID, "error", err)
				return
			}

			if err := stream.SendJSON(newAck(dev.DeviceID, delivered)); err != nil {
				return
			}
		}
	}
}

// sendError reports a protocol error and keeps the stream open. It
// returns false when the peer is unreachable.
func (h *WSHandler) sendError(stream *wsStream, err error) bool {
	pe, ok := model.AsError(err)
	if !ok {
		return false
	}
	return stream.SendJSON(newErrorFrame(pe)) == nil
}

// reject sends a structured error and closes with a policy-violation
// code. Internal failures close without leaking details.
func (h *WSHandler) reject(stream *wsStream, err error) {
	pe, ok := model.AsError(err)
	if !ok {
		h.logger.Error("stream rejected", "error", err)
		stream.CloseCode(websocket.CloseInternalServerErr)
		return
	}
	_ = stream.SendJSON(newErrorFrame(pe))
	stream.CloseCode(websocket.ClosePolicyViolation)
}
