package lp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/telewake/relay-service/infra/server/httpsrv"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/handler/marshaller"
	"github.com/telewake/relay-service/internal/service"
)

// LPHandler serves the long-poll drain of the durable queue. Peers
// without a live stream retrieve their envelopes here; retrieval is
// destructive, so every envelope is handed out exactly once per queue
// row.
type LPHandler struct {
	logger  *slog.Logger
	relay   service.Relayer
	devices service.Devicer
}

func NewLPHandler(logger *slog.Logger, relay service.Relayer, devices service.Devicer) *LPHandler {
	return &LPHandler{
		logger:  logger,
		relay:   relay,
		devices: devices,
	}
}

// pullRequest carries the poll parameters. Direction defaults to the
// client side because application pollers outnumber device pollers;
// version is checked only when the peer states one.
type pullRequest struct {
	DeviceID  string `json:"device_id"`
	Direction string `json:"direction"`
	Wait      int    `json:"wait"`
	Version   string `json:"version"`
}

// Poll holds the connection until envelopes arrive or the wait
// expires. A zero wait answers immediately.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	user, ok := httpsrv.AuthUser(r.Context())
	if !ok {
		marshaller.WriteDetail(w, http.StatusUnauthorized, "API token required")
		return
	}

	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidJSON, "Invalid JSON"))
		return
	}
	if req.DeviceID == "" {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidPacket, "Missing required fields: device_id"))
		return
	}
	if req.Version != "" && req.Version != model.ProtocolVersion {
		marshaller.WriteError(w, h.logger, model.NewErrorf(model.ErrUnsupportedVersion,
			"Unsupported protocol version: %s", req.Version))
		return
	}

	dir := model.Direction(req.Direction)
	if req.Direction == "" {
		dir = model.DirectionToClient
	}
	if !dir.Valid() {
		marshaller.WriteError(w, h.logger, model.NewErrorf(model.ErrInvalidPacket,
			"Invalid direction: %s", req.Direction))
		return
	}

	dev, err := h.devices.Owned(r.Context(), user, req.DeviceID)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	// Polling counts as presence even when the queue turns up empty.
	h.relay.TouchPresence(r.Context(), dev.DeviceID, nil)

	wait := req.Wait
	if wait < 0 {
		wait = 0
	}

	envs, err := h.relay.Pull(r.Context(), dev.DeviceID, dir, time.Duration(wait)*time.Second)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, marshaller.MarshallEnvelopes(dev.DeviceID, envs))
}
