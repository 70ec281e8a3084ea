package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/handler/marshaller"
	"github.com/telewake/relay-service/internal/service"
)

// maxBodyBytes caps REST bodies at the same limit as stream frames.
const maxBodyBytes = 1 << 20

// pushEnvelope carries the fields push reads on top of the packet
// itself. Direction defaults to the device side: pushing commands is
// the endpoint's overwhelmingly common use.
type pushEnvelope struct {
	Direction string `json:"direction"`
}

type pushResponse struct {
	Status         string `json:"status"`
	DeviceID       string `json:"device_id"`
	DeliveredViaWS bool   `json:"delivered_via_ws"`
}

// Push accepts one outer envelope and moves it toward its peer: onto a
// live stream when one is registered, into the durable queue
// otherwise. The response tells the caller which of the two happened.
func (h *APIHandler) Push(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidPacket, "Body too large"))
		return
	}

	pkt, err := service.ParsePacket(raw)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	var env pushEnvelope
	_ = json.Unmarshal(raw, &env) // raw already parsed as JSON above

	dir := model.Direction(env.Direction)
	if env.Direction == "" {
		dir = model.DirectionToDevice
	}
	if !dir.Valid() {
		marshaller.WriteError(w, h.logger, model.NewErrorf(model.ErrInvalidPacket,
			"Invalid direction: %s", env.Direction))
		return
	}

	dev, err := h.devices.Owned(r.Context(), user, pkt.DeviceID)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	h.relay.TouchPresence(r.Context(), dev.DeviceID, nil)

	var delivered bool
	if dir == model.DirectionToClient {
		delivered, err = h.relay.DeliverResponse(r.Context(), dev, pkt)
	} else {
		delivered, err = h.relay.Deliver(r.Context(), dev, pkt, "")
	}
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, pushResponse{
		Status:         "ok",
		DeviceID:       dev.DeviceID,
		DeliveredViaWS: delivered,
	})
}
