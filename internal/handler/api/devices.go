package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/handler/marshaller"
	"github.com/telewake/relay-service/internal/service"
)

type registerDeviceRequest struct {
	DeviceID   string     `json:"device_id"`
	DeviceData deviceData `json:"device_data"`
}

type deviceData struct {
	DeviceToken string `json:"device_token"`
}

type registerDeviceResponse struct {
	Status      string `json:"status"`
	DeviceID    string `json:"device_id"`
	DeviceToken string `json:"device_token"`
	Mode        string `json:"mode"`
}

// RegisterDevice provisions a device under the calling account. A
// token supplied in device_data is kept, otherwise one is minted; the
// response always carries the token the device must use from now on.
func (h *APIHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidJSON, "Invalid JSON"))
		return
	}

	dev, _, err := h.devices.Register(r.Context(), user, req.DeviceID, req.DeviceData.DeviceToken)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, registerDeviceResponse{
		Status:      "device_registered",
		DeviceID:    dev.DeviceID,
		DeviceToken: dev.DeviceToken,
		Mode:        "cloud",
	})
}

type deleteDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// DeleteDevice removes a device and everything queued under its id.
func (h *APIHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req deleteDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidJSON, "Invalid JSON"))
		return
	}

	if err := h.devices.Remove(r.Context(), user, req.DeviceID); err != nil {
		if pe, ok := model.AsError(err); ok && pe.Kind == model.ErrDeviceNotFound {
			marshaller.WriteDetail(w, http.StatusNotFound, "Device not found or access denied")
			return
		}
		marshaller.WriteError(w, h.logger, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "device_deleted",
		"message": fmt.Sprintf("Device %s deleted", req.DeviceID),
	})
}

type deviceSummary struct {
	DeviceID  string `json:"device_id"`
	Cloud     bool   `json:"cloud"`
	Online    bool   `json:"online"`
	LastSeen  string `json:"last_seen,omitempty"`
	PollCount int64  `json:"poll_count"`
	Added     string `json:"added,omitempty"`
}

type devicesResponse struct {
	User         string          `json:"user"`
	Plan         string          `json:"plan"`
	DevicesLimit int             `json:"devices_limit"`
	DevicesCount int             `json:"devices_count"`
	Devices      []deviceSummary `json:"devices"`
}

// Devices lists the account's inventory with live presence: a device
// is online when its stream is registered or it polled recently.
func (h *APIHandler) Devices(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	devices, err := h.devices.List(r.Context(), user)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	now := time.Now()
	summaries := make([]deviceSummary, 0, len(devices))
	for _, dev := range devices {
		s := deviceSummary{
			DeviceID:  dev.DeviceID,
			Cloud:     dev.Cloud,
			Online:    h.reg.IsPresent(dev.DeviceID) || dev.SeenWithin(service.OnlineWindow, now),
			PollCount: dev.PollCount,
		}
		if !dev.LastSeen.IsZero() {
			s.LastSeen = dev.LastSeen.UTC().Format(time.RFC3339Nano)
		}
		if !dev.Added.IsZero() {
			s.Added = dev.Added.UTC().Format(time.RFC3339Nano)
		}
		summaries = append(summaries, s)
	}

	marshaller.WriteJSON(w, http.StatusOK, devicesResponse{
		User:         user.Username,
		Plan:         user.Plan,
		DevicesLimit: user.DevicesLimit,
		DevicesCount: len(summaries),
		Devices:      summaries,
	})
}

type devicePayload struct {
	DeviceID    string `json:"device_id"`
	DeviceToken string `json:"device_token"`
}

// DeviceCreate is the CLI-facing create. Unlike RegisterDevice it
// requires the caller to name the token.
func (h *APIHandler) DeviceCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	req, ok := h.devicePayload(w, r)
	if !ok {
		return
	}

	dev, _, err := h.devices.Register(r.Context(), user, req.DeviceID, req.DeviceToken)
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"device_id":    dev.DeviceID,
		"device_token": dev.DeviceToken,
	})
}

// DeviceGet reports one owned device by its query id.
func (h *APIHandler) DeviceGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		marshaller.WriteDetail(w, http.StatusBadRequest, "device_id required")
		return
	}

	dev, err := h.devices.Owned(r.Context(), user, deviceID)
	if err != nil {
		h.writeDeviceError(w, err)
		return
	}

	resp := struct {
		DeviceID string `json:"device_id"`
		Cloud    bool   `json:"cloud"`
		LastSeen string `json:"last_seen,omitempty"`
	}{DeviceID: dev.DeviceID, Cloud: dev.Cloud}
	if !dev.LastSeen.IsZero() {
		resp.LastSeen = dev.LastSeen.UTC().Format(time.RFC3339Nano)
	}

	marshaller.WriteJSON(w, http.StatusOK, resp)
}

// DeviceUpdate replaces an owned device's token.
func (h *APIHandler) DeviceUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	req, ok := h.devicePayload(w, r)
	if !ok {
		return
	}

	dev, err := h.devices.UpdateToken(r.Context(), user, req.DeviceID, req.DeviceToken)
	if err != nil {
		h.writeDeviceError(w, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"device_id": dev.DeviceID,
	})
}

// DeviceDelete is the CLI-facing delete. The token requirement is a
// request-shape check, ownership is what actually gates the delete.
func (h *APIHandler) DeviceDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	req, ok := h.devicePayload(w, r)
	if !ok {
		return
	}

	if err := h.devices.Remove(r.Context(), user, req.DeviceID); err != nil {
		h.writeDeviceError(w, err)
		return
	}

	marshaller.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "device_deleted",
		"device_id": req.DeviceID,
	})
}

// devicePayload decodes the CLI device body and enforces that both
// identifiers are present.
func (h *APIHandler) devicePayload(w http.ResponseWriter, r *http.Request) (devicePayload, bool) {
	var req devicePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		marshaller.WriteError(w, h.logger, model.NewError(model.ErrInvalidJSON, "Invalid JSON"))
		return req, false
	}
	if req.DeviceID == "" || req.DeviceToken == "" {
		marshaller.WriteDetail(w, http.StatusBadRequest, "device_id and device_token required")
		return req, false
	}
	return req, true
}

// writeDeviceError keeps the CLI endpoints' legacy lowercase detail.
func (h *APIHandler) writeDeviceError(w http.ResponseWriter, err error) {
	if pe, ok := model.AsError(err); ok && pe.Kind == model.ErrDeviceNotFound {
		marshaller.WriteDetail(w, http.StatusNotFound, "device not found")
		return
	}
	marshaller.WriteError(w, h.logger, err)
}
