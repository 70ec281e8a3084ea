package ws

import "github.com/telewake/relay-service/internal/domain/model"

// Server→peer frames are tagged structs rather than ad-hoc maps so the
// wire shape is pinned down in one place.

// welcomeFrame is the first frame on every successfully opened stream.
type welcomeFrame struct {
	Type            string `json:"type"`
	Status          string `json:"status"`
	DeviceID        string `json:"device_id,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	ProtocolVersion string `json:"protocol_version"`
	Message         string `json:"message"`
}

func deviceWelcome(deviceID string) welcomeFrame {
	return welcomeFrame{
		Type:            "welcome",
		Status:          "connected",
		DeviceID:        deviceID,
		ProtocolVersion: model.ProtocolVersion,
		Message:         "Device WebSocket connection established",
	}
}

func clientWelcome(clientID string) welcomeFrame {
	return welcomeFrame{
		Type:            "welcome",
		Status:          "connected",
		ClientID:        clientID,
		ProtocolVersion: model.ProtocolVersion,
		Message:         "Client WebSocket connection established",
	}
}

// errorFrame reports a protocol error. Whether the stream survives is
// the caller's decision, not the frame's.
type errorFrame struct {
	Status  string          `json:"status"`
	Error   model.ErrorKind `json:"error"`
	Message string          `json:"message,omitempty"`
}

func newErrorFrame(err *model.Error) errorFrame {
	return errorFrame{Status: "error", Error: err.Kind, Message: err.Message}
}

// ackFrame confirms a client command: either handed to the live device
// stream or parked in the durable queue.
type ackFrame struct {
	Status    string `json:"status"`
	DeviceID  string `json:"device_id"`
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued"`
	Message   string `json:"message"`
}

func newAck(deviceID string, delivered bool) ackFrame {
	msg := "Device offline, queued"
	if delivered {
		msg = "Delivered to device"
	}
	return ackFrame{
		Status:    "success",
		DeviceID:  deviceID,
		Delivered: delivered,
		Queued:    !delivered,
		Message:   msg,
	}
}

// authFrame is the client handshake message.
type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

const authHint = `Authentication required. Send: {"type": "auth", "token": "<api_token>"}`
