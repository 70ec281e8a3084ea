package marshaller

import (
	"time"

	"github.com/telewake/relay-service/internal/domain/model"
)

// MessageDTO is one drained envelope as the pull surface renders it.
// The packet field duplicates payload for older pollers that still
// read the legacy name.
type MessageDTO struct {
	DeviceID    string `json:"device_id"`
	MessageType string `json:"message_type"`
	Packet      string `json:"packet"`
	Payload     string `json:"payload"`
	Signature   string `json:"signature"`
	Direction   string `json:"direction"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// MessagesResponse is the top-level pull batch.
type MessagesResponse struct {
	Status   string       `json:"status"`
	DeviceID string       `json:"device_id"`
	Messages []MessageDTO `json:"messages"`
	Count    int          `json:"count"`
}

// MarshallEnvelopes converts drained envelopes into a single response
// batch, oldest first, as they came out of the queue.
func MarshallEnvelopes(deviceID string, envs []model.Envelope) MessagesResponse {
	res := MessagesResponse{
		Status:   "ok",
		DeviceID: deviceID,
		Messages: make([]MessageDTO, 0, len(envs)),
	}

	for _, env := range envs {
		dto := MessageDTO{
			DeviceID:    env.DeviceID,
			MessageType: string(env.Type),
			Packet:      env.Payload,
			Payload:     env.Payload,
			Signature:   env.Signature,
			Direction:   string(env.Direction),
		}
		if !env.Timestamp.IsZero() {
			dto.Timestamp = env.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		res.Messages = append(res.Messages, dto)
	}

	res.Count = len(res.Messages)
	return res
}
