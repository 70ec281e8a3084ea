package model

import "time"

// Envelope is a durably queued packet waiting for an offline peer.
// Timestamps keep nanosecond precision so FIFO ties never reorder;
// the store orders by (timestamp, id).
type Envelope struct {
	ID          int64
	DeviceID    string
	DeviceToken string
	Type        MessageType
	Payload     string
	Signature   string
	Direction   Direction
	Timestamp   time.Time
}

// NewEnvelope captures a packet for the durable queue.
func NewEnvelope(dir Direction, deviceToken string, pkt Packet) Envelope {
	return Envelope{
		DeviceID:    pkt.DeviceID,
		DeviceToken: deviceToken,
		Type:        dir.MessageType(),
		Payload:     pkt.Payload,
		Signature:   pkt.Signature,
		Direction:   dir,
		Timestamp:   time.Now(),
	}
}
