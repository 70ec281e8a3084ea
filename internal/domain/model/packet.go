package model

// ProtocolVersion is the only outer envelope version the relay accepts.
const ProtocolVersion = "1.0"

// Packet is the outer envelope exchanged with peers. The payload is an
// opaque encrypted blob: the relay validates the envelope shape and
// forwards it verbatim, it never inspects or mutates the inside.
type Packet struct {
	DeviceID       string `json:"device_id"`
	Payload        string `json:"payload"`
	Signature      string `json:"signature"`
	Version        string `json:"version"`
	RequestCounter *int64 `json:"request_counter,omitempty"`
}

// Direction tells which peer a queued envelope is waiting for.
type Direction string

const (
	DirectionToDevice Direction = "to_device"
	DirectionToClient Direction = "to_client"
)

func (d Direction) Valid() bool {
	return d == DirectionToDevice || d == DirectionToClient
}

// MessageType is derived from the direction: commands travel to devices,
// responses travel back to clients.
func (d Direction) MessageType() MessageType {
	if d == DirectionToClient {
		return MessageResponse
	}
	return MessageCommand
}

type MessageType string

const (
	MessageCommand  MessageType = "command"
	MessageResponse MessageType = "response"
)
