package service

import (
	"encoding/json"
	"strings"

	"github.com/telewake/relay-service/internal/domain/model"
)

// ParsePacket decodes and validates an outer envelope. The payload and
// signature stay opaque; only the envelope shape and version are
// checked here.
func ParsePacket(raw []byte) (model.Packet, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return model.Packet{}, model.NewError(model.ErrInvalidJSON, "Invalid JSON")
	}

	var pkt model.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		return model.Packet{}, model.NewError(model.ErrInvalidPacket, "Malformed packet fields")
	}

	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"device_id", pkt.DeviceID},
		{"payload", pkt.Payload},
		{"signature", pkt.Signature},
		{"version", pkt.Version},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.Packet{}, model.NewErrorf(model.ErrInvalidPacket,
			"Missing required fields: %s", strings.Join(missing, ", "))
	}

	if pkt.Version != model.ProtocolVersion {
		return model.Packet{}, model.NewErrorf(model.ErrUnsupportedVersion,
			"Unsupported protocol version: %s", pkt.Version)
	}
	return pkt, nil
}
