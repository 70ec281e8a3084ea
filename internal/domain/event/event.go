package event

// TopicEnvelopeQueued carries queued-envelope hints between relay
// nodes. The hint tells long-pollers to re-check the database; the
// envelope itself never rides the bus.
const TopicEnvelopeQueued = "relay.envelope.queued"

// EnvelopeQueued announces that an envelope was appended for a device
// in the given direction.
type EnvelopeQueued struct {
	DeviceID  string `json:"device_id"`
	Direction string `json:"direction"`
}
