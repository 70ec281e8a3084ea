package model

import "time"

// Device is an endpoint owned by a user. The device token is minted at
// registration for the device's own use; relay calls authenticate with
// the owner's API token instead.
type Device struct {
	DeviceID           string
	UserID             int64
	DeviceToken        string
	Cloud              bool
	Added              time.Time
	LastSeen           time.Time
	PollCount          int64
	LastRequestCounter int64
}

// SeenWithin reports whether the device checked in during the window
// ending at now. Devices with no recorded check-in are never "seen".
func (d Device) SeenWithin(window time.Duration, now time.Time) bool {
	if d.LastSeen.IsZero() {
		return false
	}
	return now.Sub(d.LastSeen) < window
}
