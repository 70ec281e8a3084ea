package registry

// Stream is one side of a live push connection. Implementations must
// tolerate concurrent Send calls; the registry never invokes Send or
// Close while holding its lock.
type Stream interface {
	Send(frame []byte) error
	Close() error
}
