package registry

import "log/slog"

// DefaultQueueDepth caps each target's in-memory queue when no override
// is configured.
const DefaultQueueDepth = 512

// Option defines a functional configuration type for the Registry.
type Option func(*Registry)

// WithQueueDepth installs the per-target queue cap. The function is
// consulted on every enqueue so configuration reloads apply live.
func WithQueueDepth(depth func() int) Option {
	return func(r *Registry) {
		if depth != nil {
			r.depth = depth
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}
