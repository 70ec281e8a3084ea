package lp

import "go.uber.org/fx"

// The REST surface mounts Poll under its authenticated route group, so
// this module only provides the handler.
var Module = fx.Module("delivery-lp",
	fx.Provide(
		NewLPHandler,
	),
)
