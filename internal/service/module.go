package service

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			NewRelayService,
			fx.As(new(Relayer)),
		),
		fx.Annotate(
			NewAuthService,
			fx.As(new(Auther)),
		),
		fx.Annotate(
			NewDeviceService,
			fx.As(new(Devicer)),
		),
		fx.Annotate(
			NewStatsService,
			fx.As(new(Statser)),
		),
	),
)

// DecorateRelayer wraps the relay engine with outcome logging. It is
// installed at the app root so every consumer, transports included,
// sees the decorated value.
func DecorateRelayer(orig Relayer, logger *slog.Logger) Relayer {
	return &RelayMiddleware{
		Next:   orig,
		Logger: logger,
	}
}
