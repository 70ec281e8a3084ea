package registry

import (
	"context"
	"log/slog"

	"github.com/telewake/relay-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Registry {
			return New(
				WithQueueDepth(cfg.QueueDepth),
				WithLogger(logger),
			)
		},
		fx.Annotate(
			func(r *Registry) Registrar { return r },
			fx.As(new(Registrar)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				r.CloseAll()
				return nil
			},
		})
	}),
)
