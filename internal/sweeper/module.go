package sweeper

import (
	"context"
	"log/slog"

	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(
		func(store storage.Store, cfg *config.Config, logger *slog.Logger) *Sweeper {
			return New(store, cfg, logger)
		},
	),

	// [LIFECYCLE] Run the sweep loop for the life of the process
	fx.Invoke(func(lc fx.Lifecycle, s *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)
