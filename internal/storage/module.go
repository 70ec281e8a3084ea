package storage

import (
	"context"

	"github.com/telewake/relay-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("storage",
	fx.Provide(
		func(cfg *config.Config) (*SQLite, error) {
			return Open(cfg.DatabaseFile)
		},
		fx.Annotate(
			func(s *SQLite) Store { return s },
			fx.As(new(Store)),
		),
	),

	// [LIFECYCLE] Schema and seed config on startup, close the pool on shutdown
	fx.Invoke(func(lc fx.Lifecycle, s *SQLite, cfg *config.Config) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := s.Migrate(ctx); err != nil {
					return err
				}
				return s.EnsureConfig(ctx, BaseURLKey, cfg.BaseURL())
			},
			OnStop: func(ctx context.Context) error {
				return s.Close()
			},
		})
	}),
)
