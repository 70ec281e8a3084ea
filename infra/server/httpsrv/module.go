package httpsrv

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("http",
	fx.Provide(New),

	// [LIFECYCLE] Bind after every handler has mounted its routes
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return s.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
