package cmd

import (
	"log/slog"

	"github.com/telewake/relay-service/config"
	infrapubsub "github.com/telewake/relay-service/infra/pubsub"
	"github.com/telewake/relay-service/infra/server/httpsrv"
	bus "github.com/telewake/relay-service/internal/adapter/pubsub"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/handler/api"
	"github.com/telewake/relay-service/internal/handler/lp"
	"github.com/telewake/relay-service/internal/handler/ws"
	"github.com/telewake/relay-service/internal/service"
	"github.com/telewake/relay-service/internal/storage"
	"github.com/telewake/relay-service/internal/sweeper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),

		// [DECORATION_LAYER] App-wide so every transport sees the
		// logging Relayer
		fx.Decorate(service.DecorateRelayer),

		storage.Module,
		registry.Module,
		infrapubsub.Module,
		bus.Module,
		service.Module,
		lp.Module,
		api.Module,
		ws.Module,
		sweeper.Module,

		// The HTTP server binds last, after every handler has mounted.
		httpsrv.Module,
	)
}
