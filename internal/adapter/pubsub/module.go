package pubsub

import (
	"context"
	"log/slog"

	infrapubsub "github.com/telewake/relay-service/infra/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("bus",
	fx.Provide(
		func(p *infrapubsub.Provider, logger *slog.Logger) *EnvelopeNotifier {
			return NewEnvelopeNotifier(p.Publisher(), p.Subscriber(), logger)
		},
		fx.Annotate(
			func(n *EnvelopeNotifier) Notifier { return n },
			fx.As(new(Notifier)),
		),
	),

	// [LIFECYCLE] Subscribe before the server accepts traffic
	fx.Invoke(func(lc fx.Lifecycle, n *EnvelopeNotifier) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return n.Start()
			},
			OnStop: func(ctx context.Context) error {
				n.Stop()
				return nil
			},
		})
	}),
)
