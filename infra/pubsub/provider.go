package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/telewake/relay-service/config"
)

// Provider owns the bus transport. Without a broker URL the relay runs
// on an in-process channel, which keeps single-node deployments free of
// external moving parts; with AMQP_URL set every node sees every hint.
type Provider struct {
	pub message.Publisher
	sub message.Subscriber
}

func New(cfg *config.Config, logger *slog.Logger) (*Provider, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if cfg.AMQPURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		return &Provider{pub: ch, sub: ch}, nil
	}

	// Pub/sub fanout: each node binds its own queue per topic so a hint
	// published anywhere wakes long-pollers everywhere.
	node := uuid.NewString()[:8]
	amqpConfig := amqp.NewNonDurablePubSubConfig(cfg.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix("."+node))

	pub, err := amqp.NewPublisher(amqpConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(amqpConfig, wmLogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}

	logger.Info("bus connected", "transport", "amqp", "node", node)
	return &Provider{pub: pub, sub: sub}, nil
}

func (p *Provider) Publisher() message.Publisher   { return p.pub }
func (p *Provider) Subscriber() message.Subscriber { return p.sub }

func (p *Provider) Close() error {
	err := p.pub.Close()
	if any(p.sub) != any(p.pub) {
		if serr := p.sub.Close(); err == nil {
			err = serr
		}
	}
	return err
}
