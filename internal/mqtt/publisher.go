package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// StatusFunc returns the document published on the status topic.
type StatusFunc func() any

// Publisher periodically pushes relay status to the broker.
type Publisher struct {
	client Client
	config Config
	status StatusFunc
	log    logger.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(client Client, config Config, status StatusFunc, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &Publisher{client: client, config: config, status: status, log: log}
}

// Run connects and publishes status every interval until ctx is done. A
// failed initial connect is retried on the next tick, so a missing broker
// never stops the relay. On shutdown the relay is marked offline.
func (p *Publisher) Run(ctx context.Context) error {
	interval := p.config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}

	p.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.log.Warn("MQTT connect failed, retrying next interval",
				logger.String("broker", p.config.Broker),
				logger.Error(err))
			return
		}
	}
	if err := p.PublishStatus(ctx); err != nil {
		p.log.Warn("MQTT status publish failed", logger.Error(err))
	}
}

// PublishStatus publishes one status document.
func (p *Publisher) PublishStatus(ctx context.Context) error {
	payload, err := json.Marshal(p.status())
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal_status").
			Build()
	}
	return p.client.Publish(ctx, p.config.StatusTopic(), payload, p.config.Retain)
}

func (p *Publisher) shutdown() {
	if p.client.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
		defer cancel()
		if err := p.client.Publish(ctx, p.config.AvailabilityTopic(), []byte(PayloadOffline), true); err != nil {
			p.log.Debug("failed to publish offline availability", logger.Error(err))
		}
	}
	p.client.Disconnect()
	p.log.Info("MQTT publisher stopped")
}
