package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/observability/metrics"
)

// client implements Client with paho. Paho reconnects on its own; the last
// will marks the relay offline if the connection drops uncleanly.
type client struct {
	config  Config
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	mu             sync.Mutex
	internalClient paho.Client
}

// NewClient creates a paho-backed client. metrics may be nil.
func NewClient(config Config, m *metrics.MQTTMetrics, log logger.Logger) Client {
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{config: config, metrics: m, log: log}
}

// Connect establishes the broker connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil {
		opts := paho.NewClientOptions()
		opts.AddBroker(c.config.Broker)
		opts.SetClientID(c.config.ClientID)
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		opts.SetCleanSession(true)
		opts.SetAutoReconnect(true)
		opts.SetConnectTimeout(c.config.ConnectTimeout)
		opts.SetWill(c.config.AvailabilityTopic(), PayloadOffline, 1, true)
		opts.SetOnConnectHandler(c.onConnect)
		opts.SetConnectionLostHandler(c.onConnectionLost)
		opts.SetReconnectingHandler(c.onReconnecting)
		c.internalClient = paho.NewClient(opts)
	}

	token := c.internalClient.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Context("broker", c.config.Broker).
			Build()
	}
	return nil
}

// Publish sends payload with QoS 1.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	var timer *metrics.PublishTimer
	if c.metrics != nil {
		timer = c.metrics.StartPublishTimer()
	}

	c.mu.Lock()
	token := c.internalClient.Publish(topic, 1, retain, payload)
	c.mu.Unlock()

	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		timer.ObserveDuration()
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObserveMessageSize(float64(len(payload)))
	}
	return nil
}

// IsConnected returns true if the client is currently connected.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient == nil {
		return
	}
	c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds())) //nolint:gosec // small positive duration
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *client) onConnect(pc paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	// announce availability on every (re)connect, replacing the last will
	pc.Publish(c.config.AvailabilityTopic(), 1, true, PayloadOnline)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.String("broker", c.config.Broker), logger.Error(err))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.IncrementErrors()
	}
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	if c.metrics != nil {
		c.metrics.IncrementReconnectAttempts()
	}
}

// waitToken waits for a paho token, the timeout or ctx, whichever comes first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-timeoutCh:
		return errors.NewStd("operation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
