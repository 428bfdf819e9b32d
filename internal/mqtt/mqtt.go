// Package mqtt publishes relay status to an MQTT broker for home automation
// dashboards.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/turntable-relay/internal/conf"
)

// Availability payloads, published retained on <topic>/availability
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Client defines the MQTT operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, status and availability live below it
	Retain   bool
	Interval time.Duration

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "turntable-relay",
		ClientID:          "turntable-relay",
		Retain:            true,
		Interval:          30 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a Config from application settings.
func ConfigFromSettings(s conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = strings.TrimSuffix(s.Topic, "/")
	}
	if s.Interval > 0 {
		cfg.Interval = s.Interval
	}
	return cfg
}

// StatusTopic is where the JSON status document is published.
func (c Config) StatusTopic() string {
	return c.Topic + "/status"
}

// AvailabilityTopic carries online/offline, including the broker-sent last will.
func (c Config) AvailabilityTopic() string {
	return c.Topic + "/availability"
}
