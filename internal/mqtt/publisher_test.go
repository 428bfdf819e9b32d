package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connects     int
	disconnected bool
	messages     []published
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://localhost:1883"
	cfg.Topic = "home/turntable"
	cfg.Interval = 10 * time.Millisecond
	cfg.PublishTimeout = time.Second
	return cfg
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(conf.MQTTSettings{
		Broker:   "tcp://broker:1883",
		Topic:    "living/turntable/",
		Username: "user",
		Interval: time.Minute,
		Retain:   true,
	})

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "living/turntable/status", cfg.StatusTopic())
	assert.Equal(t, "living/turntable/availability", cfg.AvailabilityTopic())
	assert.Equal(t, "turntable-relay", cfg.ClientID)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.True(t, cfg.Retain)
}

func TestPublishStatus(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	p := NewPublisher(fc, testConfig(), func() any {
		return map[string]int{"buffer_chunks": 12}
	}, logger.NewDiscardLogger())

	require.NoError(t, p.PublishStatus(t.Context()))

	msgs := fc.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "home/turntable/status", msgs[0].topic)
	assert.True(t, msgs[0].retain)

	var doc map[string]int
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &doc))
	assert.Equal(t, 12, doc["buffer_chunks"])
}

func TestPublishStatusMarshalError(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	p := NewPublisher(fc, testConfig(), func() any { return make(chan int) }, logger.NewDiscardLogger())

	err := p.PublishStatus(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.Empty(t, fc.snapshot())
}

func TestRunPublishesAndGoesOffline(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	p := NewPublisher(fc, testConfig(), func() any { return map[string]string{"state": "running"} }, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fc.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msgs := fc.snapshot()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "home/turntable/availability", last.topic)
	assert.Equal(t, PayloadOffline, last.payload)
	assert.True(t, last.retain)
	for _, m := range msgs[:len(msgs)-1] {
		assert.Equal(t, "home/turntable/status", m.topic)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.True(t, fc.disconnected)
	assert.Equal(t, 1, fc.connects)
}

func TestRunRetriesConnect(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connectErr: errors.NewStd("connection refused")}
	p := NewPublisher(fc, testConfig(), func() any { return nil }, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.connects >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, fc.snapshot(), "nothing is published while disconnected")
}

func TestClientPublishRequiresConnection(t *testing.T) {
	t.Parallel()

	c := NewClient(testConfig(), nil, logger.NewDiscardLogger())
	assert.False(t, c.IsConnected())

	err := c.Publish(t.Context(), "home/turntable/status", []byte("{}"), false)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	// disconnect before connect is a no-op
	c.Disconnect()
}
