package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/buildinfo"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/logger"
)

func TestInitDisabled(t *testing.T) {
	t.Parallel()

	flush, err := Init(conf.TelemetrySettings{}, buildinfo.New("v1", ""), logger.NewDiscardLogger())
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := sentry.NewEvent()
	event.ServerName = "turntable-pi"
	event.User = sentry.User{IPAddress: "192.168.1.20"}
	event.Message = "no PCM for F4:04:4C:1A:E5:B9"
	event.Exception = []sentry.Exception{{Type: "Capture Error", Value: "send to telegram://token@telegram failed"}}
	event.Contexts["os"] = sentry.Context{"name": "linux"}
	event.Extra["component"] = "capture"
	event.Extra["hostname"] = "turntable-pi"
	event.Tags["hostname"] = "turntable-pi"
	event.Tags["category"] = "capture"

	got := applyPrivacyFilters(event)

	assert.Empty(t, got.ServerName)
	assert.Equal(t, sentry.User{}, got.User)
	assert.NotContains(t, got.Message, "1A:E5:B9")
	assert.NotContains(t, got.Exception[0].Value, "token@")
	assert.NotContains(t, got.Contexts, "os")
	assert.Contains(t, got.Extra, "component")
	assert.NotContains(t, got.Extra, "hostname")
	assert.NotContains(t, got.Tags, "hostname")
	assert.Equal(t, "capture", got.Tags["category"])
}
