package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/turntable-relay/internal/conf"
)

func TestShowRedactsSecrets(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.MQTT.Password = "hunter2"
	settings.Telemetry.DSN = "https://abc123@o1.ingest.sentry.io/42"
	settings.Notification.URLs = []string{"ntfy://ntfy.sh/secret-topic"}
	settings.ConfigFile = "/etc/turntable-relay/config.yaml"

	var out bytes.Buffer
	require.NoError(t, Show(&out, settings))

	text := out.String()
	assert.Contains(t, text, "# loaded from /etc/turntable-relay/config.yaml")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "abc123")
	assert.NotContains(t, text, "secret-topic")

	// caller's settings are untouched
	assert.Equal(t, "ntfy://ntfy.sh/secret-topic", settings.Notification.URLs[0])

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, doc, "buffer")
	assert.Contains(t, doc, "capture")
}

func TestInitWritesDefaultConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cmd := Command(conf.Defaults())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{InitName, path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, conf.DefaultConfig(), data)
	assert.Contains(t, out.String(), path)

	// refuses to overwrite
	cmd.SetArgs([]string{InitName, path})
	require.Error(t, cmd.Execute())
}
