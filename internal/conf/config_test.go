package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := LoadFrom(viper.New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 5*1024*1024, settings.Buffer.BudgetBytes())
	assert.Equal(t, 1536, settings.Buffer.MaxChunks())
	assert.Equal(t, 921, settings.Buffer.PrebufferChunks())
	assert.Equal(t, 10*time.Second, settings.Stream.StartupTimeout)
	assert.Equal(t, 100*time.Millisecond, settings.Stream.RetryDelay)
	assert.Equal(t, 80, settings.Server.Port)
	assert.Equal(t, BackendBlueALSA, settings.Capture.Backend)
	assert.Equal(t, DefaultBluetoothMAC, settings.Capture.Bluetooth.MAC)
	assert.Equal(t, 5*time.Second, settings.Capture.RestartDelay)
	assert.Equal(t, 44100, settings.Audio.SampleRate)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	fromDefaults, err := LoadFrom(viper.New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)
	fromEmbedded, err := LoadFrom(viper.New(), writeConfig(t, string(DefaultConfig())))
	require.NoError(t, err)

	fromDefaults.ConfigFile, fromEmbedded.ConfigFile = "", ""
	assert.Equal(t, fromDefaults, fromEmbedded)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
buffer:
  size_mb: 2
  chunk_size: 1024
  headroom_chunks: 0
  prebuffer_percent: 50
stream:
  retry_delay: 250ms
server:
  port: 8080
capture:
  backend: command
  command:
    path: arecord
    args: ["-f", "cd", "-t", "raw"]
`)
	settings, err := LoadFrom(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 2048, settings.Buffer.MaxChunks())
	assert.Equal(t, 1024, settings.Buffer.PrebufferChunks())
	assert.Equal(t, 250*time.Millisecond, settings.Stream.RetryDelay)
	assert.Equal(t, "0.0.0.0:8080", settings.Server.Address())
	assert.Equal(t, []string{"-f", "cd", "-t", "raw"}, settings.Capture.Command.Args)
	assert.Equal(t, path, settings.ConfigFile)
}

func TestBluetoothMACFromEnvironment(t *testing.T) {
	t.Setenv("BLUETOOTH_MAC", "AA:BB:CC:DD:EE:FF")
	t.Setenv("RELAY_PORT", "9000")

	settings, err := LoadFrom(viper.New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", settings.Capture.Bluetooth.MAC)
	assert.Equal(t, 9000, settings.Server.Port)
}

func TestInvalidEnvironmentRejected(t *testing.T) {
	t.Setenv("BLUETOOTH_MAC", "not-a-mac")

	_, err := LoadFrom(viper.New(), writeConfig(t, "{}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLUETOOTH_MAC")
}

func TestDebugRaisesLogLevel(t *testing.T) {
	settings, err := LoadFrom(viper.New(), writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
	assert.Equal(t, "debug", settings.Logging.Console.Level)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := LoadFrom(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), data)

	assert.Error(t, WriteDefaultConfig(path), "existing files are not overwritten")
}

func TestDefaultsMatchLoad(t *testing.T) {
	defaults := Defaults()
	assert.Equal(t, 1536, defaults.Buffer.MaxChunks())
	assert.Equal(t, 921, defaults.Buffer.PrebufferChunks())
	assert.Equal(t, DefaultBluetoothMAC, defaults.Capture.Bluetooth.MAC)
	require.NoError(t, ValidateSettings(defaults))
}

func TestSecretsResolvedOnLoad(t *testing.T) {
	t.Setenv("RELAY_NTFY_TOKEN", "tk_123")

	dir := t.TempDir()
	pwFile := filepath.Join(dir, "mqtt_password")
	require.NoError(t, os.WriteFile(pwFile, []byte("s3cret\n"), 0o600))

	settings, err := LoadFrom(viper.New(), writeConfig(t, `
mqtt:
  enabled: true
  password: ignored
  password_file: `+pwFile+`
notification:
  urls:
    - ntfy://:${RELAY_NTFY_TOKEN}@ntfy.sh/turntable
`))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", settings.MQTT.Password)
	assert.Equal(t, "ntfy://:tk_123@ntfy.sh/turntable", settings.Notification.URLs[0])
}

func TestMissingSecretReferenceFails(t *testing.T) {
	_, err := LoadFrom(viper.New(), writeConfig(t, "notification:\n  urls: [\"gotify://host/${RELAY_UNSET_TOKEN}\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_UNSET_TOKEN")
}
