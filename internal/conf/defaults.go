// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultBluetoothMAC is the turntable paired with the original installation.
const DefaultBluetoothMAC = "F4:04:4C:1A:E5:B9"

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/turntable-relay.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 10)
	v.SetDefault("logging.file_output.max_age", 14)
	v.SetDefault("logging.file_output.max_rotated_files", 5)
	v.SetDefault("logging.file_output.compress", false)

	// 5 MiB budget, 4 KiB reads, 256 chunks of headroom, start playback at 60%
	v.SetDefault("buffer.size_mb", 5)
	v.SetDefault("buffer.chunk_size", 4096)
	v.SetDefault("buffer.headroom_chunks", 256)
	v.SetDefault("buffer.prebuffer_percent", 60)

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.bit_depth", 16)

	v.SetDefault("stream.startup_timeout", 10*time.Second)
	v.SetDefault("stream.refill_timeout", 10*time.Second)
	v.SetDefault("stream.retry_delay", 100*time.Millisecond)
	v.SetDefault("stream.log_every_chunks", 100)
	v.SetDefault("stream.log_interval", 5*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 80)
	v.SetDefault("server.max_listeners", 16)
	v.SetDefault("server.connect_rate", 2.0)
	v.SetDefault("server.connect_burst", 5)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("capture.backend", "bluealsa")
	v.SetDefault("capture.restart_delay", 5*time.Second)
	v.SetDefault("capture.max_restart_delay", time.Minute)
	v.SetDefault("capture.backoff_multiplier", 1.0)
	v.SetDefault("capture.max_retries", 0)
	v.SetDefault("capture.stable_after", 5*time.Second)
	v.SetDefault("capture.log_every_chunks", 100)
	v.SetDefault("capture.log_interval", 10*time.Second)
	v.SetDefault("capture.bluetooth.mac", DefaultBluetoothMAC)
	v.SetDefault("capture.bluetooth.auto_discover", false)
	v.SetDefault("capture.bluetooth.adapter", "hci0")
	v.SetDefault("capture.bluetooth.profile", "a2dp")
	v.SetDefault("capture.bluetooth.cli_path", "bluealsa-cli")
	v.SetDefault("capture.bluetooth.aplay_path", "bluealsa-aplay")
	v.SetDefault("capture.command.path", "")
	v.SetDefault("capture.command.args", []string{})
	v.SetDefault("capture.device.name", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "turntable-relay")
	v.SetDefault("mqtt.client_id", "turntable-relay")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.password_file", "")
	v.SetDefault("mqtt.interval", 30*time.Second)
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.failure_threshold", 3)
	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
}
