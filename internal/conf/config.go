// Package conf loads turntable-relay settings from defaults, an optional YAML file and the environment.
package conf

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/secrets"
)

//go:embed config.yaml
var defaultConfigYAML []byte

const bytesPerMiB = 1024 * 1024

// Settings is the root configuration
type Settings struct {
	Debug        bool                 `yaml:"debug" mapstructure:"debug"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Buffer       BufferSettings       `yaml:"buffer" mapstructure:"buffer"`
	Audio        AudioSettings        `yaml:"audio" mapstructure:"audio"`
	Stream       StreamSettings       `yaml:"stream" mapstructure:"stream"`
	Server       ServerSettings       `yaml:"server" mapstructure:"server"`
	Capture      CaptureSettings      `yaml:"capture" mapstructure:"capture"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`

	// ConfigFile is the file the settings were read from, empty when only defaults were used.
	ConfigFile string `yaml:"-" mapstructure:"-"`
}

// BufferSettings sizes the audio ring buffer
type BufferSettings struct {
	SizeMB           int `yaml:"size_mb" mapstructure:"size_mb"`                     // byte budget in MiB
	ChunkSize        int `yaml:"chunk_size" mapstructure:"chunk_size"`               // bytes per capture read
	HeadroomChunks   int `yaml:"headroom_chunks" mapstructure:"headroom_chunks"`     // chunks allowed above the budget
	PrebufferPercent int `yaml:"prebuffer_percent" mapstructure:"prebuffer_percent"` // of max chunks
}

// BudgetBytes is the nominal byte capacity
func (b BufferSettings) BudgetBytes() int {
	return b.SizeMB * bytesPerMiB
}

// MaxChunks is the hard chunk-count capacity
func (b BufferSettings) MaxChunks() int {
	if b.ChunkSize <= 0 {
		return b.HeadroomChunks
	}
	return b.BudgetBytes()/b.ChunkSize + b.HeadroomChunks
}

// PrebufferChunks is the readiness threshold
func (b BufferSettings) PrebufferChunks() int {
	return b.MaxChunks() * b.PrebufferPercent / 100
}

// AudioSettings describes the PCM produced by the capture source
type AudioSettings struct {
	SampleRate int `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels   int `yaml:"channels" mapstructure:"channels"`
	BitDepth   int `yaml:"bit_depth" mapstructure:"bit_depth"`
}

// StreamSettings controls each listener session
type StreamSettings struct {
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	RefillTimeout  time.Duration `yaml:"refill_timeout" mapstructure:"refill_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	LogEveryChunks int           `yaml:"log_every_chunks" mapstructure:"log_every_chunks"`
	LogInterval    time.Duration `yaml:"log_interval" mapstructure:"log_interval"`
}

// ServerSettings configures the HTTP server
type ServerSettings struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	MaxListeners    int           `yaml:"max_listeners" mapstructure:"max_listeners"`
	ConnectRate     float64       `yaml:"connect_rate" mapstructure:"connect_rate"` // new streams per second
	ConnectBurst    int           `yaml:"connect_burst" mapstructure:"connect_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Address returns host:port for the listener
func (s ServerSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CaptureSettings selects and supervises the audio producer
type CaptureSettings struct {
	Backend           string            `yaml:"backend" mapstructure:"backend"` // bluealsa, command or device
	RestartDelay      time.Duration     `yaml:"restart_delay" mapstructure:"restart_delay"`
	MaxRestartDelay   time.Duration     `yaml:"max_restart_delay" mapstructure:"max_restart_delay"`
	BackoffMultiplier float64           `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	MaxRetries        int               `yaml:"max_retries" mapstructure:"max_retries"` // 0 = forever
	StableAfter       time.Duration     `yaml:"stable_after" mapstructure:"stable_after"`
	LogEveryChunks    int               `yaml:"log_every_chunks" mapstructure:"log_every_chunks"`
	LogInterval       time.Duration     `yaml:"log_interval" mapstructure:"log_interval"`
	Bluetooth         BluetoothSettings `yaml:"bluetooth" mapstructure:"bluetooth"`
	Command           CommandSettings   `yaml:"command" mapstructure:"command"`
	Device            DeviceSettings    `yaml:"device" mapstructure:"device"`
}

// BluetoothSettings configures the BlueALSA capture backend
type BluetoothSettings struct {
	MAC          string `yaml:"mac" mapstructure:"mac"`
	AutoDiscover bool   `yaml:"auto_discover" mapstructure:"auto_discover"`
	Adapter      string `yaml:"adapter" mapstructure:"adapter"`
	Profile      string `yaml:"profile" mapstructure:"profile"`
	CLIPath      string `yaml:"cli_path" mapstructure:"cli_path"`
	APlayPath    string `yaml:"aplay_path" mapstructure:"aplay_path"`
}

// CommandSettings configures an arbitrary PCM-producing command
type CommandSettings struct {
	Path string   `yaml:"path" mapstructure:"path"`
	Args []string `yaml:"args" mapstructure:"args"`
}

// DeviceSettings configures direct capture from a local sound device
type DeviceSettings struct {
	Name string `yaml:"name" mapstructure:"name"` // empty selects the system default
}

// MQTTSettings configures the optional status publisher
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// PasswordFile takes precedence over Password
	PasswordFile string        `yaml:"password_file" mapstructure:"password_file"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	Retain       bool          `yaml:"retain" mapstructure:"retain"`
}

// NotificationSettings configures shoutrrr alerts
type NotificationSettings struct {
	URLs             []string      `yaml:"urls" mapstructure:"urls"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MetricsSettings toggles the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// TelemetrySettings configures Sentry error reporting
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// Load reads settings through the global viper instance, which carries cobra flag bindings.
func Load(configFile string) (*Settings, error) {
	return LoadFrom(viper.GetViper(), configFile)
}

// LoadFrom reads settings through v. configFile may be empty to search the default paths.
func LoadFrom(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	usedFile, err := readConfig(v, configFile)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = usedFile

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveSecrets expands credential references in place.
func resolveSecrets(settings *Settings) error {
	var err error
	if settings.MQTT.Enabled {
		if settings.MQTT.Password, err = secrets.Resolve(settings.MQTT.PasswordFile, settings.MQTT.Password); err != nil {
			return fmt.Errorf("mqtt password: %w", err)
		}
	}
	for i, u := range settings.Notification.URLs {
		if settings.Notification.URLs[i], err = secrets.ExpandString(u); err != nil {
			return fmt.Errorf("notification url %d: %w", i+1, err)
		}
	}
	if settings.Telemetry.Enabled {
		if settings.Telemetry.DSN, err = secrets.ExpandString(settings.Telemetry.DSN); err != nil {
			return fmt.Errorf("telemetry dsn: %w", err)
		}
	}
	return nil
}

// readConfig merges the config file into v. A missing file in the search paths is not an error.
func readConfig(v *viper.Viper, configFile string) (string, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("fatal error reading config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// DefaultConfigPaths lists the directories searched for config.yaml, in order.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "turntable-relay"))
	}
	return append(paths, "/etc/turntable-relay")
}

// Defaults returns the built-in settings, ignoring config files and the environment.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		panic(fmt.Sprintf("default settings do not unmarshal: %v", err))
	}
	return settings
}

// DefaultConfig returns the embedded default config.yaml
func DefaultConfig() []byte {
	return bytes.Clone(defaultConfigYAML)
}

// WriteDefaultConfig writes the embedded default configuration to path, refusing to overwrite.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, defaultConfigYAML, 0o644); err != nil {
		return fmt.Errorf("error writing default config: %w", err)
	}
	return nil
}
