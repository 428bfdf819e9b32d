package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level" json:"default_level"`
	Timezone     string            `yaml:"timezone" mapstructure:"timezone" json:"timezone"` // "Local", "UTC" or an IANA name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console" json:"console"`
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output" json:"file_output"`
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"`
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; journald and Docker add their own.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// FileOutput represents file logging configuration. Files are JSON lines.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path            string `yaml:"path" mapstructure:"path" json:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size" json:"max_size"` // MB before rotation
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age" json:"max_age"`    // days
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files" json:"max_rotated_files"`
	Compress        bool   `yaml:"compress" mapstructure:"compress" json:"compress"`
	Level           string `yaml:"level" mapstructure:"level" json:"level"`
}

const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/turntable-relay.log"
	DefaultMaxSize         = 10
	DefaultMaxAge          = 14
	DefaultMaxRotatedFiles = 5
)

// applyConfigDefaults fills in nil sections so an empty config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput != nil {
		if cfg.FileOutput.Path == "" {
			cfg.FileOutput.Path = DefaultLogPath
		}
		if cfg.FileOutput.Level == "" {
			cfg.FileOutput.Level = cfg.DefaultLevel
		}
		if cfg.FileOutput.MaxSize <= 0 {
			cfg.FileOutput.MaxSize = DefaultMaxSize
		}
	}
}
