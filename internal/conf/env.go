// env.go - environment variable bindings
package conf

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps an environment variable onto a viper key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"capture.bluetooth.mac", "BLUETOOTH_MAC", validateEnvMAC},
		{"capture.backend", "RELAY_CAPTURE_BACKEND", validateEnvBackend},
		{"server.port", "RELAY_PORT", validateEnvPort},
		{"logging.console.level", "RELAY_LOG_LEVEL", validateEnvLogLevel},
		{"debug", "RELAY_DEBUG", validateEnvBool},
		{"mqtt.broker", "RELAY_MQTT_BROKER", nil},
		{"mqtt.username", "RELAY_MQTT_USERNAME", nil},
		{"mqtt.password", "RELAY_MQTT_PASSWORD", nil},
		{"telemetry.dsn", "RELAY_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every variable and validates those that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:_-]){5}[0-9A-Fa-f]{2}$`)

func validateEnvMAC(value string) error {
	if !macPattern.MatchString(value) {
		return fmt.Errorf("expected six hex octets like F4:04:4C:1A:E5:B9")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvBackend(value string) error {
	if !isKnownBackend(value) {
		return fmt.Errorf("must be one of %s", strings.Join(captureBackends, ", "))
	}
	return nil
}
