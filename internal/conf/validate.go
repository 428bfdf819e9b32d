// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Capture backends
const (
	BackendBlueALSA = "bluealsa"
	BackendCommand  = "command"
	BackendDevice   = "device"
)

var captureBackends = []string{BackendBlueALSA, BackendCommand, BackendDevice}

func isKnownBackend(name string) bool {
	return slices.Contains(captureBackends, strings.ToLower(name))
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateBufferSettings(&settings.Buffer)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateStreamSettings(&settings.Stream)...)
	ve.Errors = append(ve.Errors, validateServerSettings(&settings.Server)...)
	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBufferSettings(b *BufferSettings) []string {
	var errs []string
	if b.SizeMB <= 0 {
		errs = append(errs, "buffer.size_mb must be greater than 0")
	}
	if b.ChunkSize <= 0 {
		errs = append(errs, "buffer.chunk_size must be greater than 0")
	}
	if b.HeadroomChunks < 0 {
		errs = append(errs, "buffer.headroom_chunks must not be negative")
	}
	if b.PrebufferPercent < 0 || b.PrebufferPercent > 100 {
		errs = append(errs, "buffer.prebuffer_percent must be between 0 and 100")
	}
	if len(errs) == 0 && b.MaxChunks() < 1 {
		errs = append(errs, "buffer must hold at least one chunk")
	}
	return errs
}

func validateAudioSettings(a *AudioSettings) []string {
	var errs []string
	if a.SampleRate <= 0 {
		errs = append(errs, "audio.sample_rate must be greater than 0")
	}
	if a.Channels <= 0 {
		errs = append(errs, "audio.channels must be greater than 0")
	}
	switch a.BitDepth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Sprintf("audio.bit_depth %d is not supported, use 8, 16, 24 or 32", a.BitDepth))
	}
	return errs
}

func validateStreamSettings(s *StreamSettings) []string {
	var errs []string
	if s.StartupTimeout < 0 || s.RefillTimeout < 0 || s.RetryDelay < 0 {
		errs = append(errs, "stream timeouts must not be negative")
	}
	if s.LogEveryChunks < 0 {
		errs = append(errs, "stream.log_every_chunks must not be negative")
	}
	return errs
}

func validateServerSettings(s *ServerSettings) []string {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d must be between 1 and 65535", s.Port))
	}
	if s.MaxListeners < 1 {
		errs = append(errs, "server.max_listeners must be at least 1")
	}
	if s.ConnectRate <= 0 {
		errs = append(errs, "server.connect_rate must be greater than 0")
	}
	if s.ConnectBurst < 1 {
		errs = append(errs, "server.connect_burst must be at least 1")
	}
	return errs
}

func validateCaptureSettings(c *CaptureSettings) []string {
	var errs []string
	c.Backend = strings.ToLower(c.Backend)
	if !isKnownBackend(c.Backend) {
		errs = append(errs, fmt.Sprintf("capture.backend %q must be one of %s", c.Backend, strings.Join(captureBackends, ", ")))
	}
	if c.RestartDelay < 0 || c.MaxRestartDelay < 0 {
		errs = append(errs, "capture restart delays must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, "capture.backoff_multiplier must be at least 1.0")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "capture.max_retries must not be negative")
	}

	switch c.Backend {
	case BackendBlueALSA:
		if c.Bluetooth.MAC == "" && !c.Bluetooth.AutoDiscover {
			errs = append(errs, "capture.bluetooth.mac is required unless auto_discover is enabled")
		}
		if c.Bluetooth.MAC != "" && !macPattern.MatchString(c.Bluetooth.MAC) {
			errs = append(errs, fmt.Sprintf("capture.bluetooth.mac %q is not a valid Bluetooth address", c.Bluetooth.MAC))
		}
	case BackendCommand:
		if c.Command.Path == "" {
			errs = append(errs, "capture.command.path is required for the command backend")
		}
	}
	return errs
}

func validateMQTTSettings(m *MQTTSettings) []string {
	if !m.Enabled {
		return nil
	}
	var errs []string
	u, err := url.Parse(m.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a URL like tcp://host:1883", m.Broker))
	}
	if m.Topic == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}
	if m.Interval <= 0 {
		errs = append(errs, "mqtt.interval must be greater than 0")
	}
	return errs
}
