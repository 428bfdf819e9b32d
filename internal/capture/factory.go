package capture

import (
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/wavstream"
)

// NewSource builds the source selected by capture.backend.
func NewSource(settings *conf.Settings, log logger.Logger) (Source, error) {
	c := settings.Capture
	switch c.Backend {
	case conf.BackendBlueALSA, "":
		return NewBlueALSASource(c.Bluetooth, nil, log), nil
	case conf.BackendCommand:
		src := NewCommandSource(c.Command.Path, c.Command.Args, log)
		src.SourceName = conf.BackendCommand
		return src, nil
	case conf.BackendDevice:
		return NewDeviceSource(c.Device.Name, FormatFromSettings(settings.Audio), log), nil
	default:
		return nil, errors.Newf("unknown capture backend %q", c.Backend).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// FormatFromSettings converts audio settings to a stream format.
func FormatFromSettings(a conf.AudioSettings) wavstream.Format {
	return wavstream.Format{SampleRate: a.SampleRate, Channels: a.Channels, BitDepth: a.BitDepth}
}

// PolicyFromSettings converts capture settings to a restart policy.
func PolicyFromSettings(c conf.CaptureSettings) RestartPolicy {
	return RestartPolicy{
		Delay:       c.RestartDelay,
		MaxDelay:    c.MaxRestartDelay,
		Multiplier:  c.BackoffMultiplier,
		MaxRetries:  c.MaxRetries,
		StableAfter: c.StableAfter,
	}
}

// ProducerConfigFromSettings builds the producer configuration.
func ProducerConfigFromSettings(settings *conf.Settings) ProducerConfig {
	return ProducerConfig{
		ChunkSize:      settings.Buffer.ChunkSize,
		LogEveryChunks: uint64(max(settings.Capture.LogEveryChunks, 0)),
		LogInterval:    settings.Capture.LogInterval,
	}
}
