package capture

import (
	"context"
	"io"

	"github.com/tphakala/turntable-relay/internal/bluetooth"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// BlueALSASource captures the A2DP stream of a paired Bluetooth device through
// `bluealsa-cli open <pcm-path>`.
type BlueALSASource struct {
	settings conf.BluetoothSettings
	runner   bluetooth.Runner
	log      logger.Logger

	// newCommand builds the process source, replaced in tests
	newCommand func(path string, args []string) Source
}

// NewBlueALSASource creates a BlueALSA source. runner lists PCMs when the
// device is auto-discovered; nil uses os/exec.
func NewBlueALSASource(settings conf.BluetoothSettings, runner bluetooth.Runner, log logger.Logger) *BlueALSASource {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	if runner == nil {
		runner = bluetooth.ExecRunner{}
	}
	s := &BlueALSASource{settings: settings, runner: runner, log: log}
	s.newCommand = func(path string, args []string) Source {
		cs := NewCommandSource(path, args, log)
		cs.SourceName = s.Name()
		return cs
	}
	return s
}

// Name returns the source name
func (s *BlueALSASource) Name() string {
	return conf.BackendBlueALSA
}

// Start resolves the device and opens its PCM. Discovery runs on every start so
// a turntable that reconnected with another address is picked up.
func (s *BlueALSASource) Start(ctx context.Context) (io.ReadCloser, error) {
	mac, err := s.resolveMAC(ctx)
	if err != nil {
		return nil, err
	}
	pcmPath, err := bluetooth.PCMPath(s.settings.Adapter, mac)
	if err != nil {
		return nil, err
	}

	cli := s.settings.CLIPath
	if cli == "" {
		cli = "bluealsa-cli"
	}
	s.log.Info("opening bluetooth audio",
		logger.String("mac", mac),
		logger.String("pcm", pcmPath))
	return s.newCommand(cli, []string{"open", pcmPath}).Start(ctx)
}

func (s *BlueALSASource) resolveMAC(ctx context.Context) (string, error) {
	if !s.settings.AutoDiscover && s.settings.MAC != "" {
		return bluetooth.NormalizeMAC(s.settings.MAC)
	}
	pcms, err := bluetooth.ListPCMs(ctx, s.runner, s.settings.APlayPath)
	if err != nil {
		return "", err
	}
	pcm, err := bluetooth.Find(pcms, "", s.settings.Profile)
	if err != nil {
		return "", err
	}
	s.log.Info("discovered bluetooth audio source",
		logger.String("mac", pcm.Device),
		logger.String("profile", pcm.Profile))
	return pcm.Device, nil
}
