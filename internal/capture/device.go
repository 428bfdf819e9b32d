package capture

import (
	"context"
	"encoding/hex"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/wavstream"
)

// deviceBufferSeconds sizes the hand-off ring between the audio callback and readers
const deviceBufferSeconds = 2

// DeviceInfo describes a local capture device.
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// DeviceSource captures from a local sound device through miniaudio, for
// setups where the Bluetooth stream is exposed as an ALSA capture device.
type DeviceSource struct {
	deviceName string
	format     wavstream.Format
	log        logger.Logger
}

// NewDeviceSource creates a device source. An empty name selects the system default.
func NewDeviceSource(deviceName string, format wavstream.Format, log logger.Logger) *DeviceSource {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	return &DeviceSource{deviceName: deviceName, format: format, log: log}
}

// Name returns the source name
func (d *DeviceSource) Name() string {
	return "device"
}

func platformBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// ListDevices enumerates capture devices.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("operation", "init_audio_context").
			Build()
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("operation", "list_devices").
			Build()
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// decodeDeviceID turns the hex device ID miniaudio reports into the ALSA name.
func decodeDeviceID(hexID string) string {
	decoded, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	return strings.TrimRight(string(decoded), "\x00")
}

// matchDevice picks the device whose ALSA ID equals name or whose description contains it.
func matchDevice(devices []DeviceInfo, name string) (DeviceInfo, bool) {
	for _, d := range devices {
		if d.ID == name || strings.Contains(d.Name, name) {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// Start opens the device and begins capture.
func (d *DeviceSource) Start(ctx context.Context) (io.ReadCloser, error) {
	mctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, func(message string) {
		d.log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("operation", "init_audio_context").
			Build()
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)
	cfg.Alsa.NoMMap = 1

	selected := "default"
	if d.deviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			releaseContext(mctx)
			return nil, errors.New(err).
				Component("capture").
				Category(errors.CategoryCapture).
				Context("operation", "list_devices").
				Build()
		}
		devices := make([]DeviceInfo, 0, len(infos))
		for i := range infos {
			devices = append(devices, DeviceInfo{Index: i, Name: infos[i].Name(), ID: decodeDeviceID(infos[i].ID.String())})
		}
		match, found := matchDevice(devices, d.deviceName)
		if !found {
			releaseContext(mctx)
			return nil, errors.Newf("capture device %q not found", d.deviceName).
				Component("capture").
				Category(errors.CategoryNotFound).
				Context("available_devices", len(infos)).
				Build()
		}
		cfg.Capture.DeviceID = infos[match.Index].ID.Pointer()
		selected = match.Name
	}

	stream := &deviceStream{
		ctx:     ctx,
		mctx:    mctx,
		rb:      ringbuffer.New(d.format.BytesPerSecond() * deviceBufferSeconds),
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
		log:     d.log,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: stream.onData,
		Stop: stream.onStop,
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		releaseContext(mctx)
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("operation", "init_device").
			Context("device", selected).
			Build()
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(mctx)
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("operation", "start_device").
			Context("device", selected).
			Build()
	}

	d.log.Info("capturing from sound device",
		logger.String("device", selected),
		logger.Int("sample_rate", d.format.SampleRate),
		logger.Int("channels", d.format.Channels))
	return stream, nil
}

func releaseContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// deviceStream turns malgo callbacks into a blocking reader.
type deviceStream struct {
	ctx    context.Context
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rb     *ringbuffer.RingBuffer
	log    logger.Logger

	notify    chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func (s *deviceStream) onData(_, samples []byte, _ uint32) {
	n, err := s.rb.Write(samples)
	if err != nil || n < len(samples) {
		if s.dropped.Add(uint64(len(samples)-n)) == uint64(len(samples)-n) {
			s.log.Warn("device capture overrun, reader is not keeping up")
		}
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *deviceStream) onStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Read blocks until audio is available, the device stops or ctx ends.
func (s *deviceStream) Read(p []byte) (int, error) {
	for {
		n, err := s.rb.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		select {
		case <-s.notify:
		case <-s.stopped:
			if s.rb.IsEmpty() {
				return 0, io.EOF
			}
		case <-s.ctx.Done():
			return 0, io.EOF
		}
	}
}

// Close stops the device and frees the miniaudio context.
func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		releaseContext(s.mctx)
		if dropped := s.dropped.Load(); dropped > 0 {
			s.log.Warn("device capture dropped audio", logger.Uint64("bytes", dropped))
		}
	})
	return nil
}
