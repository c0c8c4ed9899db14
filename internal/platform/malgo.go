package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/gen2brain/malgo"
)

// Miniaudio captures microphones through malgo
type Miniaudio struct {
	sampleRate int
	channels   int
}

// NewMiniaudio creates a microphone backend for the given capture format
func NewMiniaudio(sampleRate, channels int) *Miniaudio {
	return &Miniaudio{sampleRate: sampleRate, channels: channels}
}

func initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// ListInputDevices enumerates capture devices
func (m *Miniaudio) ListInputDevices(ctx context.Context) ([]audio.Device, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", classify(err))
	}

	devices := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, audio.Device{
			ID:        info.ID.String(),
			Label:     info.Name(),
			Kind:      audio.DeviceKindInput,
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// OpenMicrophone starts capturing from the default device, or the device
// whose id or name matches deviceID
func (m *Miniaudio) OpenMicrophone(ctx context.Context, deviceID string) (audio.CaptureSource, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	src := &deviceSource{
		mctx:     mctx,
		channels: m.channels,
		frames:   make(chan audio.Frame, 64),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(m.channels)
	cfg.SampleRate = uint32(m.sampleRate)

	label := "default"
	if deviceID != "" && deviceID != "default" {
		info, err := findDevice(mctx, deviceID)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		src.id = info.ID
		cfg.Capture.DeviceID = src.id.Pointer()
		label = info.Name()
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: src.onData})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("init capture device %s: %w", label, classify(err))
	}
	src.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("start capture device %s: %w", label, classify(err))
	}

	src.track = &deviceTrack{source: src, label: label}
	slog.Debug("Microphone capture started", "device", label, "sample_rate", m.sampleRate, "channels", m.channels)
	return src, nil
}

func findDevice(mctx *malgo.AllocatedContext, deviceID string) (malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("list capture devices: %w", classify(err))
	}
	for _, info := range infos {
		if info.ID.String() == deviceID || info.Name() == deviceID {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("capture device %q: %w", deviceID, audio.ErrDeviceNotFound)
}

// classify maps backend failures onto the acquisition error kinds it can
// recognise from the message
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", audio.ErrDeviceNotFound, err)
	}
	return err
}

// deviceSource adapts a running malgo device to audio.CaptureSource
type deviceSource struct {
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	id       malgo.DeviceID
	channels int
	track    *deviceTrack

	mu     sync.Mutex
	closed bool
	frames chan audio.Frame
}

func (s *deviceSource) Tracks() []audio.Track      { return []audio.Track{s.track} }
func (s *deviceSource) Frames() <-chan audio.Frame { return s.frames }

// onData runs on the audio thread and never blocks
func (s *deviceSource) onData(_, input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}
	f := decodeF32LE(input, s.channels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- f:
	default:
	}
}

func (s *deviceSource) close() {
	_ = s.dev.Stop()
	s.dev.Uninit()
	freeContext(s.mctx)

	s.mu.Lock()
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	slog.Debug("Microphone capture stopped", "device", s.track.label)
}

type deviceTrack struct {
	source *deviceSource
	label  string
	once   sync.Once
}

func (t *deviceTrack) ID() string    { return "microphone" }
func (t *deviceTrack) Kind() string  { return audio.TrackKindAudio }
func (t *deviceTrack) Label() string { return t.label }
func (t *deviceTrack) Stop()         { t.once.Do(t.source.close) }
