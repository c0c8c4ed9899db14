// Package platform provides the real capture backends: miniaudio (via malgo)
// for microphones and PipeWire for desktop audio.
package platform

import (
	"context"
	"strings"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/config"
)

// BackendType selects how microphones are captured
type BackendType string

const (
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// microphoneBackend is what a microphone capture implementation provides
type microphoneBackend interface {
	OpenMicrophone(ctx context.Context, deviceID string) (audio.CaptureSource, error)
}

// Platform implements audio.Platform, audio.DeviceLister and
// audio.DesktopSourceLister
type Platform struct {
	backend  BackendType
	mic      microphoneBackend
	devices  *Miniaudio
	pipewire *PipeWire
}

// New creates the platform described by the audio section of cfg
func New(cfg *config.Config) *Platform {
	rate, channels := cfg.Audio.SampleRate, cfg.Audio.Channels
	p := &Platform{
		backend:  determineBackend(cfg),
		devices:  NewMiniaudio(rate, channels),
		pipewire: NewPipeWire(rate, channels),
	}

	switch p.backend {
	case BackendTypePipeWire:
		p.mic = p.pipewire
	default:
		p.mic = p.devices
	}
	return p
}

// Backend returns the microphone backend in use
func (p *Platform) Backend() BackendType {
	return p.backend
}

func (p *Platform) OpenMicrophone(ctx context.Context, deviceID string) (audio.CaptureSource, error) {
	return p.mic.OpenMicrophone(ctx, deviceID)
}

func (p *Platform) OpenDesktopAudio(ctx context.Context, sourceID string) (audio.CaptureSource, error) {
	return p.pipewire.OpenDesktopAudio(ctx, sourceID)
}

func (p *Platform) ListInputDevices(ctx context.Context) ([]audio.Device, error) {
	return p.devices.ListInputDevices(ctx)
}

func (p *Platform) ListDesktopSources(ctx context.Context) ([]audio.DesktopSource, error) {
	return p.pipewire.ListDesktopSources(ctx)
}

// determineBackend picks the microphone backend from configuration. "auto"
// uses miniaudio, which works wherever PipeWire does.
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pipewire":
		return BackendTypePipeWire
	case "malgo":
		return BackendTypeMalgo
	}
	return BackendTypeMalgo
}

// AvailableBackends returns the microphone backends that can be selected
func AvailableBackends() []BackendType {
	return []BackendType{BackendTypeAuto, BackendTypeMalgo, BackendTypePipeWire}
}
