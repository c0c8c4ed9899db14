package audio

import (
	"fmt"
	"strings"
)

// Source selects which physical inputs a recording uses
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceSystem     Source = "system"
	SourceBoth       Source = "both"
)

// ParseSource converts a user supplied value into a Source
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceMicrophone, "mic":
		return SourceMicrophone, nil
	case SourceSystem, "desktop":
		return SourceSystem, nil
	case SourceBoth:
		return SourceBoth, nil
	}
	return "", fmt.Errorf("invalid audio source %q (valid: microphone, system, both)", s)
}

// UsesMicrophone reports whether the selection includes the microphone
func (s Source) UsesMicrophone() bool {
	return s == SourceMicrophone || s == SourceBoth
}

// UsesSystem reports whether the selection includes system audio
func (s Source) UsesSystem() bool {
	return s == SourceSystem || s == SourceBoth
}

// Endpoint identifies what a stream was captured from
type Endpoint string

const (
	EndpointMicrophone Endpoint = "microphone"
	EndpointSystem     Endpoint = "system"
	EndpointMix        Endpoint = "mix"
)

// Device is an enumerable input device
type Device struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	Kind      string `json:"kind" yaml:"kind"`
	IsDefault bool   `json:"is_default" yaml:"is_default"`
}

// DeviceKindInput is the only device kind the recorder enumerates
const DeviceKindInput = "audioinput"

// DesktopSource is a window or screen that may expose audio.
// Thumbnails are left to the host shell.
type DesktopSource struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// TrackKindAudio is the kind reported by audio tracks
const TrackKindAudio = "audio"

// Track is one live track of a capture source
type Track interface {
	ID() string
	Kind() string
	Label() string
	// Stop ends the track. It must be safe to call more than once.
	Stop()
}

// CaptureSource is the platform handle for a live stream. Frames is closed
// by the platform once every track has been stopped.
type CaptureSource interface {
	Tracks() []Track
	Frames() <-chan Frame
}

// Frame is a block of interleaved float32 samples in [-1, 1]
type Frame struct {
	Samples  []float32
	Channels int
}

// Len returns the number of sample frames (samples per channel)
func (f Frame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Mono returns the frame downmixed to one channel
func (f Frame) Mono() []float32 {
	if f.Channels <= 1 {
		return f.Samples
	}
	n := f.Len()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < f.Channels; c++ {
			sum += f.Samples[i*f.Channels+c]
		}
		out[i] = sum / float32(f.Channels)
	}
	return out
}

// WithChannels returns the frame converted to the given channel count.
// Mono is duplicated across channels, anything else goes through a mono mix.
func (f Frame) WithChannels(channels int) Frame {
	if f.Channels == channels || channels <= 0 {
		return f
	}
	src := f.Mono()
	out := make([]float32, len(src)*channels)
	for i, s := range src {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return Frame{Samples: out, Channels: channels}
}
