// Package encoder turns a live capture stream into an in-memory audio
// container.
package encoder

import (
	"context"
	"fmt"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// ContentType is the media type of the payloads produced by this package
const ContentType = "audio/wav"

// Format describes the encoded output
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
}

// DefaultFormat is stereo 16-bit PCM at 44.1 kHz
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
}

// Validate checks that the format can be written as PCM WAV
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("invalid channel count %d (must be 1 or 2)", f.Channels)
	}
	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("invalid bit depth %d (must be 16, 24 or 32)", f.BitDepth)
	}
	return nil
}

// Encoder records a stream until stopped
type Encoder interface {
	// Pause drops incoming audio until Resume
	Pause()
	Resume()
	// Stop finalizes the container and returns the encoded payload
	Stop(ctx context.Context) ([]byte, error)
	// Discard releases the encoder without producing output. Safe to call
	// after Stop and more than once.
	Discard()
}

// Factory opens an encoder against a live stream
type Factory func(stream *audio.Stream, format Format) (Encoder, error)

// OpenWAV is the default Factory
func OpenWAV(stream *audio.Stream, format Format) (Encoder, error) {
	return NewWAV(stream, format)
}
