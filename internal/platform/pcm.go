package platform

import (
	"encoding/binary"
	"math"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// decodeF32LE converts interleaved little-endian float32 PCM into a frame.
// Trailing bytes that do not form a whole sample are ignored.
func decodeF32LE(b []byte, channels int) audio.Frame {
	n := len(b) / 4
	if channels > 0 {
		n -= n % channels
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return audio.Frame{Samples: samples, Channels: channels}
}
