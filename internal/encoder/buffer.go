package encoder

import (
	"errors"
	"io"
)

// memBuffer is an in-memory io.WriteSeeker. The WAV writer seeks back to
// patch its header sizes once the data length is known.
type memBuffer struct {
	data []byte
	pos  int
}

func (b *memBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *memBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("memBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memBuffer: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents
func (b *memBuffer) Bytes() []byte {
	return b.data
}
