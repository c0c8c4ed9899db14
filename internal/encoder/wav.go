package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV encodes a stream as PCM WAV into memory
type WAV struct {
	format Format
	paused atomic.Bool

	frames <-chan audio.Frame
	cancel func()

	mu       sync.Mutex
	buf      *memBuffer
	enc      *wav.Encoder
	written  int
	writeErr error
	finished bool

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewWAV subscribes to the stream and starts encoding immediately
func NewWAV(stream *audio.Stream, format Format) (*WAV, error) {
	if stream == nil {
		return nil, fmt.Errorf("open wav encoder: no stream")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("open wav encoder: %w", err)
	}

	buf := &memBuffer{}
	frames, cancel := stream.SubscribeLossless()
	w := &WAV{
		format:   format,
		frames:   frames,
		cancel:   cancel,
		buf:      buf,
		enc:      wav.NewEncoder(buf, format.SampleRate, format.BitDepth, format.Channels, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()

	slog.Debug("WAV encoder opened", "endpoint", stream.Endpoint(), "sample_rate", format.SampleRate, "channels", format.Channels)
	return w, nil
}

func (w *WAV) Pause() {
	w.paused.Store(true)
}

func (w *WAV) Resume() {
	w.paused.Store(false)
}

// Frames returns how many sample frames have been encoded so far
func (w *WAV) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Stop waits for queued audio to be written, closes the container and returns
// its bytes. Calling Stop again returns an error.
func (w *WAV) Stop(ctx context.Context) ([]byte, error) {
	w.halt()

	select {
	case <-w.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("finalize wav: %w", ctx.Err())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return nil, errors.New("finalize wav: encoder already finished")
	}
	w.finished = true

	if w.writeErr != nil {
		return nil, fmt.Errorf("finalize wav: %w", w.writeErr)
	}
	// The header is only emitted with the first buffer
	if w.written == 0 {
		if err := w.enc.Write(w.intBuffer(nil)); err != nil {
			return nil, fmt.Errorf("finalize wav: %w", err)
		}
	}
	if err := w.enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	payload := w.buf.Bytes()
	w.buf = nil
	slog.Debug("WAV encoder finalized", "frames", w.written, "bytes", len(payload))
	return payload, nil
}

func (w *WAV) Discard() {
	w.paused.Store(true)
	w.halt()
	<-w.done

	w.mu.Lock()
	w.finished = true
	w.buf = nil
	w.mu.Unlock()
}

func (w *WAV) halt() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}

func (w *WAV) run() {
	defer close(w.done)
	defer w.cancel()

	for {
		select {
		case <-w.stopChan:
			w.drain()
			return
		case f, ok := <-w.frames:
			if !ok {
				return
			}
			w.write(f)
		}
	}
}

// drain unsubscribes and writes every frame queued before that
func (w *WAV) drain() {
	w.cancel()
	for f := range w.frames {
		w.write(f)
	}
}

func (w *WAV) write(f audio.Frame) {
	if w.paused.Load() || f.Len() == 0 {
		return
	}
	f = f.WithChannels(w.format.Channels)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeErr != nil || w.finished {
		return
	}
	if err := w.enc.Write(w.intBuffer(f.Samples)); err != nil {
		w.writeErr = err
		slog.Error("WAV write failed", "error", err)
		return
	}
	w.written += f.Len()
}

func (w *WAV) intBuffer(samples []float32) *goaudio.IntBuffer {
	peak := float64(int(1)<<(w.format.BitDepth-1) - 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(float64(s) * peak)
	}
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: w.format.Channels,
			SampleRate:  w.format.SampleRate,
		},
		Data:           data,
		SourceBitDepth: w.format.BitDepth,
	}
}
