package encoder

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/go-audio/wav"
)

type testTrack struct{}

func (testTrack) ID() string    { return "t" }
func (testTrack) Kind() string  { return audio.TrackKindAudio }
func (testTrack) Label() string { return "test" }
func (testTrack) Stop()         {}

type testSource struct {
	frames chan audio.Frame
}

func (s *testSource) Tracks() []audio.Track      { return []audio.Track{testTrack{}} }
func (s *testSource) Frames() <-chan audio.Frame { return s.frames }

func newTestStream() (*audio.Stream, chan audio.Frame) {
	src := &testSource{frames: make(chan audio.Frame, 16)}
	return audio.NewStream(audio.EndpointMicrophone, src), src.frames
}

func decode(t *testing.T, payload []byte) *wav.Decoder {
	t.Helper()
	d := wav.NewDecoder(bytes.NewReader(payload))
	if !d.IsValidFile() {
		t.Fatalf("Expected a valid WAV payload (%d bytes)", len(payload))
	}
	return d
}

func TestWAV_EncodesStream(t *testing.T) {
	stream, frames := newTestStream()
	defer stream.Stop()

	enc, err := NewWAV(stream, DefaultFormat())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	frames <- audio.Frame{Samples: []float32{0.5, -0.5, 1, -1}, Channels: 2}
	frames <- audio.Frame{Samples: []float32{0.25}, Channels: 1}

	deadline := time.Now().Add(2 * time.Second)
	for enc.Frames() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	payload, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	d := decode(t, payload)
	if d.SampleRate != 44100 || d.NumChans != 2 || d.BitDepth != 16 {
		t.Errorf("Unexpected format: %d Hz, %d channels, %d bits", d.SampleRate, d.NumChans, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to read PCM: %v", err)
	}
	want := []int{16383, -16383, 32767, -32767, 8191, 8191}
	if len(buf.Data) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], buf.Data[i])
		}
	}

	if _, err := enc.Stop(context.Background()); err == nil {
		t.Error("Expected second stop to fail")
	}
	enc.Discard()
}

func TestWAV_StopWritesEverythingQueued(t *testing.T) {
	stream, frames := newTestStream()
	defer stream.Stop()

	enc, err := NewWAV(stream, DefaultFormat())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	const pushed, perFrame = 1000, 441
	samples := make([]float32, perFrame*2)
	for i := 0; i < pushed; i++ {
		frames <- audio.Frame{Samples: samples, Channels: 2}
	}
	for len(frames) > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	payload, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if enc.Frames() != pushed*perFrame {
		t.Errorf("Expected %d encoded frames, got %d", pushed*perFrame, enc.Frames())
	}
	if want := 44 + pushed*perFrame*4; len(payload) != want {
		t.Errorf("Expected %d bytes, got %d", want, len(payload))
	}
}

func TestWAV_EmptyRecordingIsValid(t *testing.T) {
	stream, _ := newTestStream()
	defer stream.Stop()

	enc, err := NewWAV(stream, DefaultFormat())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	payload, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(payload) != 44 || !bytes.HasPrefix(payload, []byte("RIFF")) {
		t.Fatalf("Expected a 44 byte header-only payload, got %d bytes", len(payload))
	}
	if !bytes.Equal(payload[36:40], []byte("data")) {
		t.Errorf("Expected data chunk after fmt chunk, got %q", payload[36:40])
	}
}

func TestWAV_PausedAudioIsDropped(t *testing.T) {
	stream, _ := newTestStream()
	defer stream.Stop()

	w, err := NewWAV(stream, DefaultFormat())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer w.Discard()

	w.write(audio.Frame{Samples: []float32{0.1, 0.1}, Channels: 2})
	w.Pause()
	w.write(audio.Frame{Samples: []float32{0.2, 0.2}, Channels: 2})
	w.Resume()
	w.write(audio.Frame{Samples: []float32{0.3, 0.3}, Channels: 2})

	if w.Frames() != 2 {
		t.Errorf("Expected 2 frames written, got %d", w.Frames())
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"default", DefaultFormat(), false},
		{"mono 24 bit", Format{SampleRate: 48000, Channels: 1, BitDepth: 24}, false},
		{"no rate", Format{Channels: 2, BitDepth: 16}, true},
		{"surround", Format{SampleRate: 44100, Channels: 6, BitDepth: 16}, true},
		{"8 bit", Format{SampleRate: 44100, Channels: 2, BitDepth: 8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemBuffer_SeekAndPatch(t *testing.T) {
	b := &memBuffer{}
	b.Write([]byte("RIFF0000WAVE"))
	if _, err := b.Seek(4, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	b.Write([]byte("1234"))
	if _, err := b.Seek(0, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	b.Write([]byte("!"))

	if got := string(b.Bytes()); got != "RIFF1234WAVE!" {
		t.Errorf("Expected patched buffer, got %q", got)
	}
	if _, err := b.Seek(-1, io.SeekStart); err == nil {
		t.Error("Expected error for negative position")
	}
}
