package meter

import (
	"bytes"
	"testing"
)

type fakeTap struct {
	fill     byte
	waveform float32
	reads    int
}

func (f *fakeTap) FrequencyBinCount() int { return 4 }

func (f *fakeTap) ByteFrequencyData(dst []byte) {
	f.reads++
	copy(dst, bytes.Repeat([]byte{f.fill}, len(dst)))
}

func (f *fakeTap) FloatTimeDomainData(dst []float32) {
	for i := range dst {
		dst[i] = f.waveform
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name     string
		spectrum []byte
		want     float64
	}{
		{"full scale", bytes.Repeat([]byte{255}, 128), 100},
		{"silence", make([]byte, 128), 0},
		{"empty", nil, 0},
		{"half", []byte{255, 0}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.spectrum); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeter_ReadsTap(t *testing.T) {
	tap := &fakeTap{fill: 255, waveform: 0.5}
	m := New(tap)

	if got := m.Level(); got != 100 {
		t.Errorf("Expected level 100, got %v", got)
	}
	m.Level()
	if tap.reads != 2 {
		t.Errorf("Expected a fresh snapshot per read, got %d reads", tap.reads)
	}

	w := m.Waveform()
	if len(w) != 4 || w[0] != 0.5 {
		t.Errorf("Expected 4 samples of 0.5, got %v", w)
	}
	w[0] = 9
	if m.Waveform()[0] != 0.5 {
		t.Error("Expected waveform to be a copy")
	}
}

func TestMeter_NilTap(t *testing.T) {
	m := New(nil)
	if m.Level() != 0 {
		t.Errorf("Expected silent level, got %v", m.Level())
	}
	if m.Waveform() != nil {
		t.Error("Expected nil waveform")
	}
}
