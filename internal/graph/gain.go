package graph

import (
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// Gain scales a signal by a scalar before it reaches the analyser and, when
// connected, a mix destination.
type Gain struct {
	mu      sync.RWMutex
	value   float64
	outputs []*destinationInput
}

// NewGain creates a gain stage at unity
func NewGain() *Gain {
	return &Gain{value: 1}
}

// Value returns the current gain
func (g *Gain) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// SetValue changes the gain. Negative values are clamped to zero.
func (g *Gain) SetValue(v float64) {
	if v < 0 {
		v = 0
	}
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Process returns a scaled copy of the frame
func (g *Gain) Process(f audio.Frame) audio.Frame {
	v := float32(g.Value())
	out := make([]float32, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = s * v
	}
	return audio.Frame{Samples: out, Channels: f.Channels}
}

func (g *Gain) connect(in *destinationInput) {
	g.mu.Lock()
	g.outputs = append(g.outputs, in)
	g.mu.Unlock()
}

func (g *Gain) emit(f audio.Frame) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, out := range g.outputs {
		out.push(f)
	}
}

func (g *Gain) disconnect() {
	g.mu.Lock()
	g.outputs = nil
	g.mu.Unlock()
}
