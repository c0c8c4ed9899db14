// Package monitor samples analysis nodes once per frame and reports levels
// and waveform data to registered observers.
package monitor

import (
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/meter"
)

// Levels is the latest loudness snapshot, each value in [0, 100]
type Levels struct {
	Microphone float64 `json:"microphone"`
	System     float64 `json:"system"`
}

// Loop is a self-rescheduling sampling pass. Each tick schedules the next one
// through the Scheduler, so ticks never overlap and nothing is scheduled once
// Stop has returned.
type Loop struct {
	sched Scheduler

	mu         sync.Mutex
	running    bool
	generation uint64
	cancel     func()
	mic        *meter.Meter
	sys        *meter.Meter
	onLevels   func(Levels)
	onWaveform func([]float32)
}

// New creates a stopped loop driven by sched
func New(sched Scheduler) *Loop {
	return &Loop{sched: sched}
}

// OnLevels registers the levels observer. Observers run on the scheduling
// path and must not block.
func (l *Loop) OnLevels(fn func(Levels)) {
	l.mu.Lock()
	l.onLevels = fn
	l.mu.Unlock()
}

// OnWaveform registers the waveform observer
func (l *Loop) OnWaveform(fn func([]float32)) {
	l.mu.Lock()
	l.onWaveform = fn
	l.mu.Unlock()
}

// Start begins sampling. Either tap may be nil, in which case its level is
// reported as 0. Starting a running loop restarts it with the new taps.
func (l *Loop) Start(mic, sys meter.Tap) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	l.mic = meter.New(mic)
	l.sys = meter.New(sys)
	l.running = true
	l.scheduleLocked()
}

// Stop cancels the pending tick. Safe to call on a stopped loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

// Running reports whether a tick is scheduled or in progress
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) stopLocked() {
	l.generation++
	l.running = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Loop) scheduleLocked() {
	gen := l.generation
	l.cancel = l.sched.Schedule(func() { l.tick(gen) })
}

func (l *Loop) tick(gen uint64) {
	l.mu.Lock()
	if !l.running || gen != l.generation {
		l.mu.Unlock()
		return
	}
	levels, waveform := l.sampleLocked()
	onLevels, onWaveform := l.onLevels, l.onWaveform
	l.mu.Unlock()

	if onLevels != nil {
		onLevels(levels)
	}
	if onWaveform != nil {
		onWaveform(waveform)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running && gen == l.generation {
		l.scheduleLocked()
	}
}

// sampleLocked prefers the microphone waveform since only one is displayed
func (l *Loop) sampleLocked() (Levels, []float32) {
	var levels Levels
	var waveform []float32

	if l.mic != nil {
		levels.Microphone = l.mic.Level()
		waveform = l.mic.Waveform()
	}
	if l.sys != nil {
		levels.System = l.sys.Level()
		if waveform == nil {
			waveform = l.sys.Waveform()
		}
	}
	return levels, waveform
}
