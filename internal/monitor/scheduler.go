package monitor

import (
	"sync"
	"time"
)

// Scheduler runs fn once at the next frame. The returned func cancels fn if
// it has not started yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// FrameScheduler fires callbacks at a fixed frame rate using timers
type FrameScheduler struct {
	interval time.Duration
}

// NewFrameScheduler creates a scheduler for the given frames per second.
// Non-positive rates fall back to 60.
func NewFrameScheduler(fps int) *FrameScheduler {
	if fps <= 0 {
		fps = 60
	}
	return &FrameScheduler{interval: time.Second / time.Duration(fps)}
}

// Interval returns the time between frames
func (s *FrameScheduler) Interval() time.Duration {
	return s.interval
}

func (s *FrameScheduler) Schedule(fn func()) func() {
	t := time.AfterFunc(s.interval, fn)
	return func() { t.Stop() }
}

// ManualScheduler queues callbacks until Advance is called. Tests use it to
// step the monitoring loop one frame at a time.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
}

// NewManualScheduler creates an empty manual scheduler
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Schedule(fn func()) func() {
	task := &manualTask{fn: fn}

	s.mu.Lock()
	s.pending = append(s.pending, task)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		task.cancelled = true
		s.mu.Unlock()
	}
}

// Pending returns how many callbacks are queued and not cancelled
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.pending {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Advance runs the callbacks queued so far, i.e. one frame. Callbacks
// scheduled while advancing wait for the next call. It returns how many ran.
func (s *ManualScheduler) Advance() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	ran := 0
	for _, t := range batch {
		s.mu.Lock()
		cancelled := t.cancelled
		s.mu.Unlock()
		if cancelled {
			continue
		}
		t.fn()
		ran++
	}
	return ran
}
