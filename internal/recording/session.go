// Package recording implements the recording session: it owns the captured
// streams, the processing graph, the monitoring loop and the encoder, and
// releases all of them on stop or on any failed start.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/encoder"
	"github.com/audiolibrelab/mixcapture/internal/graph"
	"github.com/audiolibrelab/mixcapture/internal/meter"
	"github.com/audiolibrelab/mixcapture/internal/monitor"
	"github.com/google/uuid"
)

// State of a recording session
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

var (
	// ErrSessionClosed is returned once Close has been called
	ErrSessionClosed = errors.New("recording session is closed")
	// ErrStartAborted is returned by a Start that was cut short by Abort
	ErrStartAborted = errors.New("recording start was aborted")
)

// Acquirer obtains capture streams. *audio.Acquirer implements it.
type Acquirer interface {
	AcquireMicrophone(ctx context.Context, deviceID string) (*audio.Stream, error)
	AcquireSystemSource(ctx context.Context, sourceID string) (*audio.Stream, error)
}

// Info is a snapshot of the session
type Info struct {
	ID        string        `json:"id"`
	Source    audio.Source  `json:"source"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Inputs    []graph.Role  `json:"inputs"`
	Mixed     bool          `json:"mixed"`
}

// Session is the recording state machine:
// idle -> recording -> paused -> recording -> stopped.
// A new Start from stopped rebuilds everything from scratch.
type Session struct {
	acq         Acquirer
	now         func() time.Time
	format      encoder.Format
	openEncoder encoder.Factory
	scheduler   monitor.Scheduler

	mu           sync.Mutex
	state        State
	starting     bool
	aborted      bool
	closed       bool
	id           string
	source       audio.Source
	startedAt    time.Time
	segmentStart time.Time
	accumulated  time.Duration

	graph   *graph.Context
	loop    *monitor.Loop
	streams []*audio.Stream
	enc     encoder.Encoder
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithScheduler drives the monitoring loop with sched
func WithScheduler(sched monitor.Scheduler) Option {
	return func(s *Session) { s.scheduler = sched }
}

// WithEncoderFactory replaces the WAV encoder
func WithEncoderFactory(f encoder.Factory) Option {
	return func(s *Session) { s.openEncoder = f }
}

// WithFormat sets the encoded output format
func WithFormat(f encoder.Format) Option {
	return func(s *Session) { s.format = f }
}

// New creates an idle session. Its processing context lives until Close.
func New(acq Acquirer, opts ...Option) *Session {
	s := &Session{
		acq:         acq,
		now:         time.Now,
		format:      encoder.DefaultFormat(),
		openEncoder: encoder.OpenWAV,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = monitor.NewFrameScheduler(60)
	}
	s.graph = graph.NewContext(s.format.SampleRate, s.format.Channels)
	s.loop = monitor.New(s.scheduler)
	return s
}

// OnLevels registers the observer fired on every monitoring tick
func (s *Session) OnLevels(fn func(monitor.Levels)) {
	s.loop.OnLevels(fn)
}

// OnWaveform registers the waveform observer fired on every monitoring tick
func (s *Session) OnWaveform(fn func([]float32)) {
	s.loop.OnWaveform(fn)
}

// Start acquires the requested inputs and begins recording. Steps run in
// order (microphone, system, merge, encoder, monitoring); if any of them
// fails everything acquired so far is released before the error is returned.
func (s *Session) Start(ctx context.Context, source audio.Source, micDeviceID, systemSourceID string) error {
	if !source.UsesMicrophone() && !source.UsesSystem() {
		return fmt.Errorf("invalid audio source %q", source)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.starting || s.state == StateRecording || s.state == StatePaused {
		s.mu.Unlock()
		return audio.ErrSessionActive
	}
	s.starting = true
	s.aborted = false
	s.state = StateIdle
	s.id = uuid.NewString()
	s.source = source
	s.startedAt = s.now()
	s.segmentStart = s.startedAt
	s.accumulated = 0
	id := s.id
	s.mu.Unlock()

	err := s.start(ctx, source, micDeviceID, systemSourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	s.aborted = false

	if err != nil {
		s.cleanupLocked()
		s.state = StateIdle
		slog.Warn("Recording start failed", "session", id, "source", source, "error", err)
		return err
	}

	slog.Info("Recording started", "session", id, "source", source, "inputs", len(s.streams))
	return nil
}

func (s *Session) start(ctx context.Context, source audio.Source, micDeviceID, systemSourceID string) error {
	if source.UsesMicrophone() {
		stream, err := s.acq.AcquireMicrophone(ctx, micDeviceID)
		if err != nil {
			return err
		}
		if err := s.adopt(stream, graph.RoleMicrophone); err != nil {
			return err
		}
	}

	if source.UsesSystem() {
		stream, err := s.acq.AcquireSystemSource(ctx, systemSourceID)
		if err != nil {
			return err
		}
		if err := s.adopt(stream, graph.RoleSystem); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.interruptedLocked(); err != nil {
		return err
	}

	recordable := s.streams[0]
	if source == audio.SourceBoth {
		mix, err := s.graph.MergeActive()
		if err != nil {
			return err
		}
		recordable = mix
	}

	enc, err := s.openEncoder(recordable, s.format)
	if err != nil {
		return fmt.Errorf("open encoder: %w", err)
	}
	s.enc = enc

	s.loop.Start(tap(s.graph.Analyser(graph.RoleMicrophone)), tap(s.graph.Analyser(graph.RoleSystem)))
	s.state = StateRecording
	return nil
}

// adopt takes ownership of a freshly acquired stream and wires it into the
// graph. A stream that arrives after Abort or Close is released straight away.
func (s *Session) adopt(stream *audio.Stream, role graph.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.interruptedLocked(); err != nil {
		stream.Stop()
		return err
	}
	s.streams = append(s.streams, stream)

	if _, err := s.graph.AttachAnalysis(stream, role); err != nil {
		return fmt.Errorf("attach %s: %w", role, err)
	}
	return nil
}

func (s *Session) interruptedLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.aborted {
		return ErrStartAborted
	}
	return nil
}

// Pause stops feeding the encoder. It is a no-op unless recording.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return
	}
	s.accumulated += s.now().Sub(s.segmentStart)
	s.enc.Pause()
	s.state = StatePaused
	slog.Info("Recording paused", "session", s.id, "duration", s.accumulated)
}

// Resume continues a paused recording. It is a no-op unless paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return
	}
	s.segmentStart = s.now()
	s.enc.Resume()
	s.state = StateRecording
	slog.Info("Recording resumed", "session", s.id)
}

// Stop finalizes the encoder, releases every resource and returns the
// encoded payload. Without an active encoder it fails with
// audio.ErrNoActiveRecording and changes nothing.
func (s *Session) Stop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return nil, audio.ErrNoActiveRecording
	}

	if s.state == StateRecording {
		s.accumulated += s.now().Sub(s.segmentStart)
	}
	s.loop.Stop()
	if s.graph.Merged() {
		s.graph.Drain()
	}

	payload, err := s.enc.Stop(ctx)
	s.cleanupLocked()
	s.state = StateStopped

	if err != nil {
		slog.Error("Recording finalization failed", "session", s.id, "error", err)
		return nil, fmt.Errorf("stop recording: %w", err)
	}

	slog.Info("Recording stopped", "session", s.id, "duration", s.accumulated, "bytes", len(payload))
	return payload, nil
}

// Abort discards the current recording without producing a payload. A Start
// still acquiring inputs fails with ErrStartAborted and releases whatever it
// acquires afterwards.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.starting {
		s.aborted = true
	}
	if s.enc == nil && len(s.streams) == 0 {
		return
	}
	s.cleanupLocked()
	s.state = StateIdle
	slog.Info("Recording discarded", "session", s.id)
}

// CurrentDuration returns the recorded time excluding pauses. It is 0 before
// the first start and frozen while paused or stopped.
func (s *Session) CurrentDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() time.Duration {
	switch s.state {
	case StateRecording:
		return s.accumulated + s.now().Sub(s.segmentStart)
	case StatePaused, StateStopped:
		return s.accumulated
	}
	return 0
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Analyser returns the analysis node for a role, or nil if that input is not
// part of the current recording
func (s *Session) Analyser(role graph.Role) *graph.Analyser {
	return s.graph.Analyser(role)
}

// Merged reports whether a mix destination is in use
func (s *Session) Merged() bool {
	return s.graph.Merged()
}

// SetGain adjusts the gain of one input. Gains start at unity.
func (s *Session) SetGain(role graph.Role, value float64) error {
	g := s.graph.Gain(role)
	if g == nil {
		return fmt.Errorf("set %s gain: %w", role, audio.ErrNoActiveRecording)
	}
	g.SetValue(value)
	slog.Debug("Gain changed", "role", role, "value", g.Value())
	return nil
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:        s.id,
		Source:    s.source,
		State:     s.state,
		StartedAt: s.startedAt,
		Duration:  s.durationLocked(),
		Inputs:    s.graph.ActiveNodes(),
		Mixed:     s.graph.Merged(),
	}
}

// Close releases everything and the processing context. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.cleanupLocked()
	s.graph.Close()
	s.closed = true
	if s.state == StateRecording || s.state == StatePaused {
		s.state = StateStopped
	}
}

// cleanupLocked tolerates partially built state and repeated calls
func (s *Session) cleanupLocked() {
	s.loop.Stop()

	for _, stream := range s.streams {
		if stream != nil {
			stream.Stop()
		}
	}
	s.streams = nil

	s.graph.Disconnect()

	if s.enc != nil {
		s.enc.Discard()
		s.enc = nil
	}
}

// tap avoids handing the monitor a typed nil
func tap(a *graph.Analyser) meter.Tap {
	if a == nil {
		return nil
	}
	return a
}
