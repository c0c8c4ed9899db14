package recording

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/encoder"
	"github.com/audiolibrelab/mixcapture/internal/graph"
	"github.com/audiolibrelab/mixcapture/internal/monitor"
)

func newTestSession(p *fakePlatform) (*Session, *fakeClock, *monitor.ManualScheduler) {
	clock := newFakeClock()
	sched := monitor.NewManualScheduler()
	s := New(audio.NewAcquirer(p), WithClock(clock.Now), WithScheduler(sched))
	return s, clock, sched
}

func TestSession_StartCreatesNodesForSource(t *testing.T) {
	tests := []struct {
		source    audio.Source
		wantMic   bool
		wantSys   bool
		wantMixed bool
	}{
		{audio.SourceMicrophone, true, false, false},
		{audio.SourceSystem, false, true, false},
		{audio.SourceBoth, true, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			s, clock, _ := newTestSession(&fakePlatform{})
			defer s.Close()

			if err := s.Start(context.Background(), tt.source, "default", "win1"); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			if got := s.Analyser(graph.RoleMicrophone) != nil; got != tt.wantMic {
				t.Errorf("Microphone analyser present = %v, want %v", got, tt.wantMic)
			}
			if got := s.Analyser(graph.RoleSystem) != nil; got != tt.wantSys {
				t.Errorf("System analyser present = %v, want %v", got, tt.wantSys)
			}
			if s.Merged() != tt.wantMixed {
				t.Errorf("Merged = %v, want %v", s.Merged(), tt.wantMixed)
			}
			if s.State() != StateRecording {
				t.Errorf("Expected recording state, got %s", s.State())
			}

			prev := s.CurrentDuration()
			for i := 0; i < 5; i++ {
				clock.Advance(100 * time.Millisecond)
				d := s.CurrentDuration()
				if d < prev {
					t.Fatalf("Duration went backwards: %v -> %v", prev, d)
				}
				prev = d
			}
			if prev != 500*time.Millisecond {
				t.Errorf("Expected 500ms, got %v", prev)
			}
		})
	}
}

func TestSession_PauseResumeExcludesPause(t *testing.T) {
	p := &fakePlatform{}
	s, clock, _ := newTestSession(p)
	defer s.Close()

	if err := s.Start(context.Background(), audio.SourceMicrophone, "", ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	p.micFrames[0] <- audio.Frame{Samples: []float32{0.5, 0.5}, Channels: 2}

	clock.Advance(time.Second)
	s.Pause()
	if s.State() != StatePaused {
		t.Fatalf("Expected paused state, got %s", s.State())
	}

	clock.Advance(500 * time.Millisecond)
	if d := s.CurrentDuration(); d != time.Second {
		t.Errorf("Expected duration frozen at 1s while paused, got %v", d)
	}

	s.Resume()
	clock.Advance(time.Second)
	if d := s.CurrentDuration(); d != 2*time.Second {
		t.Errorf("Expected 2s excluding the pause, got %v", d)
	}

	payload, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(payload) == 0 {
		t.Error("Expected a non-empty payload")
	}
	if d := s.CurrentDuration(); d != 2*time.Second {
		t.Errorf("Expected final duration of 2s, got %v", d)
	}
	if s.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", s.State())
	}
	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected every track stopped, %d still live", n)
	}
}

func TestSession_PauseResumeAreNoOpsInWrongState(t *testing.T) {
	s, clock, _ := newTestSession(&fakePlatform{})
	defer s.Close()

	s.Pause()
	s.Resume()
	if s.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", s.State())
	}

	s.Start(context.Background(), audio.SourceMicrophone, "", "")
	s.Resume()
	if s.State() != StateRecording {
		t.Errorf("Expected resume while recording to be ignored, got %s", s.State())
	}

	clock.Advance(time.Second)
	s.Pause()
	clock.Advance(time.Second)
	s.Pause()
	if d := s.CurrentDuration(); d != time.Second {
		t.Errorf("Expected double pause not to change duration, got %v", d)
	}
}

func TestSession_StopWithoutStart(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	before := s.Info()
	_, err := s.Stop(context.Background())
	if !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Fatalf("Expected ErrNoActiveRecording, got: %v", err)
	}

	after := s.Info()
	if before.State != after.State || before.ID != after.ID {
		t.Errorf("Expected no mutation, before=%+v after=%+v", before, after)
	}
	if p.micCalls != 0 || p.deskCalls != 0 {
		t.Error("Expected no platform calls")
	}
	if s.CurrentDuration() != 0 {
		t.Errorf("Expected zero duration, got %v", s.CurrentDuration())
	}
}

func TestSession_StopTwice(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	s.Start(context.Background(), audio.SourceBoth, "", "win1")
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := s.Stop(context.Background()); !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Errorf("Expected ErrNoActiveRecording on second stop, got: %v", err)
	}

	for i, tr := range p.tracks {
		if tr.stopCount() != 1 {
			t.Errorf("Track %d: expected exactly 1 stop, got %d", i, tr.stopCount())
		}
	}
}

func TestSession_RecoversAfterFailedStart(t *testing.T) {
	p := &fakePlatform{micErr: fmt.Errorf("getUserMedia: %w", audio.ErrPermissionDenied)}
	s, _, sched := newTestSession(p)
	defer s.Close()

	err := s.Start(context.Background(), audio.SourceMicrophone, "", "")
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after failure, got %s", s.State())
	}
	if sched.Pending() != 0 {
		t.Error("Expected no monitoring tick after failed start")
	}

	p.mu.Lock()
	p.micErr = nil
	p.mu.Unlock()

	if err := s.Start(context.Background(), audio.SourceMicrophone, "", ""); err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}
	if s.Analyser(graph.RoleMicrophone) == nil {
		t.Error("Expected microphone analyser after retry")
	}
}

func TestSession_SystemWithoutAudioReleasesEverything(t *testing.T) {
	p := &fakePlatform{deskNoAudio: true}
	s, _, sched := newTestSession(p)
	defer s.Close()

	err := s.Start(context.Background(), audio.SourceBoth, "default", "win1")
	if !errors.Is(err, audio.ErrNoAudioTracks) {
		t.Fatalf("Expected ErrNoAudioTracks, got: %v", err)
	}

	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected no live tracks, got %d", n)
	}
	if s.Analyser(graph.RoleMicrophone) != nil || s.Analyser(graph.RoleSystem) != nil {
		t.Error("Expected no analysis nodes")
	}
	if s.Merged() {
		t.Error("Expected no mix destination")
	}
	if sched.Pending() != 0 {
		t.Error("Expected no monitoring tick")
	}

	// A second cleanup has nothing left to do
	if _, err := s.Stop(context.Background()); !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Errorf("Expected ErrNoActiveRecording, got: %v", err)
	}
}

func TestSession_EncoderFailureCleansUp(t *testing.T) {
	p := &fakePlatform{}
	failing := func(*audio.Stream, encoder.Format) (encoder.Encoder, error) {
		return nil, errors.New("no encoder")
	}
	s := New(audio.NewAcquirer(p), WithScheduler(monitor.NewManualScheduler()), WithEncoderFactory(failing))
	defer s.Close()

	if err := s.Start(context.Background(), audio.SourceBoth, "", "win1"); err == nil {
		t.Fatal("Expected start to fail")
	}
	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected acquired tracks to be released, %d live", n)
	}
	if s.Merged() {
		t.Error("Expected destination to be released")
	}
}

func TestSession_StartTwice(t *testing.T) {
	s, _, _ := newTestSession(&fakePlatform{})
	defer s.Close()

	s.Start(context.Background(), audio.SourceMicrophone, "", "")
	err := s.Start(context.Background(), audio.SourceMicrophone, "", "")
	if !errors.Is(err, audio.ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got: %v", err)
	}

	s.Pause()
	if err := s.Start(context.Background(), audio.SourceSystem, "", "win1"); !errors.Is(err, audio.ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive while paused, got: %v", err)
	}
}

func TestSession_MonitoringReportsLevels(t *testing.T) {
	s, _, sched := newTestSession(&fakePlatform{})
	defer s.Close()

	var levels []monitor.Levels
	var waves int
	s.OnLevels(func(l monitor.Levels) { levels = append(levels, l) })
	s.OnWaveform(func(w []float32) {
		if len(w) == graph.FFTSize/2 {
			waves++
		}
	})

	s.Start(context.Background(), audio.SourceSystem, "", "win1")
	sched.Advance()
	sched.Advance()

	if len(levels) != 2 || waves != 2 {
		t.Fatalf("Expected 2 ticks, got %d levels and %d waveforms", len(levels), waves)
	}
	if levels[0].Microphone != 0 {
		t.Errorf("Expected absent microphone to report 0, got %v", levels[0].Microphone)
	}

	s.Stop(context.Background())
	if sched.Pending() != 0 {
		t.Errorf("Expected no pending tick after stop, got %d", sched.Pending())
	}
	if sched.Advance() != 0 {
		t.Error("Expected no tick after stop")
	}
}

func TestSession_SetGain(t *testing.T) {
	s, _, _ := newTestSession(&fakePlatform{})
	defer s.Close()

	if err := s.SetGain(graph.RoleMicrophone, 0.5); !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Errorf("Expected ErrNoActiveRecording before start, got: %v", err)
	}

	s.Start(context.Background(), audio.SourceMicrophone, "", "")
	if err := s.SetGain(graph.RoleMicrophone, 0.5); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if err := s.SetGain(graph.RoleSystem, 0.5); err == nil {
		t.Error("Expected error for an input that is not recording")
	}
}

func TestSession_Info(t *testing.T) {
	s, clock, _ := newTestSession(&fakePlatform{})
	defer s.Close()

	s.Start(context.Background(), audio.SourceBoth, "", "win1")
	clock.Advance(3 * time.Second)

	info := s.Info()
	if info.ID == "" {
		t.Error("Expected a session id")
	}
	if info.Source != audio.SourceBoth || info.State != StateRecording {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.Duration != 3*time.Second {
		t.Errorf("Expected 3s, got %v", info.Duration)
	}
	if len(info.Inputs) != 2 || !info.Mixed {
		t.Errorf("Expected two mixed inputs, got %+v", info)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)

	s.Start(context.Background(), audio.SourceMicrophone, "", "")
	s.Close()
	s.Close()

	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected tracks released on close, %d live", n)
	}
	if err := s.Start(context.Background(), audio.SourceMicrophone, "", ""); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got: %v", err)
	}
}

func TestSession_Abort(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	s.Start(context.Background(), audio.SourceMicrophone, "", "")
	s.Abort()
	s.Abort()

	if s.State() != StateIdle {
		t.Errorf("Expected idle after abort, got %s", s.State())
	}
	if _, err := s.Stop(context.Background()); !errors.Is(err, audio.ErrNoActiveRecording) {
		t.Errorf("Expected ErrNoActiveRecording after abort, got: %v", err)
	}
	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected tracks released, %d live", n)
	}
}

func TestSession_InterruptedStartReleasesLateStream(t *testing.T) {
	tests := []struct {
		name      string
		interrupt func(s *Session)
		wantErr   error
		wantState State
	}{
		{"abort", (*Session).Abort, ErrStartAborted, StateIdle},
		{"close", (*Session).Close, ErrSessionClosed, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlatform{
				deskEntered: make(chan struct{}, 1),
				deskGate:    make(chan struct{}),
			}
			s, _, _ := newTestSession(p)
			defer s.Close()

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Start(context.Background(), audio.SourceBoth, "", "win1")
			}()

			select {
			case <-p.deskEntered:
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for system acquisition")
			}
			tt.interrupt(s)
			close(p.deskGate)

			var err error
			select {
			case err = <-errCh:
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for start to return")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got: %v", tt.wantErr, err)
			}
			if s.State() != tt.wantState {
				t.Errorf("Expected %s state, got %s", tt.wantState, s.State())
			}
			if n := p.liveTracks(); n != 0 {
				t.Errorf("Expected every track released, %d still live", n)
			}
			if s.Merged() {
				t.Error("Expected no mix destination")
			}
			if _, err := s.Stop(context.Background()); !errors.Is(err, audio.ErrNoActiveRecording) {
				t.Errorf("Expected ErrNoActiveRecording, got: %v", err)
			}
		})
	}
}

func TestSession_StartAfterAbortedStart(t *testing.T) {
	p := &fakePlatform{
		deskEntered: make(chan struct{}, 1),
		deskGate:    make(chan struct{}),
	}
	s, _, _ := newTestSession(p)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(context.Background(), audio.SourceSystem, "", "win1")
	}()
	<-p.deskEntered
	s.Abort()
	close(p.deskGate)
	if err := <-errCh; !errors.Is(err, ErrStartAborted) {
		t.Fatalf("Expected ErrStartAborted, got: %v", err)
	}

	// The gate is open now, so the next start goes through
	p.deskEntered = make(chan struct{}, 1)
	if err := s.Start(context.Background(), audio.SourceSystem, "", "win1"); err != nil {
		t.Fatalf("Expected a fresh start to succeed, got: %v", err)
	}
	if s.State() != StateRecording {
		t.Errorf("Expected recording state, got %s", s.State())
	}
}

// sampleFrames returns how many sample frames a 16-bit stereo payload holds
func sampleFrames(t *testing.T, payload []byte) int {
	t.Helper()
	const header = 44
	if len(payload) < header {
		t.Fatalf("Payload of %d bytes has no WAV header", len(payload))
	}
	return (len(payload) - header) / 4
}

// waitDrained waits until the capture stream has read everything pushed
func waitDrained(t *testing.T, frames chan audio.Frame) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(frames) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for frames to be read")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
}

func TestSession_EncodesEveryFrameOfABurst(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	if err := s.Start(context.Background(), audio.SourceMicrophone, "", ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	const frames, perFrame = 2000, 441
	samples := make([]float32, perFrame)
	for i := 0; i < frames; i++ {
		p.micFrames[0] <- audio.Frame{Samples: samples, Channels: 1}
	}
	waitDrained(t, p.micFrames[0])

	payload, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := sampleFrames(t, payload); got != frames*perFrame {
		t.Errorf("Expected %d encoded sample frames, got %d", frames*perFrame, got)
	}
}

func TestSession_StopKeepsTheMixTail(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	if err := s.Start(context.Background(), audio.SourceBoth, "", "win1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// 100 ms of microphone audio with a silent system input stays below the
	// lag limit, so all of it is still pending in the mix when Stop runs
	const frames, perFrame = 10, 441
	samples := make([]float32, perFrame)
	for i := 0; i < frames; i++ {
		p.micFrames[0] <- audio.Frame{Samples: samples, Channels: 1}
	}
	waitDrained(t, p.micFrames[0])

	payload, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := sampleFrames(t, payload); got != frames*perFrame {
		t.Errorf("Expected %d encoded sample frames, got %d", frames*perFrame, got)
	}
	if n := p.liveTracks(); n != 0 {
		t.Errorf("Expected every track stopped, %d still live", n)
	}
}

func TestSession_RejectsUnknownSource(t *testing.T) {
	p := &fakePlatform{}
	s, _, _ := newTestSession(p)
	defer s.Close()

	if err := s.Start(context.Background(), audio.Source("speakers"), "", ""); err == nil {
		t.Error("Expected error for unknown source")
	}
	if p.micCalls != 0 || p.deskCalls != 0 {
		t.Error("Expected no platform calls")
	}
}
