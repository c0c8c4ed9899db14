package audio

import (
	"context"
	"sync"
)

// fakeTrack records how often it was stopped
type fakeTrack struct {
	id    string
	kind  string
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string    { return t.id }
func (t *fakeTrack) Kind() string  { return t.kind }
func (t *fakeTrack) Label() string { return t.id }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeSource struct {
	tracks []Track
	frames chan Frame
}

func (s *fakeSource) Tracks() []Track      { return s.tracks }
func (s *fakeSource) Frames() <-chan Frame { return s.frames }

func newFakeSource(trackCount int) (*fakeSource, []*fakeTrack) {
	src := &fakeSource{frames: make(chan Frame, 16)}
	var tracks []*fakeTrack
	for i := 0; i < trackCount; i++ {
		t := &fakeTrack{id: "track", kind: TrackKindAudio}
		tracks = append(tracks, t)
		src.tracks = append(src.tracks, t)
	}
	return src, tracks
}

type fakePlatform struct {
	mic       CaptureSource
	micErr    error
	desktop   CaptureSource
	deskErr   error
	deskCalls int
}

func (p *fakePlatform) OpenMicrophone(ctx context.Context, deviceID string) (CaptureSource, error) {
	if p.micErr != nil {
		return nil, p.micErr
	}
	return p.mic, nil
}

func (p *fakePlatform) OpenDesktopAudio(ctx context.Context, sourceID string) (CaptureSource, error) {
	p.deskCalls++
	if p.deskErr != nil {
		return nil, p.deskErr
	}
	return p.desktop, nil
}
