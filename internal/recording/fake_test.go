package recording

import (
	"context"
	"sync"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

type fakeTrack struct {
	kind  string
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string    { return "fake" }
func (t *fakeTrack) Kind() string  { return t.kind }
func (t *fakeTrack) Label() string { return "fake " + t.kind }

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
	tracks []audio.Track
	frames chan audio.Frame
}

func (s *fakeSource) Tracks() []audio.Track      { return s.tracks }
func (s *fakeSource) Frames() <-chan audio.Frame { return s.frames }

// fakePlatform hands out a fresh source per call and remembers every track
// it created
type fakePlatform struct {
	mu           sync.Mutex
	micErr       error
	deskErr      error
	deskNoAudio  bool
	micCalls     int
	deskCalls    int
	tracks       []*fakeTrack
	micFrames    []chan audio.Frame
	systemFrames []chan audio.Frame

	// When set, OpenDesktopAudio signals deskEntered and then blocks until
	// deskGate is closed
	deskEntered chan struct{}
	deskGate    chan struct{}
}

func (p *fakePlatform) newSource(kind string) *fakeSource {
	tr := &fakeTrack{kind: kind}
	p.tracks = append(p.tracks, tr)
	return &fakeSource{tracks: []audio.Track{tr}, frames: make(chan audio.Frame, 16)}
}

func (p *fakePlatform) OpenMicrophone(ctx context.Context, deviceID string) (audio.CaptureSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.micCalls++
	if p.micErr != nil {
		return nil, p.micErr
	}
	src := p.newSource(audio.TrackKindAudio)
	p.micFrames = append(p.micFrames, src.frames)
	return src, nil
}

func (p *fakePlatform) OpenDesktopAudio(ctx context.Context, sourceID string) (audio.CaptureSource, error) {
	if p.deskGate != nil {
		p.deskEntered <- struct{}{}
		<-p.deskGate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.deskCalls++
	if p.deskErr != nil {
		return nil, p.deskErr
	}
	kind := audio.TrackKindAudio
	if p.deskNoAudio {
		kind = "video"
	}
	src := p.newSource(kind)
	p.systemFrames = append(p.systemFrames, src.frames)
	return src, nil
}

// liveTracks counts tracks that were never stopped
func (p *fakePlatform) liveTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, t := range p.tracks {
		if t.stopCount() == 0 {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
