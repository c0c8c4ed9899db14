package graph

import (
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// maxLag is how far, in seconds of audio, one input may run ahead of another
// before the slower one is treated as silent for the difference.
const maxLag = 0.25

// Destination sums every connected input into a single output signal.
// Samples are aligned by arrival order, not by wall clock.
type Destination struct {
	mu       sync.Mutex
	channels int
	lagLimit int
	inputs   []*destinationInput
	out      *audio.FrameQueue
	closed   bool
}

type destinationInput struct {
	dest    *Destination
	role    Role
	pending []float32
}

func newDestination(sampleRate, channels int) *Destination {
	return &Destination{
		channels: channels,
		lagLimit: int(float64(sampleRate)*maxLag) * channels,
		out:      audio.NewFrameQueue(),
	}
}

func (d *Destination) input(role Role) *destinationInput {
	d.mu.Lock()
	defer d.mu.Unlock()

	in := &destinationInput{dest: d, role: role}
	d.inputs = append(d.inputs, in)
	return in
}

func (in *destinationInput) push(f audio.Frame) {
	d := in.dest
	f = f.WithChannels(d.channels)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	in.pending = append(in.pending, f.Samples...)
	d.flush()
}

// flush emits the samples every input has contributed to. When one input is
// further ahead than lagLimit, the others are padded with silence.
func (d *Destination) flush() {
	ready, lead := d.pending()
	if lead > d.lagLimit {
		ready = lead
	}
	d.emit(ready)
}

// pending returns the shortest and the longest input backlog
func (d *Destination) pending() (ready, lead int) {
	ready = -1
	for _, in := range d.inputs {
		if ready < 0 || len(in.pending) < ready {
			ready = len(in.pending)
		}
		if len(in.pending) > lead {
			lead = len(in.pending)
		}
	}
	return ready, lead
}

func (d *Destination) emit(ready int) {
	ready -= ready % d.channels
	if ready <= 0 {
		return
	}

	mixed := make([]float32, ready)
	for _, in := range d.inputs {
		n := ready
		if n > len(in.pending) {
			n = len(in.pending)
		}
		for i := 0; i < n; i++ {
			mixed[i] += in.pending[i]
		}
		in.pending = in.pending[n:]
	}
	for i, s := range mixed {
		mixed[i] = clamp(s)
	}

	d.out.Push(audio.Frame{Samples: mixed, Channels: d.channels})
}

// stop mixes whatever the inputs still hold, padding the shorter ones with
// silence, and ends the output after it
func (d *Destination) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	_, lead := d.pending()
	d.emit(lead)
	d.closed = true
	d.inputs = nil
	d.out.Close()
}

// abandon ends the output without waiting for a reader
func (d *Destination) abandon() {
	d.stop()
	d.out.Abandon()
}

// Tracks implements audio.CaptureSource
func (d *Destination) Tracks() []audio.Track {
	return []audio.Track{mixTrack{d}}
}

// Frames implements audio.CaptureSource
func (d *Destination) Frames() <-chan audio.Frame {
	return d.out.Frames()
}

type mixTrack struct {
	dest *Destination
}

func (t mixTrack) ID() string    { return "mix" }
func (t mixTrack) Kind() string  { return audio.TrackKindAudio }
func (t mixTrack) Label() string { return "Mixed output" }
func (t mixTrack) Stop()         { t.dest.stop() }

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}
