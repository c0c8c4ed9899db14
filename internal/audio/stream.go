package audio

import (
	"log/slog"
	"sync"
)

// Stream is a live capture stream owned by one recording session. It reads
// frames from its CaptureSource and fans them out to any number of
// subscribers. Neither kind of subscriber can stall capture: a bounded
// subscriber loses frames when it falls behind, a lossless one queues them.
type Stream struct {
	endpoint Endpoint
	source   CaptureSource

	mu      sync.Mutex
	subs    map[int]chan Frame
	queues  map[int]*FrameQueue
	nextID  int
	closed  bool
	dropped int

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewStream wraps a validated capture source and starts delivering frames
func NewStream(endpoint Endpoint, source CaptureSource) *Stream {
	s := &Stream{
		endpoint: endpoint,
		source:   source,
		subs:     make(map[int]chan Frame),
		queues:   make(map[int]*FrameQueue),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s
}

// Endpoint returns what the stream was captured from
func (s *Stream) Endpoint() Endpoint {
	return s.endpoint
}

// Tracks returns every track of the underlying source
func (s *Stream) Tracks() []Track {
	return s.source.Tracks()
}

// AudioTracks returns the tracks whose kind is audio
func (s *Stream) AudioTracks() []Track {
	return audioTracks(s.source)
}

// Subscribe registers a bounded consumer that skips frames while its buffer
// is full. The returned channel is closed when the stream ends or when the
// returned cancel func is called.
func (s *Stream) Subscribe(buffer int) (<-chan Frame, func()) {
	ch := make(chan Frame, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// SubscribeLossless registers a consumer that receives every frame. Cancel
// stops new frames; the channel closes once the queued ones were read, so
// the consumer must keep reading until then.
func (s *Stream) SubscribeLossless() (<-chan Frame, func()) {
	q := NewFrameQueue()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		q.Close()
		return q.Frames(), func() {}
	}

	id := s.nextID
	s.nextID++
	s.queues[id] = q

	return q.Frames(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if q, ok := s.queues[id]; ok {
			delete(s.queues, id)
			q.Close()
		}
	}
}

// Dropped returns how many frames bounded subscribers have missed
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop stops every track of the stream. Safe to call repeatedly.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.source.Tracks() {
			if t != nil {
				t.Stop()
			}
		}
		close(s.stopChan)
		slog.Debug("Capture stream stopped", "endpoint", s.endpoint, "dropped", s.Dropped())
	})
}

// Done is closed once the stream has delivered its last frame
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) pump() {
	defer s.finish()

	frames := s.source.Frames()
	for {
		select {
		case <-s.stopChan:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			s.broadcast(f)
		}
	}
}

func (s *Stream) broadcast(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		select {
		case sub <- f:
		default:
			s.dropped++
		}
	}
	for _, q := range s.queues {
		q.Push(f)
	}
}

func (s *Stream) finish() {
	s.mu.Lock()
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
	for id, q := range s.queues {
		delete(s.queues, id)
		q.Close()
	}
	s.mu.Unlock()
	close(s.done)
}
