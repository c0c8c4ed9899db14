package audio

import "sync"

// FrameQueue is an unbounded frame queue. Push never blocks, so a slow
// consumer delays audio instead of losing it. The consumer must read Frames
// until it is closed, or call Abandon.
type FrameQueue struct {
	mu     sync.Mutex
	frames []Frame
	closed bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	out      chan Frame
}

// NewFrameQueue creates a queue and starts delivering to Frames
func NewFrameQueue() *FrameQueue {
	q := &FrameQueue{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		out:  make(chan Frame),
	}
	go q.forward()
	return q
}

// Push appends a frame. It reports false once the queue is closed.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	q.signal()
	return true
}

// Close refuses further frames. Frames closes after the queued ones have
// been delivered.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Abandon drops whatever is still queued and closes Frames without waiting
// for a reader
func (q *FrameQueue) Abandon() {
	q.Close()
	q.quitOnce.Do(func() { close(q.quit) })
}

// Frames delivers queued frames in order
func (q *FrameQueue) Frames() <-chan Frame {
	return q.out
}

func (q *FrameQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *FrameQueue) forward() {
	defer close(q.out)

	for {
		q.mu.Lock()
		batch := q.frames
		q.frames = nil
		closed := q.closed
		q.mu.Unlock()

		for _, f := range batch {
			select {
			case q.out <- f:
			case <-q.quit:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-q.wake:
		case <-q.quit:
			return
		}
	}
}
