package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// chunkFrames is how many sample frames are read from pw-record at a time
const chunkFrames = 1024

const stopTimeout = 2 * time.Second

// processSource streams raw f32 PCM from a pw-record process. The process is
// interrupted once every track has been stopped.
type processSource struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	channels int
	frames   chan audio.Frame

	mu      sync.Mutex
	tracks  []audio.Track
	live    int
	stopped bool
	done    chan struct{}
}

func startRecord(ctx context.Context, target string, sampleRate, channels int) (*processSource, error) {
	args := []string{
		"--rate", strconv.Itoa(sampleRate),
		"--channels", strconv.Itoa(channels),
		"--format", "f32",
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	args = append(args, "-")

	// Not bound to ctx: the stream outlives the acquisition call
	cmd := exec.Command("pw-record", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pw-record stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start pw-record: %w", err)
	}

	src := newProcessSource(cmd, stdout, channels)
	go src.read()
	return src, nil
}

func newProcessSource(cmd *exec.Cmd, stdout io.ReadCloser, channels int) *processSource {
	return &processSource{
		cmd:      cmd,
		stdout:   stdout,
		channels: channels,
		frames:   make(chan audio.Frame, 64),
		done:     make(chan struct{}),
	}
}

// emptySource is a live source without any tracks
func emptySource() *processSource {
	src := &processSource{frames: make(chan audio.Frame), done: make(chan struct{})}
	close(src.frames)
	close(src.done)
	return src
}

func (s *processSource) setTracks(ports []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracks = make([]audio.Track, len(ports))
	for i, port := range ports {
		s.tracks[i] = &portTrack{source: s, port: port}
	}
	s.live = len(ports)
}

func (s *processSource) Tracks() []audio.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

func (s *processSource) Frames() <-chan audio.Frame {
	return s.frames
}

func (s *processSource) read() {
	defer close(s.done)
	defer close(s.frames)

	buf := make([]byte, chunkFrames*s.channels*4)
	for {
		n, err := io.ReadFull(s.stdout, buf)
		if n > 0 {
			f := decodeF32LE(buf[:n], s.channels)
			select {
			case s.frames <- f:
			default:
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Debug("pw-record read ended", "error", err)
			}
			break
		}
	}

	if err := s.cmd.Wait(); err != nil && !s.isStopped() {
		slog.Warn("pw-record exited", "error", err)
	}
}

func (s *processSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *processSource) trackStopped() {
	s.mu.Lock()
	s.live--
	last := s.live <= 0 && !s.stopped
	if last {
		s.stopped = true
	}
	s.mu.Unlock()

	if last {
		s.terminate()
	}
}

// terminate interrupts pw-record so it flushes and exits
func (s *processSource) terminate() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		slog.Warn("pw-record did not exit after interrupt, killing it")
		_ = s.cmd.Process.Kill()
		<-s.done
	}
}

type portTrack struct {
	source *processSource
	port   string
	once   sync.Once
}

func (t *portTrack) ID() string    { return t.port }
func (t *portTrack) Kind() string  { return audio.TrackKindAudio }
func (t *portTrack) Label() string { return t.port }
func (t *portTrack) Stop()         { t.once.Do(t.source.trackStopped) }
