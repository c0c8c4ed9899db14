// Package graph routes live capture streams through gain and analysis nodes
// and optionally sums them into a single mixed stream.
package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// Role identifies which input a processing chain belongs to
type Role string

const (
	RoleMicrophone Role = "microphone"
	RoleSystem     Role = "system"
)

// chain is stream -> gain -> analyser, with the gain optionally feeding a
// destination as well
type chain struct {
	role     Role
	gain     *Gain
	analyser *Analyser
	cancel   func()
	done     chan struct{}
}

func (c *chain) run(frames <-chan audio.Frame) {
	defer close(c.done)
	for f := range frames {
		out := c.gain.Process(f)
		c.analyser.Write(out)
		c.gain.emit(out)
	}
}

func (c *chain) disconnect() {
	c.cancel()
	<-c.done
	c.gain.disconnect()
	c.analyser.disconnect()
}

// Context owns the processing nodes of one recording session. It is created
// once and reused across recordings; Disconnect tears down the nodes of the
// current recording without closing the context.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	closed     bool

	chains map[Role]*chain
	dest   *Destination
	mix    *audio.Stream
}

// NewContext creates a processing context for the given output format
func NewContext(sampleRate, channels int) *Context {
	if channels <= 0 {
		channels = 2
	}
	return &Context{
		sampleRate: sampleRate,
		channels:   channels,
		chains:     make(map[Role]*chain),
	}
}

// AttachAnalysis creates a gain and an analyser for the stream and connects
// stream -> gain -> analyser. Attaching a role twice replaces the previous
// chain for that role.
func (c *Context) AttachAnalysis(stream *audio.Stream, role Role) (*Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("attach %s analysis: %w", role, audio.ErrGraphNotInitialized)
	}
	if stream == nil {
		return nil, fmt.Errorf("attach %s analysis: no stream", role)
	}

	if old, ok := c.chains[role]; ok {
		old.disconnect()
		delete(c.chains, role)
	}

	frames, cancel := stream.SubscribeLossless()
	ch := &chain{
		role:     role,
		gain:     NewGain(),
		analyser: NewAnalyser(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.chains[role] = ch
	go ch.run(frames)

	slog.Debug("Analysis chain attached", "role", role, "endpoint", stream.Endpoint())
	return ch.analyser, nil
}

// MergeActive connects every existing gain node to a fresh destination and
// returns the destination's output stream.
func (c *Context) MergeActive() (*audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.chains) == 0 {
		return nil, fmt.Errorf("merge streams: %w", audio.ErrGraphNotInitialized)
	}

	c.releaseDestination()

	dest := newDestination(c.sampleRate, c.channels)
	for _, role := range c.rolesLocked() {
		ch := c.chains[role]
		ch.gain.connect(dest.input(role))
	}
	c.dest = dest
	c.mix = audio.NewStream(audio.EndpointMix, dest)

	slog.Debug("Streams merged", "inputs", len(c.chains))
	return c.mix, nil
}

// Analyser returns the analyser attached for a role, or nil
func (c *Context) Analyser(role Role) *Analyser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chains[role]; ok {
		return ch.analyser
	}
	return nil
}

// Gain returns the gain node attached for a role, or nil
func (c *Context) Gain(role Role) *Gain {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chains[role]; ok {
		return ch.gain
	}
	return nil
}

// ActiveNodes lists the roles that currently have a chain attached
func (c *Context) ActiveNodes() []Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rolesLocked()
}

// Merged reports whether a destination is currently connected
func (c *Context) Merged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dest != nil
}

// Drain stops reading the inputs, runs every frame already captured through
// the chains and returns once the mixed stream has delivered the last of
// them. The nodes stay attached until Disconnect.
func (c *Context) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.chains {
		ch.cancel()
		<-ch.done
	}
	if c.dest != nil {
		c.dest.stop()
	}
	if c.mix != nil {
		<-c.mix.Done()
	}
}

// Disconnect detaches every chain and releases the destination. Safe to call
// on a context with nothing attached.
func (c *Context) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for role, ch := range c.chains {
		ch.disconnect()
		delete(c.chains, role)
	}
	c.releaseDestination()
}

// Close disconnects everything and refuses further attachments
func (c *Context) Close() {
	c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Context) releaseDestination() {
	for _, ch := range c.chains {
		ch.gain.disconnect()
	}
	if c.mix != nil {
		c.mix.Stop()
		c.mix = nil
	}
	if c.dest != nil {
		c.dest.abandon()
	}
	c.dest = nil
}

func (c *Context) rolesLocked() []Role {
	roles := make([]Role, 0, len(c.chains))
	for role := range c.chains {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
