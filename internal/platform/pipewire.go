package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/audiolibrelab/mixcapture/internal/audio"
)

// runner executes a command and returns its stdout
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PipeWire lists output ports with pw-link and captures them with pw-record
type PipeWire struct {
	sampleRate int
	channels   int

	run      runner
	lookPath func(string) (string, error)
	record   func(ctx context.Context, target string, sampleRate, channels int) (*processSource, error)
}

// NewPipeWire creates a PipeWire backend for the given capture format
func NewPipeWire(sampleRate, channels int) *PipeWire {
	return &PipeWire{
		sampleRate: sampleRate,
		channels:   channels,
		run:        execRunner,
		lookPath:   exec.LookPath,
		record:     startRecord,
	}
}

// Available reports whether the PipeWire tools are installed
func (pw *PipeWire) Available() error {
	for _, tool := range []string{"pw-link", "pw-record"} {
		if _, err := pw.lookPath(tool); err != nil {
			return fmt.Errorf("%s not found: %w", tool, audio.ErrSystemAudioUnavailable)
		}
	}
	return nil
}

// ListPorts returns every output port in the PipeWire graph
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	output, err := pw.run(ctx, "pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ListDesktopSources groups output ports by node. Each node that produces
// audio is a source that can be recorded.
func (pw *PipeWire) ListDesktopSources(ctx context.Context) ([]audio.DesktopSource, error) {
	if err := pw.Available(); err != nil {
		return nil, err
	}
	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return nil, err
	}
	return groupSources(ports), nil
}

// OpenDesktopAudio records every output port of the node named sourceID.
// A node without output ports yields a source with no tracks.
func (pw *PipeWire) OpenDesktopAudio(ctx context.Context, sourceID string) (audio.CaptureSource, error) {
	if err := pw.Available(); err != nil {
		return nil, err
	}

	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return nil, err
	}

	matching := portsForSource(ports, sourceID)
	if len(matching) == 0 {
		slog.Debug("Desktop source has no audio ports", "source", sourceID)
		return emptySource(), nil
	}
	for _, port := range matching {
		if dups := findPortDuplicatesInList(port, ports); len(dups) > 1 {
			return nil, fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", port, dups)
		}
	}

	src, err := pw.record(ctx, sourceID, pw.sampleRate, pw.channels)
	if err != nil {
		return nil, err
	}
	src.setTracks(matching)

	slog.Debug("Desktop audio capture started", "source", sourceID, "ports", len(matching))
	return src, nil
}

// OpenMicrophone records the default PipeWire source, or the node deviceID
func (pw *PipeWire) OpenMicrophone(ctx context.Context, deviceID string) (audio.CaptureSource, error) {
	if err := pw.Available(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrAcquisitionFailed, err)
	}

	target := deviceID
	if target == "default" {
		target = ""
	}
	if target != "" {
		ports, err := pw.ListPorts(ctx)
		if err != nil {
			return nil, err
		}
		if len(portsForSource(ports, target)) == 0 {
			return nil, fmt.Errorf("PipeWire node %q: %w", target, audio.ErrDeviceNotFound)
		}
	}

	src, err := pw.record(ctx, target, pw.sampleRate, pw.channels)
	if err != nil {
		return nil, err
	}
	label := target
	if label == "" {
		label = "default"
	}
	src.setTracks([]string{label})
	return src, nil
}

// parsePorts extracts port names from pw-link output
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		// Link lines ("|->", "|<-") describe connections, not ports
		if strings.HasPrefix(line, "|") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// nodeName returns the part of a port name before its last colon
func nodeName(port string) string {
	if i := strings.LastIndex(port, ":"); i > 0 {
		return port[:i]
	}
	return port
}

func groupSources(ports []string) []audio.DesktopSource {
	seen := make(map[string]bool)
	var sources []audio.DesktopSource
	for _, port := range ports {
		node := nodeName(port)
		if seen[node] {
			continue
		}
		seen[node] = true
		sources = append(sources, audio.DesktopSource{ID: node, Name: node})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources
}

func portsForSource(ports []string, sourceID string) []string {
	var matching []string
	seen := make(map[string]bool)
	for _, port := range ports {
		if nodeName(port) == sourceID && !seen[port] {
			seen[port] = true
			matching = append(matching, port)
		}
	}
	return matching
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}
