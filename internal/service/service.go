package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/config"
	"github.com/audiolibrelab/mixcapture/internal/graph"
	"github.com/audiolibrelab/mixcapture/internal/monitor"
	"github.com/audiolibrelab/mixcapture/internal/play"
	"github.com/audiolibrelab/mixcapture/internal/recording"
)

// Service is what the CLI and the web server drive
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, req StartRequest) error
	PauseRecording() error
	ResumeRecording() error
	StopRecording(ctx context.Context) ([]byte, error)
	AbortRecording()
	GetStatus() Status
	SetGain(role graph.Role, value float64) error

	// Monitoring
	OnLevels(fn func(monitor.Levels))
	OnWaveform(fn func([]float32))

	// Sources
	ListInputDevices(ctx context.Context) ([]audio.Device, error)
	ListDesktopSources(ctx context.Context) ([]audio.DesktopSource, error)

	// Persistence and playback
	SaveRecording(name string, payload []byte) (string, error)
	ListRecordings() ([]RecordingInfo, error)
	Play(name string) error

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config
	GetLastError() string

	Close()
}

// Platform is everything the service needs from the capture backends
type Platform interface {
	audio.Platform
	audio.DeviceLister
	audio.DesktopSourceLister
}

// StartRequest overrides the configured capture selection. Empty fields fall
// back to the config.
type StartRequest struct {
	Source     string `json:"source"`
	Microphone string `json:"microphone"`
	System     string `json:"system"`
}

// Status combines the session snapshot with the service error state
type Status struct {
	recording.Info
	Levels    monitor.Levels `json:"levels"`
	LastError string         `json:"last_error,omitempty"`
}

// RecordingInfo describes a saved recording
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	DownloadURL  string    `json:"download_url"`
}

// MixCaptureService is the main service implementation
type MixCaptureService struct {
	configFile string
	platform   Platform
	opts       []recording.Option

	mu      sync.RWMutex
	cfg     *config.Config
	session *recording.Session

	observerMutex sync.RWMutex
	onLevels      func(monitor.Levels)
	onWaveform    func([]float32)
	lastLevels    monitor.Levels

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service instance. Extra options are applied to every
// recording session after the ones derived from cfg.
func New(cfg *config.Config, configFile string, platform Platform, opts ...recording.Option) Service {
	s := &MixCaptureService{
		cfg:        cfg,
		configFile: configFile,
		platform:   platform,
		opts:       opts,
	}
	s.session = s.newSession(cfg)
	return s
}

func (s *MixCaptureService) newSession(cfg *config.Config) *recording.Session {
	opts := []recording.Option{
		recording.WithFormat(cfg.EncoderFormat()),
		recording.WithScheduler(monitor.NewFrameScheduler(cfg.Monitor.FPS)),
	}
	opts = append(opts, s.opts...)

	session := recording.New(audio.NewAcquirer(s.platform), opts...)
	session.OnLevels(s.emitLevels)
	session.OnWaveform(s.emitWaveform)
	return session
}

func (s *MixCaptureService) current() (*recording.Session, *config.Config) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.cfg
}

// StartRecording starts a session with the configured capture selection,
// overridden by req, then applies the configured gains
func (s *MixCaptureService) StartRecording(ctx context.Context, req StartRequest) error {
	session, cfg := s.current()
	s.clearLastError()

	capture := cfg.Capture
	if req.Source != "" {
		capture.Source = req.Source
	}
	if req.Microphone != "" {
		capture.Microphone = req.Microphone
	}
	if req.System != "" {
		capture.System = req.System
	}

	source, err := audio.ParseSource(capture.Source)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	slog.Debug("Service.StartRecording called", "source", source, "microphone", capture.Microphone, "system", capture.System)
	if err := session.Start(ctx, source, capture.Microphone, capture.System); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	s.applyGains(session, cfg.Gains)
	return nil
}

func (s *MixCaptureService) applyGains(session *recording.Session, gains config.GainConfig) {
	for role, g := range map[graph.Role]*float64{
		graph.RoleMicrophone: gains.Microphone,
		graph.RoleSystem:     gains.System,
	} {
		if g == nil {
			continue
		}
		// Roles that are not part of this recording are skipped
		if err := session.SetGain(role, *g); err != nil {
			slog.Debug("Gain not applied", "role", role, "error", err)
		}
	}
}

// PauseRecording pauses an active recording
func (s *MixCaptureService) PauseRecording() error {
	session, _ := s.current()
	if st := session.State(); st != recording.StateRecording {
		return fmt.Errorf("cannot pause while %s: %w", st, audio.ErrNoActiveRecording)
	}
	session.Pause()
	return nil
}

// ResumeRecording resumes a paused recording
func (s *MixCaptureService) ResumeRecording() error {
	session, _ := s.current()
	if st := session.State(); st != recording.StatePaused {
		return fmt.Errorf("cannot resume while %s: %w", st, audio.ErrNoActiveRecording)
	}
	session.Resume()
	return nil
}

// StopRecording finalizes the current recording and returns its payload
func (s *MixCaptureService) StopRecording(ctx context.Context) ([]byte, error) {
	session, _ := s.current()

	payload, err := session.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	s.clearLastError()
	return payload, nil
}

// AbortRecording drops the current recording
func (s *MixCaptureService) AbortRecording() {
	session, _ := s.current()
	session.Abort()
}

// GetStatus returns the session snapshot, latest levels and last error
func (s *MixCaptureService) GetStatus() Status {
	session, _ := s.current()

	s.observerMutex.RLock()
	levels := s.lastLevels
	s.observerMutex.RUnlock()

	info := session.Info()
	if info.State != recording.StateRecording && info.State != recording.StatePaused {
		levels = monitor.Levels{}
	}

	return Status{
		Info:      info,
		Levels:    levels,
		LastError: s.GetLastError(),
	}
}

// SetGain changes the gain of one input of the current recording
func (s *MixCaptureService) SetGain(role graph.Role, value float64) error {
	session, _ := s.current()
	return session.SetGain(role, value)
}

// OnLevels registers the levels observer. It survives profile reloads.
func (s *MixCaptureService) OnLevels(fn func(monitor.Levels)) {
	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()
	s.onLevels = fn
}

// OnWaveform registers the waveform observer. It survives profile reloads.
func (s *MixCaptureService) OnWaveform(fn func([]float32)) {
	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()
	s.onWaveform = fn
}

func (s *MixCaptureService) emitLevels(l monitor.Levels) {
	s.observerMutex.Lock()
	s.lastLevels = l
	fn := s.onLevels
	s.observerMutex.Unlock()

	if fn != nil {
		fn(l)
	}
}

func (s *MixCaptureService) emitWaveform(w []float32) {
	s.observerMutex.RLock()
	fn := s.onWaveform
	s.observerMutex.RUnlock()

	if fn != nil {
		fn(w)
	}
}

func (s *MixCaptureService) ListInputDevices(ctx context.Context) ([]audio.Device, error) {
	devices, err := s.platform.ListInputDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}
	return devices, nil
}

func (s *MixCaptureService) ListDesktopSources(ctx context.Context) ([]audio.DesktopSource, error) {
	sources, err := s.platform.ListDesktopSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list desktop sources: %w", err)
	}
	return sources, nil
}

// SaveRecording writes payload to <output dir>/<clean name>.wav and returns
// the path. An empty name is replaced by a timestamp.
func (s *MixCaptureService) SaveRecording(name string, payload []byte) (string, error) {
	_, cfg := s.current()

	if len(payload) == 0 {
		return "", errors.New("nothing to save: recording payload is empty")
	}

	cleanName := cleanFileName(name)
	if cleanName == "" {
		cleanName = "recording_" + time.Now().Format("20060102_150405")
	}

	dir := cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, cleanName+"."+recordingExtension)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}

	slog.Info("Recording saved", "path", path, "size", formatBytes(int64(len(payload))))
	return path, nil
}

// ListRecordings returns saved recordings, newest first
func (s *MixCaptureService) ListRecordings() ([]RecordingInfo, error) {
	_, cfg := s.current()
	dir := cfg.Output.Directory

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), "."+recordingExtension) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			DownloadURL:  fmt.Sprintf("/api/recordings/%s", file.Name()),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// Play plays a saved recording by name or path
func (s *MixCaptureService) Play(name string) error {
	_, cfg := s.current()
	return play.New(cfg.Output.Directory).Play(name)
}

// LoadProfile switches to another configuration profile. It is refused
// while a recording is in progress.
func (s *MixCaptureService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.session.State(); st == recording.StateRecording || st == recording.StatePaused {
		return fmt.Errorf("cannot switch profile: %w", audio.ErrSessionActive)
	}

	s.session.Close()
	s.cfg = newCfg
	s.session = s.newSession(newCfg)
	slog.Info("Profile loaded", "profile", newCfg.Profile)
	return nil
}

// GetConfig returns the current configuration
func (s *MixCaptureService) GetConfig() *config.Config {
	_, cfg := s.current()
	return cfg
}

// Close releases the recording session
func (s *MixCaptureService) Close() {
	session, _ := s.current()
	session.Close()
}

// GetLastError returns the last error message (thread-safe)
func (s *MixCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MixCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MixCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

const recordingExtension = "wav"

// cleanFileName keeps letters, digits, hyphens and underscores and turns
// spaces into underscores
func cleanFileName(name string) string {
	name = strings.TrimSuffix(name, "."+recordingExtension)

	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
