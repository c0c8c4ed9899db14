package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/config"
	"github.com/audiolibrelab/mixcapture/internal/encoder"
	"github.com/audiolibrelab/mixcapture/internal/graph"
	"github.com/audiolibrelab/mixcapture/internal/recording"
	"github.com/audiolibrelab/mixcapture/internal/service"
)

// Server is the web remote control for a recording service
type Server struct {
	service    service.Service
	configFile string
	port       string
	hub        *levelHub
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message       string `json:"message,omitempty"`
	ActiveProfile string `json:"active_profile"`
}

// RecordingsResponse represents the JSON response for the recordings endpoint
type RecordingsResponse struct {
	Recordings      []service.RecordingInfo `json:"recordings"`
	TotalCount      int                     `json:"total_count"`
	OutputDirectory string                  `json:"output_directory"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a web server around svc and subscribes to its monitoring ticks
func New(svc service.Service, configFile, port string) *Server {
	s := &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		hub:        newLevelHub(),
	}
	svc.OnLevels(s.hub.onLevels)
	svc.OnWaveform(s.hub.onWaveform)
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/gain", s.handleGain)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/desktop-sources", s.handleDesktopSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/", s.handleRecordingDownload)
	mux.HandleFunc("/ws/levels", s.handleLevels)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// aborts any recording left running
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting MixCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	s.hub.closeAll()
	s.service.AbortRecording()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// handleIndex serves a minimal control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStart starts a recording. The capture selection comes from a JSON
// body or form values and falls back to the active profile.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req, err := decodeStartRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid start request: %v", err))
		return
	}

	if err := s.service.StartRecording(r.Context(), req); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "start_recording")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"status":  s.service.GetStatus(),
	})
}

func decodeStartRequest(r *http.Request) (service.StartRequest, error) {
	var req service.StartRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Source = r.FormValue("source")
	req.Microphone = r.FormValue("microphone")
	req.System = r.FormValue("system")
	return req, nil
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.PauseRecording(); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "pause_recording")
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.ResumeRecording(); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "resume_recording")
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording resumed"})
}

// finalizeTimeout bounds how long /stop waits for the encoder
const finalizeTimeout = 30 * time.Second

// handleStop finalizes the recording and answers with the WAV payload. With
// ?name= the payload is also saved to the output directory. Finalizing does
// not depend on the client staying connected.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finalizeTimeout)
	defer cancel()
	payload, err := s.service.StopRecording(ctx)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "stop_recording")
		return
	}

	filename := "recording.wav"
	if name := r.URL.Query().Get("name"); name != "" {
		path, err := s.service.SaveRecording(name, payload)
		if err != nil {
			// The payload is still returned so nothing is lost
			slog.Error("Failed to save recording", "name", name, "error", err)
		} else {
			filename = filepath.Base(path)
			w.Header().Set("X-Recording-Path", path)
		}
	}

	w.Header().Set("Content-Type", encoder.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		slog.Error("Error sending recording", "error", err)
	}
}

// handleGain sets the gain of one input, e.g. role=microphone&value=0.5
func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	role := graph.Role(r.FormValue("role"))
	if role != graph.RoleMicrophone && role != graph.RoleSystem {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown input '%s'", role))
		return
	}
	value, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid gain value: %v", err))
		return
	}

	if err := s.service.SetGain(role, value); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "set_gain")
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("%s gain set", role)})
}

// handleStatus returns the current session state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.GetStatus()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        status,
		Message:       generateStatusMessage(status),
		ActiveProfile: s.service.GetConfig().Profile,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	devices, err := s.service.ListInputDevices(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_devices")
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (s *Server) handleDesktopSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sources, err := s.service.ListDesktopSources(r.Context())
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "list_desktop_sources")
		return
	}
	if sources == nil {
		sources = []audio.DesktopSource{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":       s.getAvailableProfiles(),
		"active_profile": s.service.GetConfig().Profile,
	})
}

// getAvailableProfiles lists the profiles of the config file, sorted
func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}
	if s.configFile == "" {
		return profiles
	}
	if _, err := os.Stat(s.configFile); err != nil {
		return profiles
	}

	root, err := config.ReadRootConfig(s.configFile)
	if err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}
	for name := range root.Profiles {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles
}

// handleSelectProfile switches the active profile and persists the choice
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "profile", profile, "operation", "profile_selection")
		return
	}

	if err := config.UpdateActiveProfile(s.configFile, profile); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save profile selection to config file: %v", err))
		return
	}

	slog.Info("Profile changed", "profile", profile)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile changed to %s", profile),
		"profile": profile,
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	recs, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_recordings")
		return
	}
	if recs == nil {
		recs = []service.RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings:      recs,
		TotalCount:      len(recs),
		OutputDirectory: s.service.GetConfig().Output.Directory,
	})
}

// handleRecordingDownload serves a saved recording
func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(s.service.GetConfig().Output.Directory, filename)
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// handleLevels streams {levels, waveform} once per monitoring tick
func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrSessionActive), errors.Is(err, audio.ErrNoActiveRecording),
		errors.Is(err, recording.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrSourceRequired):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNoAudioTracks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audio.ErrSystemAudioUnavailable), errors.Is(err, recording.ErrSessionClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// generateStatusMessage creates a user-friendly message for the session state
func generateStatusMessage(status service.Status) string {
	switch status.State {
	case recording.StateIdle:
		if status.LastError != "" {
			return status.LastError
		}
		return "Ready to record"
	case recording.StateRecording:
		return fmt.Sprintf("Recording %s (%s)", status.Source, status.Duration.Round(time.Second))
	case recording.StatePaused:
		return fmt.Sprintf("Paused at %s", status.Duration.Round(time.Second))
	case recording.StateStopped:
		return fmt.Sprintf("Recording stopped after %s", status.Duration.Round(time.Second))
	}
	return ""
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
