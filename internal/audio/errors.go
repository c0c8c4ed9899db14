package audio

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrDeviceNotFound         = errors.New("device not found")
	ErrSourceRequired         = errors.New("desktop source required")
	ErrSystemAudioUnavailable = errors.New("system audio unavailable")
	ErrNoAudioTracks          = errors.New("no audio tracks")
	ErrAcquisitionFailed      = errors.New("acquisition failed")
	ErrNoActiveRecording      = errors.New("no active recording")
	ErrGraphNotInitialized    = errors.New("audio graph not initialized")
	ErrSessionActive          = errors.New("recording already in progress")
)

// Error is returned by the acquirer. It carries the error kind, the endpoint
// that failed and the underlying platform cause, if any.
type Error struct {
	Kind     error
	Endpoint Endpoint
	Err      error
}

func newError(kind error, endpoint Endpoint, cause error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: cause}
}

// Error returns a message that can be shown to the user as is.
func (e *Error) Error() string {
	msg := e.help()
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) help() string {
	switch e.Kind {
	case ErrPermissionDenied:
		return "microphone access was denied: allow microphone access for this application and try again"
	case ErrDeviceNotFound:
		return "no microphone found: connect a microphone or choose another input device"
	case ErrSourceRequired:
		return "no desktop source selected: choose a window or screen to record system audio from"
	case ErrSystemAudioUnavailable:
		return "system audio capture is not available on this system or for this source"
	case ErrNoAudioTracks:
		return "the selected desktop source has no audio: choose another source or record the microphone only"
	case ErrAcquisitionFailed:
		return fmt.Sprintf("could not open the %s audio stream", e.Endpoint)
	default:
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Kind)
	}
}
