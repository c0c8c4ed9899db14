package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Platform opens raw capture sources. Implementations should wrap the error
// kinds of this package (ErrPermissionDenied, ErrDeviceNotFound,
// ErrSystemAudioUnavailable, ErrNoAudioTracks) when they can tell them apart;
// anything else is reported as ErrAcquisitionFailed.
type Platform interface {
	OpenMicrophone(ctx context.Context, deviceID string) (CaptureSource, error)
	OpenDesktopAudio(ctx context.Context, sourceID string) (CaptureSource, error)
}

// DeviceLister enumerates microphones. It requires a prior permission grant
// on platforms that gate device labels.
type DeviceLister interface {
	ListInputDevices(ctx context.Context) ([]Device, error)
}

// DesktopSourceLister enumerates desktop sources that can be captured
type DesktopSourceLister interface {
	ListDesktopSources(ctx context.Context) ([]DesktopSource, error)
}

// Acquirer obtains capture streams from the platform and normalizes its
// failures into the error kinds of this package. It never retries.
type Acquirer struct {
	platform Platform
}

// NewAcquirer creates an acquirer on top of a platform
func NewAcquirer(platform Platform) *Acquirer {
	return &Acquirer{platform: platform}
}

// AcquireMicrophone opens the default microphone, or the exact device when
// deviceID is set.
func (a *Acquirer) AcquireMicrophone(ctx context.Context, deviceID string) (*Stream, error) {
	slog.Debug("Acquiring microphone", "device", deviceID)

	src, err := a.platform.OpenMicrophone(ctx, deviceID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			return nil, newError(ErrPermissionDenied, EndpointMicrophone, err)
		case errors.Is(err, ErrDeviceNotFound):
			return nil, newError(ErrDeviceNotFound, EndpointMicrophone, err)
		default:
			return nil, newError(ErrAcquisitionFailed, EndpointMicrophone, err)
		}
	}

	if err := validateSource(src); err != nil {
		release(src)
		return nil, newError(ErrAcquisitionFailed, EndpointMicrophone, err)
	}
	if len(audioTracks(src)) == 0 {
		release(src)
		return nil, newError(ErrAcquisitionFailed, EndpointMicrophone, fmt.Errorf("microphone stream has no audio tracks"))
	}

	return NewStream(EndpointMicrophone, src), nil
}

// AcquireSystemSource opens the audio of a desktop source. An empty sourceID
// is a caller error and never reaches the platform.
func (a *Acquirer) AcquireSystemSource(ctx context.Context, sourceID string) (*Stream, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, newError(ErrSourceRequired, EndpointSystem, nil)
	}

	slog.Debug("Acquiring system audio", "source", sourceID)

	src, err := a.platform.OpenDesktopAudio(ctx, sourceID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSystemAudioUnavailable):
			return nil, newError(ErrSystemAudioUnavailable, EndpointSystem, err)
		case errors.Is(err, ErrNoAudioTracks):
			return nil, newError(ErrNoAudioTracks, EndpointSystem, err)
		default:
			return nil, newError(ErrAcquisitionFailed, EndpointSystem, err)
		}
	}

	if err := validateSource(src); err != nil {
		release(src)
		return nil, newError(ErrAcquisitionFailed, EndpointSystem, err)
	}
	// Some desktop sources expose no audio at all
	if len(audioTracks(src)) == 0 {
		release(src)
		return nil, newError(ErrNoAudioTracks, EndpointSystem, nil)
	}

	return NewStream(EndpointSystem, src), nil
}

func validateSource(src CaptureSource) error {
	if src == nil {
		return fmt.Errorf("platform returned no stream")
	}
	if src.Frames() == nil {
		return fmt.Errorf("platform stream is not live")
	}
	return nil
}

func audioTracks(src CaptureSource) []Track {
	var tracks []Track
	for _, t := range src.Tracks() {
		if t != nil && t.Kind() == TrackKindAudio {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// release stops whatever tracks a rejected source did open
func release(src CaptureSource) {
	if src == nil {
		return
	}
	for _, t := range src.Tracks() {
		if t != nil {
			t.Stop()
		}
	}
}
