package core

import (
	"context"

	"github.com/dkeye/vidcall/internal/domain"
)

// CaptureOptions selects devices and publishing properties for a capture.
// Empty device ids mean the platform default.
type CaptureOptions struct {
	AudioDeviceID string
	VideoDeviceID string
	AudioEnabled  bool
	VideoEnabled  bool
	Width         int
	Height        int
	FrameRate     int
	Mirror        bool
}

// LocalStream is a captured local audio/video stream.
type LocalStream interface {
	ID() string
	// DeviceID returns the resolved video device id, never empty when video
	// was captured.
	DeviceID() string
	Options() CaptureOptions
	// Close releases device handles. Safe to call more than once.
	Close() error
}

type Capturer interface {
	Capture(ctx context.Context, opts CaptureOptions) (LocalStream, error)
}

type DeviceProvider interface {
	// EnumerateDevices returns devices in platform order.
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
}

type CredentialProvider interface {
	AcquireCredential(ctx context.Context, sessionID string) (domain.Credential, error)
}
