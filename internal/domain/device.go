// Package domain contains entities without logic, just meta-data
package domain

type DeviceKind string

const (
	AudioInput DeviceKind = "audioinput"
	VideoInput DeviceKind = "videoinput"
)

// Device describes a capture device as reported by the platform.
type Device struct {
	Kind     DeviceKind `json:"kind"`
	DeviceID string     `json:"device_id"`
	Label    string     `json:"label"`
}
