// Package device defines the capture device contract consumed by the capture
// controller, plus a filesystem-backed implementation used by the CLI.
package device

import "context"

// Permission is an authorization outcome for one capability.
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionRestricted   Permission = "restricted"
	PermissionUndetermined Permission = "not-determined"
)

// PermissionSet is the result of a camera + microphone authorization request.
type PermissionSet struct {
	Camera     Permission `json:"camera"`
	Microphone Permission `json:"microphone"`
}

// Restricted reports whether either capability is blocked by OS policy.
func (p PermissionSet) Restricted() bool {
	return p.Camera == PermissionRestricted || p.Microphone == PermissionRestricted
}

// Granted reports whether both capabilities are granted.
func (p PermissionSet) Granted() bool {
	return p.Camera == PermissionGranted && p.Microphone == PermissionGranted
}

// Missing lists the capabilities that are not granted.
func (p PermissionSet) Missing() []string {
	var out []string
	if p.Camera != PermissionGranted {
		out = append(out, "camera")
	}
	if p.Microphone != PermissionGranted {
		out = append(out, "microphone")
	}
	return out
}

// Facing is the camera orientation.
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// Opposite returns the other facing.
func (f Facing) Opposite() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// Device is an enumerated capture device.
type Device struct {
	ID     string `json:"id"`
	Facing Facing `json:"facing"`
}

// RecordingOptions configures a recording session.
type RecordingOptions struct {
	Audio bool
	Codec string
}

// Provider is the platform camera API.
//
// StartRecording returns once the device is recording. Exactly one of
// onFinished or onError is called later, from any goroutine, when the
// recording finalizes; StopRecording only requests that.
type Provider interface {
	RequestPermissions(ctx context.Context) (PermissionSet, error)
	EnumerateDevices(ctx context.Context) ([]Device, error)
	CapturePhoto(ctx context.Context, dev Device) (string, error)
	StartRecording(ctx context.Context, dev Device, opts RecordingOptions, onFinished func(path string), onError func(error)) error
	StopRecording(ctx context.Context, dev Device) error
}

// Select picks the device with the wanted facing, falling back to the first
// device. ok is false when devices is empty.
func Select(devices []Device, want Facing) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	for _, d := range devices {
		if d.Facing == want {
			return d, true
		}
	}
	return devices[0], true
}
