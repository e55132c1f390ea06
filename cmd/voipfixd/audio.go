package main

import "errors"

// AudioMode mirrors the platform audio policy mode.
type AudioMode string

const (
	ModeNormal          AudioMode = "normal"
	ModeRingtone        AudioMode = "ringtone"
	ModeInCall          AudioMode = "in_call"
	ModeInCommunication AudioMode = "in_communication"
)

// inCallMode reports whether the mode belongs to an ongoing call.
func inCallMode(m AudioMode) bool {
	return m == ModeInCall || m == ModeInCommunication
}

// Stream identifies an audio stream class on the route port.
type Stream string

const (
	StreamVoice Stream = "voice_call"
	StreamMusic Stream = "music"
)

// VolumeDirection is a single-notch stream volume adjustment.
type VolumeDirection string

const (
	DirRaise VolumeDirection = "raise"
	DirLower VolumeDirection = "lower"
)

// ErrKeyInjectionUnsupported is returned by AudioRouter.InjectVolumeKeys when
// the bridge does not grant the low-level key-injection capability. The
// controller treats it as a soft no-op, never as a failure.
var ErrKeyInjectionUnsupported = errors.New("volume key injection not supported")

// AudioRouter is the route port: the device's audio routing/volume/mode
// control surface. All corrective writes issued by the recovery controller go
// through this interface so tests can substitute a recording fake.
//
// Implementations must be safe for use from a single goroutine; the daemon
// serializes all calls.
type AudioRouter interface {
	Mode() (AudioMode, error)
	SetMode(AudioMode) error

	SpeakerOn() (bool, error)
	SetSpeakerOn(bool) error

	// StreamVolume returns the current and maximum volume index for a stream.
	StreamVolume(Stream) (level, max int, err error)
	SetStreamVolume(Stream, int) error
	AdjustStreamVolume(Stream, VolumeDirection) error

	StreamActive(Stream) (bool, error)

	// ForceRouting applies a low-level forced-routing directive for the
	// communication use case. Best effort; failures are tolerated.
	ForceRouting(speaker bool) error

	// InjectVolumeKeys simulates a physical volume up/down key pair.
	// Optional capability; returns ErrKeyInjectionUnsupported when absent.
	InjectVolumeKeys() error

	Close() error
}
