package main

import "time"

// ControllerState is the daemon-owned state container. Only the daemon
// goroutine mutates it, via the reducer; nothing else may hold a reference.
type ControllerState struct {
	// Call is the current call session, if any.
	Call CallSession

	// Media tracks media playback and the last proximity reading.
	Media MediaPlaybackState

	// Route caches what the route port last reported (or what we last wrote).
	Route RouteState

	// Fix tracks the debounced speaker-change fix cycle.
	Fix SpeakerFixState

	// Gens holds the live generation counter per scheduling family.
	// A scheduled step whose captured generation differs is a no-op.
	Gens map[Family]uint64
}

// NewControllerState returns an empty state container.
func NewControllerState() *ControllerState {
	return &ControllerState{Gens: make(map[Family]uint64)}
}

// CallSession represents one logical VoIP call.
type CallSession struct {
	Active bool

	// SetupPhase is true for a bounded window after call start during which
	// more aggressive recovery is permitted. Force-cleared when the window
	// elapses or the call ends.
	SetupPhase bool

	StartedAt time.Time

	// SpeakerOn is the last speaker-routing state attributed to this call.
	// Provisional (copied from the route cache) until BaselineKnown is set by
	// the first speaker observation after activation.
	SpeakerOn bool

	// BaselineKnown is true once the call baseline has been confirmed against
	// the route port. Mismatches before that update the baseline instead of
	// arming a fix.
	BaselineKnown bool
}

// MediaPlaybackState tracks whether a music-class stream is audible and the
// last proximity reading. Continuously re-evaluated, never destroyed.
type MediaPlaybackState struct {
	Playing bool
	Near    bool
}

// StreamLevels is the cached volume index for one stream.
type StreamLevels struct {
	Level int
	Max   int
	Known bool
	At    time.Time
}

// RouteState is the observed view of the route port.
type RouteState struct {
	Mode      AudioMode
	ModeKnown bool
	ModeAt    time.Time

	SpeakerOn    bool
	SpeakerKnown bool
	SpeakerAt    time.Time

	Voice StreamLevels
	Music StreamLevels
}

// levels returns the cache slot for a stream.
func (r *RouteState) levels(stream Stream) *StreamLevels {
	if stream == StreamMusic {
		return &r.Music
	}
	return &r.Voice
}

// SpeakerFixState tracks the pending/applied flags of the debounced speaker
// fix. A new routing change always resets Applied, permitting a fresh cycle.
type SpeakerFixState struct {
	Pending      bool
	Applied      bool
	LastChangeAt time.Time
}

// gen returns the live generation for a family (zero if never scheduled).
func (s *ControllerState) gen(f Family) uint64 {
	return s.Gens[f]
}

// bumpGen supersedes all previously scheduled work for a family and returns
// the new live generation.
func (s *ControllerState) bumpGen(f Family) uint64 {
	if s.Gens == nil {
		s.Gens = make(map[Family]uint64)
	}
	s.Gens[f]++
	return s.Gens[f]
}

// Snapshot copies the externally interesting state.
func (s *ControllerState) Snapshot(now time.Time) StateSnapshot {
	return StateSnapshot{
		CallActive:    s.Call.Active,
		SetupPhase:    s.Call.SetupPhase,
		SpeakerOn:     s.Route.SpeakerOn,
		MediaPlaying:  s.Media.Playing,
		ProximityNear: s.Media.Near,
		Mode:          s.Route.Mode,
		At:            now,
	}
}
