package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the input to the reducer: an external trigger (call state,
// routing, proximity), a poll tick, an observation reported back by the
// effects layer, or a due scheduler step.
type Event interface {
	eventMarker()
}

// TimedEvent wraps a payload event with the time the daemon received it.
// Payload events (IPC, sensors) carry no timestamps of their own; the daemon
// assigns one so the reducer never has to read the clock.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop at the poll cadence. It drives the
// polling fallbacks: audio-mode call inference, speaker-change detection,
// media activity detection, and the debounced speaker fix.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// CallStateChanged is the push-path call transition from the telephony hook.
type CallStateChanged struct {
	Active bool `json:"active"`
}

func (CallStateChanged) eventMarker() {}

// RoutingChanged signals that audio routing changed; the controller responds
// by re-querying the speaker state.
type RoutingChanged struct{}

func (RoutingChanged) eventMarker() {}

// ProximityChanged is a near/far transition from the proximity sensor.
type ProximityChanged struct {
	Near bool `json:"near"`
}

func (ProximityChanged) eventMarker() {}

// ==============================
// Observations (effects -> reducer)
// ==============================

// ModeObserved is emitted after a successful GetMode.
type ModeObserved struct {
	Mode AudioMode
	At   time.Time
}

func (ModeObserved) eventMarker() {}

// SpeakerObserved is emitted after a successful GetSpeaker.
type SpeakerObserved struct {
	On bool
	At time.Time
}

func (SpeakerObserved) eventMarker() {}

// StreamVolumeObserved is emitted after a successful GetStreamVolume.
type StreamVolumeObserved struct {
	Stream Stream
	Level  int
	Max    int
	At     time.Time
}

func (StreamVolumeObserved) eventMarker() {}

// StreamActiveObserved is emitted after a successful GetStreamActive.
type StreamActiveObserved struct {
	Stream Stream
	Active bool
	At     time.Time
}

func (StreamActiveObserved) eventMarker() {}

// StepDue is delivered by the scheduler when a recovery step's timer fires.
// The reducer re-validates the generation and the step's guard before acting.
type StepDue struct {
	Family Family
	Gen    uint64
	Step   Step
	At     time.Time
}

func (StepDue) eventMarker() {}

// RouteCommandFailed is emitted when executing a route-port command fails.
// A single failed step never aborts the rest of its family.
type RouteCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (RouteCommandFailed) eventMarker() {}

// RequestStateSnapshot asks the reducer for a coherent state snapshot,
// delivered through the effects layer so state never escapes the daemon
// goroutine directly.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// State broadcasts (reducer -> websocket hub)
// ==============================

// StateBroadcast is a reducer-emitted, externally consumable transition.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastCallState reports call lifecycle transitions.
type BroadcastCallState struct {
	Active     bool      `json:"active"`
	SetupPhase bool      `json:"setup_phase"`
	At         time.Time `json:"-"`
}

func (BroadcastCallState) broadcastMarker() {}

// BroadcastFixApplied reports that a corrective fix ran to completion.
type BroadcastFixApplied struct {
	Kind   string    `json:"kind"` // "speaker", "aggressive", "media"
	Stream Stream    `json:"stream"`
	At     time.Time `json:"-"`
}

func (BroadcastFixApplied) broadcastMarker() {}

// BroadcastMediaRoute reports a media routing change driven by proximity.
type BroadcastMediaRoute struct {
	Earpiece bool      `json:"earpiece"`
	At       time.Time `json:"-"`
}

func (BroadcastMediaRoute) broadcastMarker() {}

// StateSnapshot is a coherent copy of the externally interesting state.
type StateSnapshot struct {
	CallActive    bool      `json:"call_active"`
	SetupPhase    bool      `json:"setup_phase"`
	SpeakerOn     bool      `json:"speaker_on"`
	MediaPlaying  bool      `json:"media_playing"`
	ProximityNear bool      `json:"proximity_near"`
	Mode          AudioMode `json:"mode"`
	At            time.Time `json:"at"`
}

// ==============================
// JSON envelope for IPC-injectable events
// ==============================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling.
// Only externally injectable trigger events are wire-encodable; observations
// and scheduler steps are daemon-internal.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "call_state":
		var e CallStateChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal CallStateChanged: %w", err)
		}
		return e, nil

	case "routing_changed":
		return RoutingChanged{}, nil

	case "proximity":
		var e ProximityChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ProximityChanged: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an injectable Event into a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case CallStateChanged:
		env.Type = "call_state"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CallStateChanged: %w", err)
		}
		env.Data = data

	case RoutingChanged:
		env.Type = "routing_changed"

	case ProximityChanged:
		env.Type = "proximity"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ProximityChanged: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
