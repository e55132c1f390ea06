package main

import "time"

// Recovery timing. These mirror the windows the SM8350 audio HAL needs to be
// "kicked" through: values below were tuned on device and should not be made
// shorter without re-testing against a muted VoIP call.
const (
	defaultPollIntervalMS = 500 // route/stream state poll cadence

	// Minimum wait after a speaker-routing flip before acting on it, so we
	// don't react to transient flapping while the HAL re-routes.
	defaultSpeakerFixDebounceMS = 300

	// Bounded windows after call start during which aggressive recovery may run.
	defaultSetupWindowMS  = 5000
	defaultKeySimWindowMS = 10000

	// Pause between mode/routing writes so the HAL can settle.
	settleDelay = 100 * time.Millisecond

	// Delay before restoring the original volume after a directional nudge.
	restoreDelay = 100 * time.Millisecond

	// Volume-key simulation: three raise/lower pairs, then restore.
	keySimPairs        = 3
	keySimPairSpacing  = 150 * time.Millisecond
	keySimLowerOffset  = 75 * time.Millisecond
	keySimRestoreDelay = 800 * time.Millisecond

	// Rapid speaker toggling during call setup.
	speakerToggleCount   = 4
	speakerToggleSpacing = 50 * time.Millisecond

	// Delay before the media-route fix after playback starts near the sensor.
	mediaFixDelay = 300 * time.Millisecond

	defaultBridgeTimeoutMS = 500
)

// Corrective attempt offsets after a speaker-routing change.
var speakerFixOffsets = []time.Duration{
	300 * time.Millisecond,
	600 * time.Millisecond,
	1000 * time.Millisecond,
}

// Aggressive volume-kick offsets after call start (setup window only).
var setupFixOffsets = []time.Duration{
	300 * time.Millisecond,
	600 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	3000 * time.Millisecond,
}

// Repeated volume-key simulation offsets after call start.
var keySimOffsets = []time.Duration{
	300 * time.Millisecond,
	800 * time.Millisecond,
	1500 * time.Millisecond,
	3000 * time.Millisecond,
	6000 * time.Millisecond,
}
