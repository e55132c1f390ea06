package main

import "time"

// RecoveryConfig holds the tunable windows of the recovery logic.
type RecoveryConfig struct {
	SpeakerFixDebounce time.Duration
	SetupWindow        time.Duration
	KeySimWindow       time.Duration
}

// DefaultRecoveryConfig returns the stock timing windows.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		SpeakerFixDebounce: defaultSpeakerFixDebounceMS * time.Millisecond,
		SetupWindow:        defaultSetupWindowMS * time.Millisecond,
		KeySimWindow:       defaultKeySimWindowMS * time.Millisecond,
	}
}

// ReduceResult is what one reduction produces: the (same, mutated) state,
// commands for the effects runner, and broadcasts for the state websocket.
type ReduceResult struct {
	State      *ControllerState
	Commands   []Command
	Broadcasts []StateBroadcast
}

func (r *ReduceResult) emit(cmds ...Command) {
	r.Commands = append(r.Commands, cmds...)
}

func (r *ReduceResult) broadcast(b StateBroadcast) {
	r.Broadcasts = append(r.Broadcasts, b)
}

// Reduce applies one event to the state. It never touches hardware and never
// blocks; all side effects are returned as Commands.
func Reduce(s *ControllerState, event Event, cfg RecoveryConfig) ReduceResult {
	res := ReduceResult{State: s}

	switch ev := event.(type) {
	case Tick:
		reduceTick(s, ev.Now, cfg, &res)

	case TimedEvent:
		reduceTimed(s, ev, cfg, &res)

	case StepDue:
		reduceStepDue(s, ev, cfg, &res)

	case ModeObserved:
		reduceModeObserved(s, ev, cfg, &res)

	case SpeakerObserved:
		reduceSpeakerObserved(s, ev, cfg, &res)

	case StreamVolumeObserved:
		lv := s.Route.levels(ev.Stream)
		lv.Level = ev.Level
		lv.Max = ev.Max
		lv.Known = true
		lv.At = ev.At

	case StreamActiveObserved:
		reduceStreamActiveObserved(s, ev, &res)

	case RouteCommandFailed:
		// Logged by the effects runner; the next poll re-observes reality.
	}

	return res
}

func reduceTimed(s *ControllerState, ev TimedEvent, cfg RecoveryConfig, res *ReduceResult) {
	switch inner := ev.Event.(type) {
	case CallStateChanged:
		if inner.Active {
			startCall(s, ev.At, cfg, res)
		} else {
			endCall(s, ev.At, res)
		}
	case RoutingChanged:
		res.emit(CmdGetSpeaker{})
	case ProximityChanged:
		reduceProximity(s, inner.Near, ev.At, res)
	case RequestStateSnapshot:
		res.emit(CmdPublishSnapshot{Snapshot: s.Snapshot(ev.At), Reply: inner.Reply})
	}
}

func reduceTick(s *ControllerState, now time.Time, cfg RecoveryConfig, res *ReduceResult) {
	res.emit(CmdGetMode{})
	if s.Call.Active {
		res.emit(CmdGetSpeaker{}, CmdGetStreamVolume{Stream: StreamVoice})
	}
	res.emit(CmdGetStreamActive{Stream: StreamMusic}, CmdGetStreamVolume{Stream: StreamMusic})

	// Debounce fallback: the scheduled fix steps may all have fired before
	// the speaker state settled, so the poll re-checks.
	if s.Call.Active && s.Fix.Pending && !s.Fix.Applied &&
		now.Sub(s.Fix.LastChangeAt) > cfg.SpeakerFixDebounce {
		applyFixNow(s, now, res)
	}

	// Setup window expiry fallback for the case where the scheduled step was
	// superseded but the call survived.
	if s.Call.Active && s.Call.SetupPhase && now.Sub(s.Call.StartedAt) >= cfg.SetupWindow {
		s.Call.SetupPhase = false
		res.broadcast(BroadcastCallState{Active: true, SetupPhase: false, At: now})
	}
}

func startCall(s *ControllerState, now time.Time, cfg RecoveryConfig, res *ReduceResult) {
	if s.Call.Active {
		return
	}
	s.Call = CallSession{
		Active:     true,
		SetupPhase: true,
		StartedAt:  now,
		SpeakerOn:  s.Route.SpeakerOn,
	}
	s.Fix = SpeakerFixState{}

	// The cached speaker state may predate the call (it is only polled while a
	// call is active), so capture a fresh baseline before treating any
	// observation as a mid-call change.
	res.emit(CmdGetSpeaker{})

	initGen := s.bumpGen(FamilyCallInit)
	setupGen := s.bumpGen(FamilyCallSetup)
	keysimGen := s.bumpGen(FamilyCallKeysim)

	// Kick the route out of whatever stale state it is in, then walk it into
	// the communication profile.
	res.emit(CmdSetMode{Mode: ModeNormal})
	s.Route.Mode = ModeNormal
	s.Route.ModeKnown = true
	s.Route.ModeAt = now

	if s.Route.Voice.Known {
		level := s.Route.Voice.Max / 2
		if level < 1 {
			level = 1
		}
		res.emit(CmdSetStreamVolume{Stream: StreamVoice, Level: level})
		s.Route.Voice.Level = level
		s.Route.Voice.At = now
	} else {
		res.emit(CmdGetStreamVolume{Stream: StreamVoice})
	}

	initSteps := []Step{
		{After: settleDelay, Guard: GuardCallActive, Op: OpSetMode, Mode: ModeInCommunication},
		{After: 2 * settleDelay, Guard: GuardCallActive, Op: OpForceRouting},
		{After: 2 * settleDelay, Guard: GuardCallActive, Op: OpKeySim},
	}
	// For OpSpeaker, On marks inversion relative to the call baseline at fire
	// time, so the toggles land correctly even if the baseline is corrected by
	// a speaker observation after scheduling.
	for i := 0; i < speakerToggleCount; i++ {
		initSteps = append(initSteps, Step{
			After: 2*settleDelay + time.Duration(i)*speakerToggleSpacing,
			Guard: GuardCallActive,
			Op:    OpSpeaker,
			On:    i%2 == 0,
		})
	}
	initSteps = append(initSteps, Step{
		After: cfg.SetupWindow,
		Guard: GuardCallActive,
		Op:    OpEndSetupPhase,
	})
	res.emit(CmdSchedule{Family: FamilyCallInit, Gen: initGen, Steps: initSteps})

	setupSteps := make([]Step, 0, len(setupFixOffsets))
	for _, after := range setupFixOffsets {
		setupSteps = append(setupSteps, Step{After: after, Guard: GuardCallSetup, Op: OpAggressiveKick})
	}
	res.emit(CmdSchedule{Family: FamilyCallSetup, Gen: setupGen, Steps: setupSteps})

	keysimSteps := make([]Step, 0, len(keySimOffsets))
	for _, after := range keySimOffsets {
		keysimSteps = append(keysimSteps, Step{After: after, Guard: GuardKeySim, Op: OpKeySim})
	}
	res.emit(CmdSchedule{Family: FamilyCallKeysim, Gen: keysimGen, Steps: keysimSteps})

	res.broadcast(BroadcastCallState{Active: true, SetupPhase: true, At: now})
}

func endCall(s *ControllerState, now time.Time, res *ReduceResult) {
	if !s.Call.Active {
		return
	}
	s.Call = CallSession{}
	s.Fix = SpeakerFixState{}

	// Supersede every in-flight recovery step for this call.
	s.bumpGen(FamilyCallInit)
	s.bumpGen(FamilyCallSetup)
	s.bumpGen(FamilyCallKeysim)
	s.bumpGen(FamilySpeakerFix)

	res.broadcast(BroadcastCallState{Active: false, SetupPhase: false, At: now})
}

func reduceModeObserved(s *ControllerState, ev ModeObserved, cfg RecoveryConfig, res *ReduceResult) {
	s.Route.Mode = ev.Mode
	s.Route.ModeKnown = true
	s.Route.ModeAt = ev.At

	// Telephony integration is optional, so call boundaries are also derived
	// from the polled audio mode.
	if ev.Mode == ModeInCommunication && !s.Call.Active {
		startCall(s, ev.At, cfg, res)
	} else if s.Call.Active && !inCallMode(ev.Mode) {
		endCall(s, ev.At, res)
	}
}

func reduceSpeakerObserved(s *ControllerState, ev SpeakerObserved, cfg RecoveryConfig, res *ReduceResult) {
	s.Route.SpeakerOn = ev.On
	s.Route.SpeakerKnown = true
	s.Route.SpeakerAt = ev.At

	if !s.Call.Active {
		return
	}
	if !s.Call.BaselineKnown {
		// First observation after activation confirms the baseline; it is not
		// a routing change.
		s.Call.SpeakerOn = ev.On
		s.Call.BaselineKnown = true
		return
	}
	if s.Call.SpeakerOn == ev.On {
		return
	}

	// Speaker routing flipped mid-call. The driver tends to drop the uplink
	// here, so arm a fresh debounced fix burst.
	s.Call.SpeakerOn = ev.On
	s.Fix = SpeakerFixState{Pending: true, LastChangeAt: ev.At}

	gen := s.bumpGen(FamilySpeakerFix)
	steps := make([]Step, 0, len(speakerFixOffsets))
	for _, after := range speakerFixOffsets {
		steps = append(steps, Step{After: after, Guard: GuardSpeakerFix, Op: OpApplyFix})
	}
	res.emit(CmdSchedule{Family: FamilySpeakerFix, Gen: gen, Steps: steps})
}

// applyFixNow performs the single-shot directional volume fix: nudge the
// voice stream one step away from its current level and restore it shortly
// after, which forces the driver to re-evaluate the path.
func applyFixNow(s *ControllerState, at time.Time, res *ReduceResult) {
	if !s.Route.Voice.Known {
		res.emit(CmdGetStreamVolume{Stream: StreamVoice})
		return
	}

	dir := DirRaise
	if s.Route.Voice.Level > s.Route.Voice.Max/2 {
		dir = DirLower
	}
	res.emit(CmdAdjustStreamVolume{Stream: StreamVoice, Dir: dir})
	res.emit(CmdSchedule{
		Family: FamilySpeakerFix,
		Gen:    s.gen(FamilySpeakerFix),
		Steps: []Step{{
			After:  restoreDelay,
			Guard:  GuardNone,
			Op:     OpSetVolume,
			Stream: StreamVoice,
			Level:  s.Route.Voice.Level,
		}},
	})

	s.Fix.Applied = true
	s.Fix.Pending = false
	res.broadcast(BroadcastFixApplied{Kind: "speaker", Stream: StreamVoice, At: at})
}

func reduceProximity(s *ControllerState, near bool, at time.Time, res *ReduceResult) {
	if s.Media.Near == near {
		return
	}
	s.Media.Near = near
	if !s.Media.Playing {
		return
	}
	gen := s.bumpGen(FamilyMediaFix)
	mediaFixCommands(s, near, gen, at, res)
}

func reduceStreamActiveObserved(s *ControllerState, ev StreamActiveObserved, res *ReduceResult) {
	if ev.Stream != StreamMusic || s.Media.Playing == ev.Active {
		return
	}
	s.Media.Playing = ev.Active
	if !ev.Active || !s.Media.Near {
		return
	}

	// Playback started while the device is at the ear: route to the earpiece
	// once the stream has had a moment to open.
	gen := s.bumpGen(FamilyMediaFix)
	res.emit(CmdSchedule{
		Family: FamilyMediaFix,
		Gen:    gen,
		Steps:  []Step{{After: mediaFixDelay, Guard: GuardMediaRoute, Op: OpMediaRouteFix, On: true}},
	})
}

// mediaFixCommands routes media playback to match the proximity reading and
// arms the settle step that applies the mode and volume nudge.
func mediaFixCommands(s *ControllerState, earpiece bool, gen uint64, at time.Time, res *ReduceResult) {
	res.emit(CmdSetSpeaker{On: !earpiece})
	s.Route.SpeakerOn = !earpiece
	s.Route.SpeakerKnown = true
	s.Route.SpeakerAt = at

	if earpiece {
		res.emit(CmdSetMode{Mode: ModeInCommunication})
		s.Route.Mode = ModeInCommunication
		s.Route.ModeKnown = true
		s.Route.ModeAt = at
	}

	res.emit(CmdSchedule{
		Family: FamilyMediaFix,
		Gen:    gen,
		Steps:  []Step{{After: settleDelay, Guard: GuardMediaRoute, Op: OpMediaSettle, On: earpiece}},
	})
	res.broadcast(BroadcastMediaRoute{Earpiece: earpiece, At: at})
}

func reduceStepDue(s *ControllerState, ev StepDue, cfg RecoveryConfig, res *ReduceResult) {
	if ev.Gen != s.gen(ev.Family) {
		return
	}
	if !guardHolds(s, ev.Step, ev.At, cfg) {
		return
	}
	step := ev.Step

	switch step.Op {
	case OpSetMode:
		res.emit(CmdSetMode{Mode: step.Mode})
		s.Route.Mode = step.Mode
		s.Route.ModeKnown = true
		s.Route.ModeAt = ev.At

	case OpSetVolume:
		res.emit(CmdSetStreamVolume{Stream: step.Stream, Level: step.Level})
		lv := s.Route.levels(step.Stream)
		lv.Level = step.Level
		lv.At = ev.At

	case OpAdjustVolume:
		res.emit(CmdAdjustStreamVolume{Stream: step.Stream, Dir: step.Dir})

	case OpSpeaker:
		on := s.Call.SpeakerOn
		if step.On {
			on = !on
		}
		res.emit(CmdSetSpeaker{On: on})

	case OpForceRouting:
		res.emit(CmdForceRouting{Speaker: s.Call.SpeakerOn})

	case OpInjectKeys:
		res.emit(CmdInjectVolumeKeys{})

	case OpKeySim:
		expandKeySim(s, ev, res)

	case OpApplyFix:
		applyFixNow(s, ev.At, res)

	case OpAggressiveKick:
		expandAggressiveKick(s, ev, res)

	case OpFinishAggressive:
		res.emit(CmdSetStreamVolume{Stream: step.Stream, Level: step.Level})
		s.Route.Voice.Level = step.Level
		s.Route.Voice.At = ev.At
		s.Fix.Applied = true
		s.Fix.Pending = false
		res.broadcast(BroadcastFixApplied{Kind: "aggressive", Stream: step.Stream, At: ev.At})

	case OpEndSetupPhase:
		if s.Call.SetupPhase {
			s.Call.SetupPhase = false
			res.broadcast(BroadcastCallState{Active: true, SetupPhase: false, At: ev.At})
		}

	case OpMediaRouteFix:
		mediaFixCommands(s, step.On, ev.Gen, ev.At, res)

	case OpMediaSettle:
		stepMediaSettle(s, ev, res)
	}
}

// expandKeySim turns one key-simulation step into the full raise/lower pair
// sequence plus hardware key injection and a final restore, scheduled under
// the same generation so a call end cancels the lot.
func expandKeySim(s *ControllerState, ev StepDue, res *ReduceResult) {
	steps := make([]Step, 0, 2*keySimPairs+2)
	for i := 0; i < keySimPairs; i++ {
		base := time.Duration(i) * keySimPairSpacing
		steps = append(steps,
			Step{After: base, Guard: GuardCallActive, Op: OpAdjustVolume, Stream: StreamVoice, Dir: DirRaise},
			Step{After: base + keySimLowerOffset, Guard: GuardCallActive, Op: OpAdjustVolume, Stream: StreamVoice, Dir: DirLower},
		)
	}
	steps = append(steps, Step{Guard: GuardCallActive, Op: OpInjectKeys})
	if s.Route.Voice.Known {
		steps = append(steps, Step{
			After:  keySimRestoreDelay,
			Guard:  GuardCallActive,
			Op:     OpSetVolume,
			Stream: StreamVoice,
			Level:  s.Route.Voice.Level,
		})
	}
	res.emit(CmdSchedule{Family: ev.Family, Gen: ev.Gen, Steps: steps})
}

// expandAggressiveKick drops the voice stream to zero, slams it to max, then
// settles on max(current, half-range). The final step marks the fix applied.
func expandAggressiveKick(s *ControllerState, ev StepDue, res *ReduceResult) {
	if !s.Route.Voice.Known {
		res.emit(CmdGetStreamVolume{Stream: StreamVoice})
		return
	}
	target := s.Route.Voice.Level
	if half := s.Route.Voice.Max / 2; target < half {
		target = half
	}

	res.emit(CmdSetStreamVolume{Stream: StreamVoice, Level: 0})
	s.Route.Voice.Level = 0
	s.Route.Voice.At = ev.At

	res.emit(CmdSchedule{
		Family: ev.Family,
		Gen:    ev.Gen,
		Steps: []Step{
			{After: settleDelay, Guard: GuardCallActive, Op: OpSetVolume, Stream: StreamVoice, Level: s.Route.Voice.Max},
			{After: 2 * settleDelay, Guard: GuardCallActive, Op: OpFinishAggressive, Stream: StreamVoice, Level: target},
		},
	})
}

// stepMediaSettle finishes a media route fix: restore normal mode when coming
// off the earpiece path settled, then nudge the music volume and restore it.
func stepMediaSettle(s *ControllerState, ev StepDue, res *ReduceResult) {
	if ev.Step.On {
		res.emit(CmdSetMode{Mode: ModeNormal})
		s.Route.Mode = ModeNormal
		s.Route.ModeKnown = true
		s.Route.ModeAt = ev.At
	}
	if !s.Route.Music.Known {
		res.emit(CmdGetStreamVolume{Stream: StreamMusic})
		return
	}
	dir := DirRaise
	if s.Route.Music.Level > s.Route.Music.Max/2 {
		dir = DirLower
	}
	res.emit(CmdAdjustStreamVolume{Stream: StreamMusic, Dir: dir})
	res.emit(CmdSchedule{
		Family: ev.Family,
		Gen:    ev.Gen,
		Steps: []Step{{
			After:  restoreDelay,
			Guard:  GuardNone,
			Op:     OpSetVolume,
			Stream: StreamMusic,
			Level:  s.Route.Music.Level,
		}},
	})
	res.broadcast(BroadcastFixApplied{Kind: "media", Stream: StreamMusic, At: ev.At})
}

func guardHolds(s *ControllerState, step Step, at time.Time, cfg RecoveryConfig) bool {
	switch step.Guard {
	case GuardNone:
		return true
	case GuardCallActive:
		return s.Call.Active
	case GuardCallSetup:
		return s.Call.Active && s.Call.SetupPhase && at.Sub(s.Call.StartedAt) < cfg.SetupWindow
	case GuardKeySim:
		return s.Call.Active && s.Call.SetupPhase && at.Sub(s.Call.StartedAt) < cfg.KeySimWindow
	case GuardSpeakerFix:
		return s.Call.Active && s.Fix.Pending && !s.Fix.Applied
	case GuardMediaRoute:
		return s.Media.Playing && s.Media.Near == step.On
	}
	return false
}
