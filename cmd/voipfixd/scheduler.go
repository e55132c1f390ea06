package main

import (
	"sort"
	"sync"
	"time"
)

// Family is a logical group of scheduled recovery work. Bumping a family's
// generation counter (held in ControllerState) invalidates every step
// previously scheduled for it without touching individual timers.
type Family string

const (
	// FamilyCallInit is the one-shot audio-path initialization sequence at
	// call start (mode reset, forced routing, key simulation, speaker kick).
	FamilyCallInit Family = "call-init"

	// FamilyCallSetup is the aggressive volume-kick burst during the setup
	// window.
	FamilyCallSetup Family = "call-setup"

	// FamilyCallKeysim is the repeated volume-key simulation burst.
	FamilyCallKeysim Family = "call-keysim"

	// FamilySpeakerFix is the debounced corrective burst after a speaker
	// routing change mid-call.
	FamilySpeakerFix Family = "speaker-fix"

	// FamilyMediaFix is the proximity-driven media routing fix.
	FamilyMediaFix Family = "media-fix"
)

// StepOp selects what a recovery step does when it fires. Ops with fire-time
// dependencies (directional fixes, key simulation, media fixes) are expanded
// by the reducer against current observed state; the rest carry their
// arguments in the Step itself.
type StepOp uint8

const (
	OpSetMode StepOp = iota
	OpSetVolume
	OpAdjustVolume
	OpSpeaker
	OpForceRouting
	OpInjectKeys
	OpKeySim
	OpApplyFix
	OpAggressiveKick
	OpFinishAggressive
	OpMediaRouteFix
	OpMediaSettle
	OpEndSetupPhase
)

// Guard is a validity predicate re-checked against controller state
// immediately before a step acts. Generation checks run first; guards catch
// conditions a generation bump cannot express (elapsed windows, pending
// flags, latest proximity reading).
type Guard uint8

const (
	GuardNone Guard = iota
	GuardCallActive
	GuardCallSetup
	GuardKeySim
	GuardSpeakerFix
	GuardMediaRoute
)

// Step is one timed element of a recovery task: fire After the task is
// scheduled, re-validate Guard, then perform Op with the embedded arguments.
type Step struct {
	After time.Duration
	Guard Guard
	Op    StepOp

	Stream Stream
	Mode   AudioMode
	Level  int
	Dir    VolumeDirection
	On     bool
}

// Scheduler turns declarative step sequences into timer callbacks that are
// delivered back into the daemon's event queue as StepDue events. It holds no
// recovery policy: validity is decided by the reducer at fire time via
// generation and guard, so cancellation is just "bump the generation".
type Scheduler struct {
	mu      sync.Mutex
	emit    func(Event)
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewScheduler creates a scheduler that delivers due steps via emit.
// emit must be safe to call from timer goroutines.
func NewScheduler(emit func(Event)) *Scheduler {
	return &Scheduler{
		emit:   emit,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Schedule arms a timer chain for the step sequence. The family generation is
// captured now; the reducer compares it against the live counter when each
// step fires.
//
// Steps are delivered in nondecreasing delay order: one timer is armed per
// distinct deadline, a firing timer emits every step sharing that deadline in
// slice order, then arms the next. Distinct timers give no firing-order
// guarantee for equal deadlines, so same-deadline steps must share one.
func (s *Scheduler) Schedule(family Family, gen uint64, steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || len(steps) == 0 {
		return
	}

	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].After < ordered[j].After })

	s.armNext(family, gen, time.Now(), ordered)
}

// armNext arms one timer for the earliest remaining deadline, measured from
// the original Schedule call. Caller holds mu.
func (s *Scheduler) armNext(family Family, gen uint64, base time.Time, ordered []Step) {
	if s.stopped || len(ordered) == 0 {
		return
	}

	due := ordered[0].After
	end := 1
	for end < len(ordered) && ordered[end].After == due {
		end++
	}
	batch := ordered[:end]
	rest := ordered[end:]

	d := time.Until(base.Add(due))
	if d < 0 {
		d = 0
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.forget(t)
		at := time.Now()
		for _, step := range batch {
			s.emit(StepDue{Family: family, Gen: gen, Step: step, At: at})
		}
		s.mu.Lock()
		s.armNext(family, gen, base, rest)
		s.mu.Unlock()
	})
	s.timers[t] = struct{}{}
}

func (s *Scheduler) forget(t *time.Timer) {
	s.mu.Lock()
	delete(s.timers, t)
	s.mu.Unlock()
}

// Pending returns the number of armed timers. Intended for tests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll cancels every armed timer and rejects further scheduling. Timer
// callbacks that already fired are not undone; their StepDue events are
// invalidated by generation or discarded with the event queue on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
}
