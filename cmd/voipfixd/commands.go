package main

import "fmt"

// Command represents an external side effect requested by the reducer and
// executed by the effects layer: a route-port write, a route-port query, a
// scheduler submission, or a snapshot delivery.
type Command interface {
	commandMarker()
	String() string
}

// ==============================
// Route port writes
// ==============================

type CmdSetMode struct {
	Mode AudioMode
}

func (CmdSetMode) commandMarker()   {}
func (c CmdSetMode) String() string { return fmt.Sprintf("CmdSetMode(mode=%s)", c.Mode) }

type CmdSetSpeaker struct {
	On bool
}

func (CmdSetSpeaker) commandMarker()   {}
func (c CmdSetSpeaker) String() string { return fmt.Sprintf("CmdSetSpeaker(on=%v)", c.On) }

type CmdSetStreamVolume struct {
	Stream Stream
	Level  int
}

func (CmdSetStreamVolume) commandMarker() {}
func (c CmdSetStreamVolume) String() string {
	return fmt.Sprintf("CmdSetStreamVolume(stream=%s, level=%d)", c.Stream, c.Level)
}

type CmdAdjustStreamVolume struct {
	Stream Stream
	Dir    VolumeDirection
}

func (CmdAdjustStreamVolume) commandMarker() {}
func (c CmdAdjustStreamVolume) String() string {
	return fmt.Sprintf("CmdAdjustStreamVolume(stream=%s, dir=%s)", c.Stream, c.Dir)
}

// CmdForceRouting applies the low-level forced-routing directive.
type CmdForceRouting struct {
	Speaker bool
}

func (CmdForceRouting) commandMarker() {}
func (c CmdForceRouting) String() string {
	return fmt.Sprintf("CmdForceRouting(speaker=%v)", c.Speaker)
}

// CmdInjectVolumeKeys simulates physical volume keys when the capability is
// granted; silently skipped otherwise.
type CmdInjectVolumeKeys struct{}

func (CmdInjectVolumeKeys) commandMarker() {}
func (CmdInjectVolumeKeys) String() string { return "CmdInjectVolumeKeys()" }

// ==============================
// Route port queries
// ==============================

type CmdGetMode struct{}

func (CmdGetMode) commandMarker() {}
func (CmdGetMode) String() string { return "CmdGetMode()" }

type CmdGetSpeaker struct{}

func (CmdGetSpeaker) commandMarker() {}
func (CmdGetSpeaker) String() string { return "CmdGetSpeaker()" }

type CmdGetStreamVolume struct {
	Stream Stream
}

func (CmdGetStreamVolume) commandMarker() {}
func (c CmdGetStreamVolume) String() string {
	return fmt.Sprintf("CmdGetStreamVolume(stream=%s)", c.Stream)
}

type CmdGetStreamActive struct {
	Stream Stream
}

func (CmdGetStreamActive) commandMarker() {}
func (c CmdGetStreamActive) String() string {
	return fmt.Sprintf("CmdGetStreamActive(stream=%s)", c.Stream)
}

// ==============================
// Scheduler / snapshots
// ==============================

// CmdSchedule submits a timed step sequence under a family generation.
// Steps fire back into the event loop as StepDue; the reducer re-validates
// the generation and guard before acting, so superseded steps are no-ops.
type CmdSchedule struct {
	Family Family
	Gen    uint64
	Steps  []Step
}

func (CmdSchedule) commandMarker() {}
func (c CmdSchedule) String() string {
	return fmt.Sprintf("CmdSchedule(family=%s, gen=%d, steps=%d)", c.Family, c.Gen, len(c.Steps))
}

// CmdPublishSnapshot delivers a reducer-produced snapshot to a requester.
// Moving the channel send into the effects layer keeps the reducer pure.
type CmdPublishSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan StateSnapshot
}

func (CmdPublishSnapshot) commandMarker() {}
func (CmdPublishSnapshot) String() string { return "CmdPublishSnapshot()" }
