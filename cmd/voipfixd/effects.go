package main

import (
	"errors"
	"log/slog"
	"time"
)

// runEffect executes one reducer-emitted command. Route-port queries report
// their results back through onEvent as observation events; failures become
// RouteCommandFailed so the reducer stays aware without ever blocking on IO.
func runEffect(router AudioRouter, sched *Scheduler, cmd Command, logger *slog.Logger, onEvent func(Event)) {
	fail := func(err error) {
		logger.Error("command failed", "command", cmd.String(), "error", err)
		onEvent(RouteCommandFailed{Command: cmd, Err: err, At: time.Now()})
	}

	switch c := cmd.(type) {
	case CmdSetMode:
		if err := router.SetMode(c.Mode); err != nil {
			fail(err)
		}

	case CmdSetSpeaker:
		if err := router.SetSpeakerOn(c.On); err != nil {
			fail(err)
		}

	case CmdSetStreamVolume:
		if err := router.SetStreamVolume(c.Stream, c.Level); err != nil {
			fail(err)
		}

	case CmdAdjustStreamVolume:
		if err := router.AdjustStreamVolume(c.Stream, c.Dir); err != nil {
			fail(err)
		}

	case CmdForceRouting:
		if err := router.ForceRouting(c.Speaker); err != nil {
			fail(err)
		}

	case CmdInjectVolumeKeys:
		if err := router.InjectVolumeKeys(); err != nil {
			if errors.Is(err, ErrKeyInjectionUnsupported) {
				logger.Debug("volume key injection unavailable; skipping")
				return
			}
			fail(err)
		}

	case CmdGetMode:
		mode, err := router.Mode()
		if err != nil {
			fail(err)
			return
		}
		onEvent(ModeObserved{Mode: mode, At: time.Now()})

	case CmdGetSpeaker:
		on, err := router.SpeakerOn()
		if err != nil {
			fail(err)
			return
		}
		onEvent(SpeakerObserved{On: on, At: time.Now()})

	case CmdGetStreamVolume:
		level, max, err := router.StreamVolume(c.Stream)
		if err != nil {
			fail(err)
			return
		}
		onEvent(StreamVolumeObserved{Stream: c.Stream, Level: level, Max: max, At: time.Now()})

	case CmdGetStreamActive:
		active, err := router.StreamActive(c.Stream)
		if err != nil {
			fail(err)
			return
		}
		onEvent(StreamActiveObserved{Stream: c.Stream, Active: active, At: time.Now()})

	case CmdSchedule:
		sched.Schedule(c.Family, c.Gen, c.Steps)

	case CmdPublishSnapshot:
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("snapshot requester gone; dropping reply")
		}

	default:
		logger.Error("unknown command", "command", cmd.String())
	}
}
