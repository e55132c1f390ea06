package main

import (
	"context"
	"log/slog"
	"time"
)

// runDaemon is the controller loop:
//   - receives trigger events (IPC, proximity, scheduler steps)
//   - emits Tick events at the poll cadence
//   - reduces events into (state, commands, broadcasts)
//   - executes commands against the route port and feeds observations back
//
// The reducer performs no IO; this loop is the only place side effects run,
// and the only goroutine that touches ControllerState.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	router AudioRouter,
	sched *Scheduler,
	cfg RecoveryConfig,
	state *ControllerState,
	pollInterval time.Duration,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("controller state is nil")
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Explicit queues keep reduction and execution non-reentrant: an
	// observation produced while running effects is reduced before the next
	// queued command executes.
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping", "broadcast", b)
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(router, sched, cmd, logger, enqueueEvent)

			// Reduce observations promptly so follow-up commands see a
			// coherent state.
			flushEvents()
		}
	}

	// Prime the route caches before the first external event can arrive.
	enqueueEvent(Tick{Now: time.Now()})
	flushEvents()
	flushCommands()

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			switch ev.(type) {
			case StepDue, Tick, TimedEvent:
				// Already carries its own timestamp.
				enqueueEvent(ev)
			default:
				enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			}
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			enqueueEvent(Tick{Now: now})
			flushEvents()
			flushCommands()
		}
	}
}
