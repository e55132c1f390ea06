package main

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

// mockAudioRouter is a test double for the audio bridge.
type mockAudioRouter struct {
	mode    AudioMode
	speaker bool
	levels  map[Stream]int
	maxes   map[Stream]int
	active  map[Stream]bool

	setModeCalls    []AudioMode
	setSpeakerCalls []bool
	setVolCalls     []CmdSetStreamVolume
	adjustCalls     []CmdAdjustStreamVolume
	forceCalls      int
	injectCalls     int

	setModeErr error
	injectErr  error
}

func newMockAudioRouter() *mockAudioRouter {
	return &mockAudioRouter{
		mode:   ModeNormal,
		levels: map[Stream]int{StreamVoice: 4, StreamMusic: 8},
		maxes:  map[Stream]int{StreamVoice: 7, StreamMusic: 15},
		active: map[Stream]bool{StreamMusic: false},
	}
}

func (m *mockAudioRouter) Mode() (AudioMode, error) { return m.mode, nil }

func (m *mockAudioRouter) SetMode(mode AudioMode) error {
	if m.setModeErr != nil {
		return m.setModeErr
	}
	m.setModeCalls = append(m.setModeCalls, mode)
	m.mode = mode
	return nil
}

func (m *mockAudioRouter) SpeakerOn() (bool, error) { return m.speaker, nil }

func (m *mockAudioRouter) SetSpeakerOn(on bool) error {
	m.setSpeakerCalls = append(m.setSpeakerCalls, on)
	m.speaker = on
	return nil
}

func (m *mockAudioRouter) StreamVolume(s Stream) (int, int, error) {
	return m.levels[s], m.maxes[s], nil
}

func (m *mockAudioRouter) SetStreamVolume(s Stream, level int) error {
	m.setVolCalls = append(m.setVolCalls, CmdSetStreamVolume{Stream: s, Level: level})
	m.levels[s] = level
	return nil
}

func (m *mockAudioRouter) AdjustStreamVolume(s Stream, dir VolumeDirection) error {
	m.adjustCalls = append(m.adjustCalls, CmdAdjustStreamVolume{Stream: s, Dir: dir})
	return nil
}

func (m *mockAudioRouter) StreamActive(s Stream) (bool, error) { return m.active[s], nil }

func (m *mockAudioRouter) ForceRouting(speaker bool) error {
	m.forceCalls++
	return nil
}

func (m *mockAudioRouter) InjectVolumeKeys() error {
	if m.injectErr != nil {
		return m.injectErr
	}
	m.injectCalls++
	return nil
}

func (m *mockAudioRouter) Close() error { return nil }

func (m *mockAudioRouter) writeCount() int {
	return len(m.setModeCalls) + len(m.setSpeakerCalls) + len(m.setVolCalls) +
		len(m.adjustCalls) + m.forceCalls + m.injectCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testLoop drives reduce/effect cycles the way runDaemon does, with a
// scheduler whose deliveries are captured instead of timer-driven.
type testLoop struct {
	t      *testing.T
	state  *ControllerState
	router *mockAudioRouter
	sched  *Scheduler
	sink   *collectEvents
	cfg    RecoveryConfig
}

func newTestLoop(t *testing.T, router *mockAudioRouter) *testLoop {
	sink := &collectEvents{}
	return &testLoop{
		t:      t,
		state:  NewControllerState(),
		router: router,
		sched:  NewScheduler(sink.emit),
		sink:   sink,
		cfg:    DefaultRecoveryConfig(),
	}
}

// dispatch reduces one event and runs every resulting command, feeding
// observations back through the reducer immediately.
func (l *testLoop) dispatch(ev Event) {
	l.t.Helper()

	var eventQueue []Event
	var cmdQueue []Command
	eventQueue = append(eventQueue, ev)

	flushEvents := func() {
		for len(eventQueue) > 0 {
			next := eventQueue[0]
			eventQueue = eventQueue[1:]
			rr := Reduce(l.state, next, l.cfg)
			cmdQueue = append(cmdQueue, rr.Commands...)
		}
	}

	flushEvents()
	for len(cmdQueue) > 0 {
		cmd := cmdQueue[0]
		cmdQueue = cmdQueue[1:]
		runEffect(l.router, l.sched, cmd, testLogger(), func(obs Event) {
			eventQueue = append(eventQueue, obs)
		})
		flushEvents()
	}
}

func TestDaemon_CallStartWritesThroughRouter(t *testing.T) {
	router := newMockAudioRouter()
	loop := newTestLoop(t, router)
	defer loop.sched.StopAll()

	t0 := time.Unix(1000, 0).UTC()
	loop.dispatch(TimedEvent{Event: CallStateChanged{Active: true}, At: t0})

	if len(router.setModeCalls) == 0 || router.setModeCalls[0] != ModeNormal {
		t.Fatalf("expected mode reset through router, got %v", router.setModeCalls)
	}

	// The voice volume was unknown at start, so the query observation must
	// have been fed back into the state.
	if !loop.state.Route.Voice.Known {
		t.Fatalf("expected voice volume cached after query observation")
	}
	if loop.state.Route.Voice.Level != 4 || loop.state.Route.Voice.Max != 7 {
		t.Fatalf("unexpected cached voice volume %+v", loop.state.Route.Voice)
	}
}

func TestDaemon_PollObservesMusicActivity(t *testing.T) {
	router := newMockAudioRouter()
	router.active[StreamMusic] = true
	loop := newTestLoop(t, router)
	defer loop.sched.StopAll()

	loop.dispatch(Tick{Now: time.Unix(1000, 0).UTC()})

	if !loop.state.Media.Playing {
		t.Fatalf("expected media playback detected via poll")
	}
	if !loop.state.Route.ModeKnown {
		t.Fatalf("expected mode cached via poll")
	}
}

func TestDaemon_NoWritesAfterCallEnd(t *testing.T) {
	router := newMockAudioRouter()
	loop := newTestLoop(t, router)
	defer loop.sched.StopAll()

	t0 := time.Unix(1000, 0).UTC()
	loop.dispatch(TimedEvent{Event: CallStateChanged{Active: true}, At: t0})
	loop.dispatch(SpeakerObserved{On: true, At: t0.Add(time.Second)})
	loop.dispatch(TimedEvent{Event: CallStateChanged{Active: false}, At: t0.Add(2 * time.Second)})

	writes := router.writeCount()

	// Replay every step the scheduler captured before the call ended; all of
	// them are stale now and none may reach the router.
	for _, due := range loop.sink.snapshot() {
		loop.dispatch(due)
	}
	loop.dispatch(StepDue{
		Family: FamilySpeakerFix,
		Gen:    1,
		Step:   Step{Op: OpApplyFix, Guard: GuardSpeakerFix},
		At:     t0.Add(3 * time.Second),
	})

	if router.writeCount() != writes {
		t.Fatalf("expected no router writes after call end, got %d extra",
			router.writeCount()-writes)
	}
}

func TestRunEffect_QueryFeedsObservation(t *testing.T) {
	router := newMockAudioRouter()
	router.mode = ModeInCommunication
	sink := &collectEvents{}
	sched := NewScheduler(sink.emit)
	defer sched.StopAll()

	var got []Event
	runEffect(router, sched, CmdGetMode{}, testLogger(), func(ev Event) {
		got = append(got, ev)
	})

	if len(got) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(got))
	}
	obs, ok := got[0].(ModeObserved)
	if !ok || obs.Mode != ModeInCommunication {
		t.Fatalf("expected in_communication observation, got %+v", got[0])
	}
	if obs.At.IsZero() {
		t.Fatalf("expected observation timestamp")
	}
}

func TestRunEffect_KeyInjectionUnsupportedIsSoft(t *testing.T) {
	router := newMockAudioRouter()
	router.injectErr = ErrKeyInjectionUnsupported
	sink := &collectEvents{}
	sched := NewScheduler(sink.emit)
	defer sched.StopAll()

	var got []Event
	runEffect(router, sched, CmdInjectVolumeKeys{}, testLogger(), func(ev Event) {
		got = append(got, ev)
	})

	if len(got) != 0 {
		t.Fatalf("missing key injection capability must not report a failure, got %v", got)
	}
}

func TestRunEffect_FailureEmitsRouteCommandFailed(t *testing.T) {
	router := newMockAudioRouter()
	router.setModeErr = errors.New("bridge gone")
	sink := &collectEvents{}
	sched := NewScheduler(sink.emit)
	defer sched.StopAll()

	var got []Event
	runEffect(router, sched, CmdSetMode{Mode: ModeNormal}, testLogger(), func(ev Event) {
		got = append(got, ev)
	})

	if len(got) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(got))
	}
	failed, ok := got[0].(RouteCommandFailed)
	if !ok {
		t.Fatalf("expected RouteCommandFailed, got %T", got[0])
	}
	if failed.Err == nil || failed.Command.String() != (CmdSetMode{Mode: ModeNormal}).String() {
		t.Fatalf("failure event must carry the command and error, got %+v", failed)
	}
}

func TestRunEffect_PublishSnapshotNonBlocking(t *testing.T) {
	router := newMockAudioRouter()
	sink := &collectEvents{}
	sched := NewScheduler(sink.emit)
	defer sched.StopAll()

	reply := make(chan StateSnapshot, 1)
	snap := StateSnapshot{CallActive: true}
	runEffect(router, sched, CmdPublishSnapshot{Snapshot: snap, Reply: reply}, testLogger(), nil)

	select {
	case got := <-reply:
		if !got.CallActive {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	default:
		t.Fatalf("expected snapshot delivered")
	}

	// A full (abandoned) reply channel must not block the effects runner.
	runEffect(router, sched, CmdPublishSnapshot{Snapshot: snap, Reply: reply}, testLogger(), nil)
}

func TestRunEffect_ScheduleArmsTimers(t *testing.T) {
	router := newMockAudioRouter()
	sink := &collectEvents{}
	sched := NewScheduler(sink.emit)
	defer sched.StopAll()

	runEffect(router, sched, CmdSchedule{
		Family: FamilyCallInit,
		Gen:    1,
		Steps:  []Step{{After: time.Hour, Op: OpSetMode, Mode: ModeNormal}},
	}, testLogger(), nil)

	if got := sched.Pending(); got != 1 {
		t.Fatalf("expected 1 armed timer, got %d", got)
	}
}
