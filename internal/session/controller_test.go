package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/playback"
	"github.com/stretchr/testify/require"
)

type engineCall struct {
	session string
	param   engine.Param
	value   any
}

type fakeEngine struct {
	mu          sync.Mutex
	calls       []engineCall
	connects    []engine.Target
	closed      []string
	connectErr  error
	connectGate chan struct{}
	setGate     map[engine.Param]chan struct{}
	setErr      map[engine.Param]error
	pollStatus  engine.Status
	pollErr     error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		setGate:    map[engine.Param]chan struct{}{},
		setErr:     map[engine.Param]error{},
		pollStatus: engine.Status{State: engine.StateReady},
	}
}

func (f *fakeEngine) Connect(ctx context.Context, target engine.Target) (engine.Handle, error) {
	f.mu.Lock()
	f.connects = append(f.connects, target)
	gate := f.connectGate
	err := f.connectErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return engine.Handle{}, ctx.Err()
		}
	}
	if err != nil {
		return engine.Handle{}, err
	}
	return engine.Handle{SessionID: target.SessionID}, nil
}

func (f *fakeEngine) set(ctx context.Context, h engine.Handle, p engine.Param, value any) error {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{session: h.SessionID, param: p, value: value})
	gate := f.setGate[p]
	delete(f.setGate, p)
	err := f.setErr[p]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return err
}

func (f *fakeEngine) SetVolume(ctx context.Context, h engine.Handle, v float64) error {
	return f.set(ctx, h, engine.ParamVolume, v)
}

func (f *fakeEngine) SetSpeed(ctx context.Context, h engine.Handle, v float64) error {
	return f.set(ctx, h, engine.ParamSpeed, v)
}

func (f *fakeEngine) SetFilter(ctx context.Context, h engine.Handle, v string) error {
	return f.set(ctx, h, engine.ParamFilter, v)
}

func (f *fakeEngine) Poll(context.Context, engine.Handle) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollStatus, f.pollErr
}

func (f *fakeEngine) Close(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h.SessionID)
	return nil
}

func (f *fakeEngine) callsFor(p engine.Param) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, 0)
	for _, c := range f.calls {
		if c.param == p {
			out = append(out, c.value)
		}
	}
	return out
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeObserver struct {
	mu      sync.Mutex
	notices []Notice
	changes int
}

func (o *fakeObserver) StateChanged(Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes++
}

func (o *fakeObserver) Notify(n Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *fakeObserver) first() Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.notices[0]
}

func (o *fakeObserver) noticeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.notices)
}

func startController(t *testing.T, eng Engine, obs Observer, initial playback.State) *Controller {
	t.Helper()
	ctrl := NewController(nil, eng, obs, initial, WithPollInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ctrl
}

func waitForState(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

func waitInSync(t *testing.T, ctrl *Controller) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().InSync
	}, 2*time.Second, 5*time.Millisecond, "controller never synced")
}

func settle(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ctrl.Settle(ctx))
}

func TestEngineReadyPushesFullStateOnce(t *testing.T) {
	eng := newFakeEngine()
	ctrl := startController(t, eng, nil, playback.Default())

	id := ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	require.NotEmpty(t, id)
	waitForState(t, ctrl, fsm.StateActive)
	waitInSync(t, ctrl)

	require.Equal(t, []any{100.0}, eng.callsFor(engine.ParamVolume))
	require.Equal(t, []any{1.0}, eng.callsFor(engine.ParamSpeed))
	require.Equal(t, []any{""}, eng.callsFor(engine.ParamFilter))

	snap := ctrl.Snapshot()
	require.Equal(t, id, snap.SessionID)
	require.Equal(t, EngineValues{Volume: 100, Speed: 1.0}, snap.Acknowledged)
}

func TestMutationsWhileBindingAreCoalesced(t *testing.T) {
	eng := newFakeEngine()
	gate := make(chan struct{})
	eng.connectGate = gate
	ctrl := startController(t, eng, nil, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitForState(t, ctrl, fsm.StateBinding)

	ctrl.SetVolume(40)
	ctrl.SetVolume(60)
	ctrl.SetSpeed(1.2)
	ctrl.SetBoost(true)
	settle(t, ctrl)
	require.Zero(t, eng.callCount())

	close(gate)
	waitInSync(t, ctrl)

	require.Equal(t, []any{120.0}, eng.callsFor(engine.ParamVolume))
	require.Equal(t, []any{1.2}, eng.callsFor(engine.ParamSpeed))
}

func TestConnectFailureDegradesAndStopsCommands(t *testing.T) {
	eng := newFakeEngine()
	eng.connectErr = fmt.Errorf("%w: dial: no such file", engine.ErrEngineUnavailable)
	obs := &fakeObserver{}
	ctrl := startController(t, eng, obs, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "/tmp/missing.sock"})
	waitForState(t, ctrl, fsm.StateDegraded)

	ctrl.SetVolume(30)
	ctrl.SetSpeed(1.5)
	ctrl.ToggleMute()
	settle(t, ctrl)

	require.Zero(t, eng.callCount())
	require.Equal(t, 1, obs.noticeCount())
	require.ErrorIs(t, obs.first().Kind, engine.ErrEngineUnavailable)

	snap := ctrl.Snapshot()
	require.Equal(t, 30, snap.Playback.BaseVolume)
	require.Equal(t, 1.5, snap.Playback.Speed)
	require.True(t, snap.Playback.Muted)
}

func TestControlUnsupportedReportedOnce(t *testing.T) {
	eng := newFakeEngine()
	eng.connectErr = fmt.Errorf("%w: .webm playback on windows", engine.ErrControlUnsupported)
	obs := &fakeObserver{}
	ctrl := startController(t, eng, obs, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "pipe", Media: "a.webm"})
	waitForState(t, ctrl, fsm.StateDegraded)
	settle(t, ctrl)

	require.Equal(t, 1, obs.noticeCount())
	require.ErrorIs(t, obs.first().Kind, engine.ErrControlUnsupported)
}

func TestOutstandingCommandIsSuperseded(t *testing.T) {
	eng := newFakeEngine()
	ctrl := startController(t, eng, nil, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitInSync(t, ctrl)

	gate := make(chan struct{})
	eng.mu.Lock()
	eng.setGate[engine.ParamVolume] = gate
	eng.mu.Unlock()

	ctrl.SetVolume(10)
	require.Eventually(t, func() bool { return len(eng.callsFor(engine.ParamVolume)) == 2 }, time.Second, 5*time.Millisecond)

	ctrl.SetVolume(20)
	ctrl.SetVolume(30)
	settle(t, ctrl)
	require.Len(t, eng.callsFor(engine.ParamVolume), 2)

	close(gate)
	waitInSync(t, ctrl)

	require.Equal(t, []any{100.0, 10.0, 30.0}, eng.callsFor(engine.ParamVolume))
	require.Equal(t, 30, ctrl.Snapshot().Acknowledged.Volume)
}

func TestAcknowledgedOnlyOnSuccess(t *testing.T) {
	eng := newFakeEngine()
	obs := &fakeObserver{}
	ctrl := startController(t, eng, obs, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitInSync(t, ctrl)

	eng.mu.Lock()
	eng.setErr[engine.ParamSpeed] = fmt.Errorf("%w: invalid value", engine.ErrCommandRejected)
	eng.mu.Unlock()

	ctrl.SetSpeed(1.75)
	require.Eventually(t, func() bool { return obs.noticeCount() == 1 }, time.Second, 5*time.Millisecond)
	settle(t, ctrl)

	snap := ctrl.Snapshot()
	require.Equal(t, fsm.StateActive, snap.State)
	require.Equal(t, 1.0, snap.Acknowledged.Speed)
	require.Equal(t, 1.75, snap.Desired.Speed)
	require.False(t, snap.InSync)
	require.Len(t, eng.callsFor(engine.ParamSpeed), 2)
}

func TestConnectionLostDegradesSession(t *testing.T) {
	eng := newFakeEngine()
	obs := &fakeObserver{}
	ctrl := startController(t, eng, obs, playback.Default())

	ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitInSync(t, ctrl)

	eng.mu.Lock()
	eng.setErr[engine.ParamVolume] = engine.ErrConnectionLost
	eng.pollErr = engine.ErrConnectionLost
	eng.pollStatus = engine.Status{State: engine.StateDegraded}
	eng.mu.Unlock()

	ctrl.SetVolume(50)
	waitForState(t, ctrl, fsm.StateDegraded)

	before := eng.callCount()
	ctrl.SetVolume(70)
	ctrl.SetSpeed(0.5)
	time.Sleep(60 * time.Millisecond)
	settle(t, ctrl)

	require.Equal(t, before, eng.callCount())
	require.Equal(t, 1, obs.noticeCount())
	require.ErrorIs(t, obs.first().Kind, engine.ErrConnectionLost)
}

func TestPollDetectsEngineExit(t *testing.T) {
	eng := newFakeEngine()
	ctrl := startController(t, eng, nil, playback.Default())

	id := ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitInSync(t, ctrl)

	eng.mu.Lock()
	eng.pollStatus = engine.Status{State: engine.StateClosed}
	eng.mu.Unlock()

	waitForState(t, ctrl, fsm.StateIdle)
	require.Empty(t, ctrl.Snapshot().SessionID)
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.closed) == 1 && eng.closed[0] == id
	}, time.Second, 5*time.Millisecond)
}

func TestStaleAckIsDiscarded(t *testing.T) {
	eng := newFakeEngine()
	ctrl := startController(t, eng, nil, playback.Default())

	first := ctrl.StartSession(engine.Target{Socket: "/tmp/a.sock"})
	waitInSync(t, ctrl)

	gate := make(chan struct{})
	eng.mu.Lock()
	eng.setGate[engine.ParamVolume] = gate
	eng.mu.Unlock()

	ctrl.SetVolume(25)
	require.Eventually(t, func() bool { return len(eng.callsFor(engine.ParamVolume)) == 2 }, time.Second, 5*time.Millisecond)

	ctrl.EndSession()
	waitForState(t, ctrl, fsm.StateIdle)

	eng.mu.Lock()
	eng.connectGate = make(chan struct{})
	secondGate := eng.connectGate
	eng.mu.Unlock()

	second := ctrl.StartSession(engine.Target{Socket: "/tmp/b.sock"})
	require.NotEqual(t, first, second)
	waitForState(t, ctrl, fsm.StateBinding)

	close(gate)
	settle(t, ctrl)
	require.Equal(t, EngineValues{}, ctrl.Snapshot().Acknowledged)

	close(secondGate)
	waitInSync(t, ctrl)
	require.Equal(t, 25, ctrl.Snapshot().Acknowledged.Volume)
}

func TestToggleMuteTwiceRestores(t *testing.T) {
	eng := newFakeEngine()
	initial := playback.Default()
	initial.BaseVolume = 70
	initial.BoostEnabled = true
	initial.BoostFactor = 1.5
	ctrl := startController(t, eng, nil, initial)

	ctrl.StartSession(engine.Target{Socket: "/tmp/mpv.sock"})
	waitInSync(t, ctrl)
	before := ctrl.Snapshot()

	ctrl.ToggleMute()
	settle(t, ctrl)
	muted := ctrl.Snapshot()
	require.True(t, muted.Playback.Muted)
	require.Equal(t, 0, muted.EffectiveVolume())
	require.Equal(t, 70, muted.Playback.BaseVolume)

	ctrl.ToggleMute()
	settle(t, ctrl)
	waitInSync(t, ctrl)
	after := ctrl.Snapshot()
	require.Equal(t, before.Playback, after.Playback)
	require.Equal(t, 105, after.EffectiveVolume())
	require.Equal(t, []any{105.0, 0.0, 105.0}, eng.callsFor(engine.ParamVolume))
}

func TestStartSessionSupersedesLiveSession(t *testing.T) {
	eng := newFakeEngine()
	ctrl := startController(t, eng, nil, playback.Default())

	first := ctrl.StartSession(engine.Target{Socket: "/tmp/a.sock"})
	waitInSync(t, ctrl)
	second := ctrl.StartSession(engine.Target{Socket: "/tmp/b.sock"})
	settle(t, ctrl)
	require.Equal(t, second, ctrl.Snapshot().SessionID)
	waitInSync(t, ctrl)
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.closed) == 1 && eng.closed[0] == first
	}, time.Second, 5*time.Millisecond)
}

func TestSettleAfterStop(t *testing.T) {
	ctrl := NewController(nil, nil, nil, playback.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	require.ErrorIs(t, ctrl.Settle(context.Background()), ErrStopped)
}
