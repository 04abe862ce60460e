package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/ipc"
	"github.com/rbright/cadence/internal/session"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []session.Notice
}

func (n *recordingNotifier) StateChanged(session.Snapshot) {}

func (n *recordingNotifier) Notify(notice session.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]error, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

type recordingShortcuts struct {
	mu         sync.Mutex
	registered []string
	removed    []string
}

func (r *recordingShortcuts) Register(_ context.Context, action dispatch.Action, combo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, string(action)+"="+combo)
	return nil
}

func (r *recordingShortcuts) Unregister(_ context.Context, combo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, combo)
	return nil
}

func newTestOwner(t *testing.T, configPath string) (*owner, *recordingNotifier) {
	t.Helper()

	notices := &recordingNotifier{}
	cfg := config.Default()
	keymap, errs := dispatch.NewKeymap(cfg.Shortcuts.Map())
	require.Empty(t, errs)

	ctrl := session.NewController(discardLogger(), nil, notices, cfg.Playback())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	disp := dispatch.New(discardLogger(), ctrl, keymap, dispatch.WithDebounce(5*time.Millisecond))
	return &owner{
		logger:     discardLogger(),
		ctrl:       ctrl,
		disp:       disp,
		notifier:   notices,
		configPath: configPath,
		cfg:        cfg,
	}, notices
}

func TestOwnerStatusIncludesPlaybackAndBindings(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))

	resp := o.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, resp.OK)
	require.Equal(t, string(fsm.StateIdle), resp.State)
	require.NotNil(t, resp.Playback)
	require.Equal(t, 100, resp.Playback.BaseVolume)
	require.Equal(t, 1.0, resp.Playback.Speed)
	require.Len(t, resp.Bindings, len(dispatch.Actions))
	require.Equal(t, ipc.Binding{Action: "volume_up", Combo: "ctrl+alt+up", Help: "volume up"}, resp.Bindings[0])
}

func TestOwnerParameterCommands(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))
	ctx := context.Background()

	resp := o.Handle(ctx, ipc.Request{Command: "volume", Value: "70"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "volume 70", resp.Message)

	resp = o.Handle(ctx, ipc.Request{Command: "boost", Value: "toggle"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "boost on", resp.Message)
	require.Equal(t, 140, resp.Playback.EffectiveVolume)

	resp = o.Handle(ctx, ipc.Request{Command: "speed", Value: "1.35"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, 1.35, resp.Playback.Speed)

	resp = o.Handle(ctx, ipc.Request{Command: "mute"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "muted", resp.Message)
	require.Equal(t, 0, resp.Playback.EffectiveVolume)
	require.Equal(t, 70, resp.Playback.BaseVolume)

	resp = o.Handle(ctx, ipc.Request{Command: "mute", Value: "off"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, 140, resp.Playback.EffectiveVolume)

	resp = o.Handle(ctx, ipc.Request{Command: "loudnorm", Value: "-16"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "loudnorm I=-16", resp.Message)
	require.True(t, resp.Playback.Loudnorm)
	require.Contains(t, resp.Playback.Filter, "I=-16")

	resp = o.Handle(ctx, ipc.Request{Command: "loudnorm", Value: "off"})
	require.True(t, resp.OK, resp.Error)
	require.False(t, resp.Playback.Loudnorm)
	require.Empty(t, resp.Playback.Filter)
}

func TestOwnerRejectsBadValues(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))
	ctx := context.Background()

	for _, req := range []ipc.Request{
		{Command: "volume", Value: "loud"},
		{Command: "speed", Value: "fast"},
		{Command: "mute", Value: "maybe"},
		{Command: "boost", Value: "max"},
		{Command: "loudnorm", Value: "quiet"},
		{Command: "press", Action: "rewind"},
		{Command: "key", Value: "ctrl+alt+z"},
		{Command: "unbind", Action: "rewind"},
		{Command: "session-start"},
		{Command: "reboot"},
	} {
		resp := o.Handle(ctx, req)
		require.False(t, resp.OK, req.Command)
		require.NotEmpty(t, resp.Error, req.Command)
	}

	resp := o.Handle(ctx, ipc.Request{Command: "status"})
	require.Equal(t, 100, resp.Playback.BaseVolume)
	require.Equal(t, 1.0, resp.Playback.Speed)
}

func TestOwnerKeyDispatchesBoundAction(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))

	resp := o.Handle(context.Background(), ipc.Request{Command: "key", Value: "alt+ctrl+m"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "toggle_mute", resp.Message)
	require.True(t, resp.Playback.Muted)
}

func TestOwnerPressCoalescesSteps(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp := o.Handle(ctx, ipc.Request{Command: "press", Action: "volume_down"})
		require.True(t, resp.OK, resp.Error)
	}
	require.Eventually(t, func() bool {
		return o.ctrl.Snapshot().Playback.BaseVolume == 85
	}, time.Second, 5*time.Millisecond)
}

func TestOwnerSessionStartDegradesWhenEngineUnavailable(t *testing.T) {
	o, notices := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))

	resp := o.Handle(context.Background(), ipc.Request{Command: "session-start", Session: &ipc.SessionTarget{Socket: "/tmp/missing-mpv.sock"}})
	require.True(t, resp.OK, resp.Error)
	require.True(t, strings.HasPrefix(resp.Message, "session "))

	require.Eventually(t, func() bool {
		return o.ctrl.Snapshot().State == fsm.StateDegraded
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		kinds := notices.kinds()
		return len(kinds) == 1 && errors.Is(kinds[0], engine.ErrEngineUnavailable)
	}, time.Second, 5*time.Millisecond)

	resp = o.Handle(context.Background(), ipc.Request{Command: "session-end"})
	require.True(t, resp.OK)
	require.Equal(t, string(fsm.StateIdle), resp.State)
}

func TestOwnerSavePersistsSnapshotAndBindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	ctx := context.Background()

	o.Handle(ctx, ipc.Request{Command: "volume", Value: "35"})
	o.Handle(ctx, ipc.Request{Command: "speed", Value: "1.5"})
	o.Handle(ctx, ipc.Request{Command: "unbind", Action: "open_settings"})

	resp := o.Handle(ctx, ipc.Request{Command: "save"})
	require.True(t, resp.OK, resp.Error)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Empty(t, loaded.Warnings)
	require.Equal(t, 35, loaded.Config.Volume)
	require.Equal(t, 1.5, loaded.Config.Speed)
	require.Empty(t, loaded.Config.Shortcuts.OpenSettings)
	require.Equal(t, "ctrl+alt+up", loaded.Config.Shortcuts.VolumeUp)
}

func TestOwnerSaveFlushesPendingSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	o.disp = dispatch.New(discardLogger(), o.ctrl, o.disp.Keymap(), dispatch.WithDebounce(time.Hour))

	o.Handle(context.Background(), ipc.Request{Command: "press", Action: "speed_down"})
	resp := o.Handle(context.Background(), ipc.Request{Command: "save"})
	require.True(t, resp.OK, resp.Error)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.95, loaded.Config.Speed)
}

func TestOwnerSaveFailureNotifiesAndKeepsRunning(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))
	o, notices := newTestOwner(t, filepath.Join(base, "config.jsonc"))
	ctx := context.Background()

	resp := o.Handle(ctx, ipc.Request{Command: "save"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "persist config failed")

	kinds := notices.kinds()
	require.Len(t, kinds, 1)
	require.ErrorIs(t, kinds[0], config.ErrPersistFailure)

	resp = o.Handle(ctx, ipc.Request{Command: "volume", Value: "20"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, 20, resp.Playback.BaseVolume)
}

func TestOwnerAutosavesAfterPlaybackChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	o.autosaveDelay = 10 * time.Millisecond
	t.Cleanup(o.closeAutosave)
	ctx := context.Background()

	o.Handle(ctx, ipc.Request{Command: "volume", Value: "55"})
	o.Handle(ctx, ipc.Request{Command: "press", Action: "speed_up"})

	require.Eventually(t, func() bool {
		loaded, err := config.Load(path)
		return err == nil && loaded.Exists && loaded.Config.Volume == 55 && loaded.Config.Speed == 1.05
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOwnerAutosaveSkipsStatusAndUnchangedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	o.autosaveDelay = time.Millisecond

	o.Handle(context.Background(), ipc.Request{Command: "status"})
	o.Handle(context.Background(), ipc.Request{Command: "volume", Value: "100"})
	o.closeAutosave()
	require.NoError(t, o.saveIfChanged())

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOwnerAutosaveFailureNotifies(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))
	o, notices := newTestOwner(t, filepath.Join(base, "config.jsonc"))
	o.autosaveDelay = time.Millisecond

	o.Handle(context.Background(), ipc.Request{Command: "volume", Value: "30"})
	require.Eventually(t, func() bool {
		return len(notices.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	o.closeAutosave()
	require.ErrorIs(t, notices.kinds()[0], config.ErrPersistFailure)
}

func TestOwnerCloseAutosaveCancelsPendingSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	o.autosaveDelay = time.Hour

	o.Handle(context.Background(), ipc.Request{Command: "volume", Value: "20"})
	o.closeAutosave()
	o.scheduleAutosave()

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, o.saveIfChanged())

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 20, loaded.Config.Volume)
}

func TestOwnerBindRegistersAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, _ := newTestOwner(t, path)
	shortcuts := &recordingShortcuts{}
	o.shortcuts = shortcuts

	resp := o.Handle(context.Background(), ipc.Request{Command: "bind", Action: "volume_up", Value: "Control+Alt+K"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "volume_up bound to ctrl+alt+k", resp.Message)
	require.Equal(t, []string{"ctrl+alt+up"}, shortcuts.removed)
	require.Equal(t, []string{"volume_up=ctrl+alt+k"}, shortcuts.registered)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "ctrl+alt+k", loaded.Config.Shortcuts.VolumeUp)

	resp = o.Handle(context.Background(), ipc.Request{Command: "key", Value: "ctrl+alt+k"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "volume_up", resp.Message)
}

func TestOwnerBindConflictLeavesConfigUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	o, notices := newTestOwner(t, path)
	shortcuts := &recordingShortcuts{}
	o.shortcuts = shortcuts

	resp := o.Handle(context.Background(), ipc.Request{Command: "bind", Action: "speed_up", Value: "ctrl+alt+m"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "conflict")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Empty(t, shortcuts.registered)
	require.Equal(t, "ctrl+alt+right", o.disp.Keymap().Bindings()[dispatch.ActionSpeedUp])

	kinds := notices.kinds()
	require.Len(t, kinds, 1)
	require.ErrorIs(t, kinds[0], dispatch.ErrBindingConflict)
}

func TestOwnerBindEmptyComboUnbinds(t *testing.T) {
	o, _ := newTestOwner(t, filepath.Join(t.TempDir(), "config.jsonc"))
	shortcuts := &recordingShortcuts{}
	o.shortcuts = shortcuts

	resp := o.Handle(context.Background(), ipc.Request{Command: "bind", Action: "toggle_mute", Value: ""})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "toggle_mute unbound", resp.Message)
	require.Equal(t, []string{"ctrl+alt+m"}, shortcuts.removed)
	require.Empty(t, shortcuts.registered)
}

func TestHyprShortcutsRunHyprctl(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.log")
	t.Setenv("ARGS_FILE", argsFile)
	dir := t.TempDir()
	script := "#!/usr/bin/env bash\nset -euo pipefail\nprintf '%s\\n' \"$*\" >> \"${ARGS_FILE}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hyprctl"), []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	h := hyprShortcuts{exe: "/usr/bin/cadence", socket: "/run/user/1000/cadence.sock"}
	require.NoError(t, h.Register(context.Background(), dispatch.ActionVolumeUp, "ctrl+alt+up"))
	require.NoError(t, h.Unregister(context.Background(), "ctrl+alt+up"))

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Equal(t, []string{
		"--quiet keyword bind CTRL ALT,up,exec,/usr/bin/cadence --socket /run/user/1000/cadence.sock press volume_up",
		"--quiet keyword unbind CTRL ALT,up",
	}, lines)
}
