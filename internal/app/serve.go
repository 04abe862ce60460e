package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/hypr"
	"github.com/rbright/cadence/internal/indicator"
	"github.com/rbright/cadence/internal/ipc"
	"github.com/rbright/cadence/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
	shutdownTimeout     = 2 * time.Second
	autosaveDelay       = 2 * time.Second
)

type serveOptions struct {
	notify        string
	hyprShortcuts bool
	pollInterval  time.Duration
}

func newServeCommand(rt *runtime) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the owner that holds playback state and drives mpv",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.notify, "notify", string(indicator.BackendDesktop), "Notification backend: desktop, hypr, or none")
	cmd.Flags().BoolVar(&opts.hyprShortcuts, "hypr-shortcuts", false, "Register shortcuts as Hyprland global keybinds")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "Engine liveness poll interval (default 500ms)")
	return cmd
}

// serve runs the owner until ctx is cancelled.
func (rt *runtime) serve(ctx context.Context, opts serveOptions) error {
	backend, err := indicator.ParseBackend(opts.notify)
	if err != nil {
		return usageError{err: err}
	}
	socketPath, err := rt.socketPath()
	if err != nil {
		return err
	}
	loaded, err := rt.loadConfig()
	if err != nil {
		return err
	}
	logger := rt.logger()

	listener, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return fmt.Errorf("%w on %s", err, socketPath)
		}
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	notifier := indicator.New(indicator.Options{Backend: backend}, logger)
	defer notifier.Wait()
	if loaded.Corrupt() {
		notifier.Notify(session.Notice{Kind: config.ErrCorruptConfig, Message: "config reset to defaults where invalid"})
	}

	keymap, errs := dispatch.NewKeymap(loaded.Config.Shortcuts.Map())
	for _, err := range errs {
		logger.Warn("shortcut left unbound", "error", err.Error())
	}

	ctrlOpts := []session.Option{}
	if opts.pollInterval > 0 {
		ctrlOpts = append(ctrlOpts, session.WithPollInterval(opts.pollInterval))
	}
	ctrl := session.NewController(logger, engine.NewClient(logger), notifier, loaded.Config.Playback(), ctrlOpts...)
	disp := dispatch.New(logger, ctrl, keymap, dispatch.WithSettingsOpener(notifier), dispatch.WithFeedback(notifier))

	ctrlCtx, stopCtrl := context.WithCancel(context.WithoutCancel(ctx))
	ctrlDone := make(chan error, 1)
	go func() {
		ctrlDone <- ctrl.Run(ctrlCtx)
	}()

	o := &owner{
		logger:        logger,
		ctrl:          ctrl,
		disp:          disp,
		notifier:      notifier,
		configPath:    loaded.Path,
		cfg:           loaded.Config,
		autosaveDelay: autosaveDelay,
	}
	if opts.hyprShortcuts {
		o.shortcuts = newHyprShortcuts(socketPath)
		registerAll(ctx, o, keymap)
	}

	logger.Info("owner start",
		"socket", socketPath,
		"config", loaded.Path,
		"notify", backend,
		"hypr_shortcuts", opts.hyprShortcuts,
	)
	server := &ipc.Server{Handler: o, Logger: logger}
	serveErr := server.Serve(ctx, listener)

	o.closeAutosave()
	if err := o.saveIfChanged(); err != nil {
		logger.Warn("save on shutdown failed", "error", err.Error())
	}
	disp.Flush()
	settleCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	_ = ctrl.Settle(settleCtx)
	cancel()
	stopCtrl()
	<-ctrlDone

	if o.shortcuts != nil {
		unregisterAll(o, keymap)
	}
	logger.Info("owner stop", "revision", ctrl.Snapshot().Revision)

	if serveErr != nil {
		return fmt.Errorf("ipc server failed: %w", serveErr)
	}
	return nil
}

func registerAll(ctx context.Context, o *owner, keymap *dispatch.Keymap) {
	for action, combo := range keymap.Bindings() {
		if combo == "" {
			continue
		}
		if err := o.shortcuts.Register(ctx, action, combo); err != nil {
			o.logger.Warn("register global shortcut failed", "action", action, "combo", combo, "error", err.Error())
		}
	}
}

func unregisterAll(o *owner, keymap *dispatch.Keymap) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, combo := range keymap.Bindings() {
		if combo == "" {
			continue
		}
		if err := o.shortcuts.Unregister(ctx, combo); err != nil {
			o.logger.Debug("unregister global shortcut failed", "combo", combo, "error", err.Error())
		}
	}
}

// hyprShortcuts binds each combo to `cadence press <action>` against this owner.
type hyprShortcuts struct {
	exe    string
	socket string
}

func newHyprShortcuts(socket string) hyprShortcuts {
	exe, err := os.Executable()
	if err != nil || strings.TrimSpace(exe) == "" {
		exe = "cadence"
	}
	return hyprShortcuts{exe: exe, socket: socket}
}

func (h hyprShortcuts) command(action dispatch.Action) string {
	return fmt.Sprintf("%s --socket %s press %s", h.exe, h.socket, action)
}

func (h hyprShortcuts) Register(ctx context.Context, action dispatch.Action, combo string) error {
	return hypr.BindExec(ctx, combo, h.command(action))
}

func (h hyprShortcuts) Unregister(ctx context.Context, combo string) error {
	return hypr.Unbind(ctx, combo)
}
