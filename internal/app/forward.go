package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/ipc"
)

// forward sends one request to the owner and prints its message.
func (rt *runtime) forward(ctx context.Context, w io.Writer, req ipc.Request) (ipc.Response, error) {
	socketPath, err := rt.socketPath()
	if err != nil {
		return ipc.Response{}, err
	}
	rt.logger().Info("forward", "command", req.Command, "socket", socketPath)

	resp, err := ipc.Forward(ctx, socketPath, req)
	if err != nil {
		return resp, err
	}
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	return resp, nil
}

// forwardCommand builds a forwarder whose request comes from positional args.
func (rt *runtime) forwardCommand(use, short string, args cobra.PositionalArgs, build func([]string) ipc.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  usageArgs(args),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := rt.forward(cmd.Context(), cmd.OutOrStdout(), build(args))
			return err
		},
	}
}

func newForwardCommands(rt *runtime) []*cobra.Command {
	var target ipc.SessionTarget
	start := &cobra.Command{
		Use:   "start",
		Short: "Bind a new playback session to an mpv IPC socket",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target.Socket == "" {
				return usageErrorf("--socket-path is required")
			}
			session := target
			_, err := rt.forward(cmd.Context(), cmd.OutOrStdout(), ipc.Request{Command: "session-start", Session: &session})
			return err
		},
	}
	start.Flags().StringVar(&target.Socket, "socket-path", "", "mpv --input-ipc-server socket for this sound")
	start.Flags().StringVar(&target.Media, "media", "", "Media path or URL being played")
	start.Flags().IntVar(&target.PID, "pid", 0, "mpv process id")

	single := func(command string) func([]string) ipc.Request {
		return func(args []string) ipc.Request {
			req := ipc.Request{Command: command}
			if len(args) > 0 {
				req.Value = args[0]
			}
			return req
		}
	}

	bind := &cobra.Command{
		Use:   "bind <action> <combo>",
		Short: "Bind a shortcut, e.g. bind volume_up ctrl+alt+k",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dispatch.Action(args[0]).Valid() {
				return usageErrorf("unknown action %q", args[0])
			}
			_, err := rt.forward(cmd.Context(), cmd.OutOrStdout(), ipc.Request{Command: "bind", Action: args[0], Value: args[1]})
			return err
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the owner's playback state",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := rt.forward(cmd.Context(), io.Discard, ipc.Request{Command: "status"})
			if errors.Is(err, ipc.ErrOwnerNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "idle")
				return nil
			}
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List shortcut bindings",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := rt.forward(cmd.Context(), io.Discard, ipc.Request{Command: "status"})
			if errors.Is(err, ipc.ErrOwnerNotRunning) {
				loaded, loadErr := rt.loadConfig()
				if loadErr != nil {
					return loadErr
				}
				renderBindings(cmd.OutOrStdout(), configuredBindings(loaded.Config))
				return nil
			}
			if err != nil {
				return err
			}
			renderBindings(cmd.OutOrStdout(), resp.Bindings)
			return nil
		},
	}

	return []*cobra.Command{
		start,
		rt.forwardCommand("end", "End the current playback session", cobra.NoArgs, single("session-end")),
		rt.forwardCommand("volume <0-100>", "Set the base volume", cobra.ExactArgs(1), single("volume")),
		rt.forwardCommand("speed <0.25-2.0>", "Set the playback speed", cobra.ExactArgs(1), single("speed")),
		rt.forwardCommand("mute [on|off|toggle]", "Mute, unmute, or toggle mute", cobra.MaximumNArgs(1), single("mute")),
		rt.forwardCommand("boost [on|off|toggle]", "Enable, disable, or toggle volume boost", cobra.MaximumNArgs(1), single("boost")),
		rt.forwardCommand("loudnorm <on|off|target>", "Control loudness normalisation", cobra.ExactArgs(1), single("loudnorm")),
		rt.forwardCommand("press <action>", "Trigger a shortcut action", cobra.ExactArgs(1), func(args []string) ipc.Request {
			return ipc.Request{Command: "press", Action: args[0]}
		}),
		rt.forwardCommand("key <combo>", "Dispatch a key combo through the keymap", cobra.ExactArgs(1), single("key")),
		bind,
		rt.forwardCommand("unbind <action>", "Remove a shortcut binding", cobra.ExactArgs(1), func(args []string) ipc.Request {
			return ipc.Request{Command: "unbind", Action: args[0]}
		}),
		rt.forwardCommand("save", "Persist current playback settings", cobra.NoArgs, single("save")),
		status,
		keys,
	}
}

// configuredBindings lists bindings from the config file when no owner is running.
func configuredBindings(cfg config.Config) []ipc.Binding {
	keymap, _ := dispatch.NewKeymap(cfg.Shortcuts.Map())
	return bindingsView(keymap)
}

func formatSpeed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
