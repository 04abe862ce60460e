// Package app wires the cadence CLI: the owner process and its forwarder commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/ipc"
	"github.com/rbright/cadence/internal/logging"
)

// Runner executes one CLI invocation against the given output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute runs args and returns the process exit code: 0 on success, 1 on
// command failure, 2 on usage errors.
func (r Runner) Execute(ctx context.Context, args []string) int {
	rt := &runtime{runner: r}
	defer rt.close()

	root := newRootCommand(rt)
	root.SetArgs(negativeNumbersLast(args))
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", usage.err)
		fmt.Fprint(r.Stderr, cmd.UsageString())
		return 2
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
	}
	rt.logger().Error("command failed", "command", cmd.Name(), "error", err.Error())
	return 1
}

// negativeNumbersLast moves negative numeric arguments such as a loudnorm
// target of -16 behind a "--" terminator so they are read as positionals
// rather than shorthand flags. A token that follows a flag is left in place.
func negativeNumbersLast(args []string) []string {
	var rest, numbers []string
	for i, arg := range args {
		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		if isNegativeNumber(arg) && (i == 0 || !strings.HasPrefix(args[i-1], "-")) {
			numbers = append(numbers, arg)
			continue
		}
		rest = append(rest, arg)
	}
	if len(numbers) == 0 {
		return args
	}

	out := make([]string, 0, len(args)+1)
	out = append(out, rest...)
	if !slices.Contains(rest, "--") {
		out = append(out, "--")
	}
	return append(out, numbers...)
}

func isNegativeNumber(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	_, err := strconv.ParseFloat(arg, 64)
	return err == nil
}

// usageError marks bad invocations so Execute can print usage and exit 2.
type usageError struct {
	err error
}

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs marks positional-argument validation failures as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

// runtime holds per-invocation state shared by commands.
type runtime struct {
	runner Runner

	configFlag string
	socketFlag string
	verbose    bool

	logOnce sync.Once
	log     *slog.Logger
	logs    logging.Runtime
}

// logger lazily opens the JSONL log so help and usage errors never touch disk.
func (rt *runtime) logger() *slog.Logger {
	rt.logOnce.Do(func() {
		if rt.runner.Logger != nil {
			rt.log = rt.runner.Logger
			return
		}
		logs, err := logging.New(logging.Options{Verbose: rt.verbose})
		if err != nil {
			fmt.Fprintf(rt.runner.Stderr, "warning: setup logging: %v\n", err)
			rt.log = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}
		rt.logs = logs
		rt.log = logs.Logger
	})
	return rt.log
}

func (rt *runtime) close() {
	_ = rt.logs.Close()
}

// socketPath resolves --socket, then $XDG_RUNTIME_DIR/cadence.sock.
func (rt *runtime) socketPath() (string, error) {
	if path := strings.TrimSpace(rt.socketFlag); path != "" {
		return path, nil
	}
	return ipc.RuntimeSocketPath()
}

// loadConfig loads the config and reports warnings on stderr and in the log.
func (rt *runtime) loadConfig() (config.Loaded, error) {
	loaded, err := config.Load(rt.configFlag)
	if err != nil {
		return config.Loaded{}, err
	}
	logger := rt.logger()
	for _, w := range loaded.Warnings {
		if !loaded.Exists && !w.Corrupt() {
			logger.Info("config warning", "message", w.Message)
			continue
		}
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(rt.runner.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message, "corrupt", w.Corrupt())
	}
	return loaded, nil
}

func newRootCommand(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "cadence",
		Short:         "Volume and speed control for sound playback",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.PersistentFlags().StringVarP(&rt.configFlag, "config", "c", "", "Configuration file path")
	root.PersistentFlags().StringVar(&rt.socketFlag, "socket", "", "Path to the cadence owner socket")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log debug detail, including every engine command")

	root.AddCommand(newServeCommand(rt))
	for _, cmd := range newForwardCommands(rt) {
		root.AddCommand(cmd)
	}
	root.AddCommand(newDevicesCommand(rt))
	root.AddCommand(newDoctorCommand(rt))
	root.AddCommand(newVersionCommand())

	return root
}
