package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rbright/cadence/internal/audio"
	"github.com/rbright/cadence/internal/doctor"
	"github.com/rbright/cadence/internal/indicator"
	"github.com/rbright/cadence/internal/version"
)

func newDevicesCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "devices [filter]",
		Short: "List PulseAudio output sinks",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			sinks, err := audio.ListSinks(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				sinks = audio.FilterSinks(sinks, args[0])
			}
			if len(sinks) == 0 {
				return errors.New("no audio output sinks found")
			}
			rt.logger().Debug("listed sinks", "count", len(sinks))
			renderSinks(cmd.OutOrStdout(), sinks)
			return nil
		},
	}
}

func newDoctorCommand(rt *runtime) *cobra.Command {
	var notify string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, tools, audio output, and the owner",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := indicator.ParseBackend(notify)
			if err != nil {
				return usageError{err: err}
			}
			loaded, err := rt.loadConfig()
			if err != nil {
				return err
			}
			socketPath, _ := rt.socketPath()

			report := doctor.Run(cmd.Context(), loaded, doctor.Options{SocketPath: socketPath, Backend: backend})
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			if !report.OK() {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&notify, "notify", string(indicator.BackendDesktop), "Notification backend to check: desktop, hypr, or none")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
