// Package doctor runs runtime readiness diagnostics for config, tools, audio, and the owner.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/cadence/internal/audio"
	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/indicator"
	"github.com/rbright/cadence/internal/ipc"
)

const probeTimeout = 300 * time.Millisecond

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// Options selects the runtime pieces doctor probes.
type Options struct {
	SocketPath string
	Backend    indicator.Backend
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, opts Options) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkBinary("mpv", "playback engine"))
	checks = append(checks, checkOwner(ctx, opts.SocketPath))

	switch opts.Backend {
	case indicator.BackendNone:
	case indicator.BackendHypr:
		checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
		checks = append(checks, checkBinary("hyprctl", "hypr notifications"))
	default:
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}

	checks = append(checks, checkAudioSink(ctx))

	return Report{Checks: checks}
}

// checkConfig fails when any warning came from corrupt content.
func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	if cfg.Corrupt() {
		messages := make([]string, 0, len(cfg.Warnings))
		for _, w := range cfg.Warnings {
			if w.Corrupt() {
				messages = append(messages, w.Message)
			}
		}
		return Check{Name: "config", Pass: false, Message: strings.Join(messages, "; ")}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkOwner probes the owner socket.
func checkOwner(ctx context.Context, socketPath string) Check {
	if strings.TrimSpace(socketPath) == "" {
		return Check{Name: "owner", Pass: false, Message: "socket path is empty"}
	}
	alive, err := ipc.Probe(ctx, socketPath, probeTimeout)
	if err != nil {
		return Check{Name: "owner", Pass: false, Message: err.Error()}
	}
	if !alive {
		return Check{Name: "owner", Pass: false, Message: fmt.Sprintf("no owner listening on %s (run `cadence serve`)", socketPath)}
	}
	return Check{Name: "owner", Pass: true, Message: fmt.Sprintf("responding on %s", socketPath)}
}

// checkAudioSink reports whether the default output sink can be heard.
func checkAudioSink(ctx context.Context) Check {
	sink, err := audio.DefaultSink(ctx)
	if err != nil {
		return Check{Name: "audio.sink", Pass: false, Message: err.Error()}
	}
	return sinkCheck(sink)
}

func sinkCheck(sink audio.Sink) Check {
	switch {
	case !sink.Available:
		return Check{Name: "audio.sink", Pass: false, Message: fmt.Sprintf("default sink %q is unplugged", sink.ID)}
	case sink.Muted:
		return Check{Name: "audio.sink", Pass: false, Message: fmt.Sprintf("default sink %q is muted", sink.ID)}
	case sink.VolumePercent == 0:
		return Check{Name: "audio.sink", Pass: false, Message: fmt.Sprintf("default sink %q is at 0%%", sink.ID)}
	}
	return Check{Name: "audio.sink", Pass: true, Message: fmt.Sprintf("%q at %d%% (%s)", sink.ID, sink.VolumePercent, sink.State)}
}
