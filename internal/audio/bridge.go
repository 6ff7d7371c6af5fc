// Package audio provisions a virtual PulseAudio null sink that captures all
// system audio output for the encode engine, and restores the previous
// default sink on release.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/deskcast/deskcast/internal/logging"
)

// sinkDescription tags the virtual sink in the audio server so users can
// identify it in mixer UIs.
const sinkDescription = "device.description=DeskcastSink"

// Runner executes an audio-server control command and returns its stdout.
// Injected so tests never touch the real audio server.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// SinkHandle describes a provisioned virtual sink. At most one handle exists
// per session; it is released exactly once.
type SinkHandle struct {
	SinkName        string
	ModuleID        string
	PreviousDefault string // empty when the default sink could not be read

	releaseOnce sync.Once
}

// Monitor returns the loopback-readable source name for the sink. The encode
// engine pulls session audio from this endpoint.
func (h *SinkHandle) Monitor() string {
	return h.SinkName + ".monitor"
}

// Bridge creates and destroys virtual sinks via pactl.
type Bridge struct {
	logger logging.Logger
	run    Runner
}

// NewBridge creates a bridge that shells out to pactl.
func NewBridge(logger logging.Logger) *Bridge {
	return &Bridge{logger: logger, run: runCommand}
}

// NewBridgeWithRunner creates a bridge with a custom command runner.
func NewBridgeWithRunner(logger logging.Logger, run Runner) *Bridge {
	return &Bridge{logger: logger, run: run}
}

// Provision creates a null sink with the given name, makes it the system
// default so all process audio lands in it, and records the previous default
// for restoration. Failure to read the current default is tolerated;
// failure to create or activate the sink is not.
func (b *Bridge) Provision(ctx context.Context, sinkName string) (*SinkHandle, error) {
	previous, err := b.defaultSink(ctx)
	if err != nil {
		b.logger.Warn("Could not read current default sink", "error", err)
		previous = ""
	}

	out, err := b.run(ctx, "pactl", "load-module", "module-null-sink",
		"sink_name="+sinkName, "sink_properties="+sinkDescription)
	if err != nil {
		return nil, fmt.Errorf("create virtual sink %q: %w", sinkName, err)
	}
	moduleID := strings.TrimSpace(out)
	if moduleID == "" {
		return nil, fmt.Errorf("create virtual sink %q: audio server returned no module id", sinkName)
	}

	if _, err := b.run(ctx, "pactl", "set-default-sink", sinkName); err != nil {
		// The sink exists but cannot be activated; unload it before failing.
		if _, unloadErr := b.run(ctx, "pactl", "unload-module", moduleID); unloadErr != nil {
			b.logger.Warn("Failed to unload sink after activation error", "module_id", moduleID, "error", unloadErr)
		}
		return nil, fmt.Errorf("set default sink %q: %w", sinkName, err)
	}

	b.logger.Info("Virtual sink provisioned",
		"sink", sinkName, "module_id", moduleID, "previous_default", previous)

	return &SinkHandle{
		SinkName:        sinkName,
		ModuleID:        moduleID,
		PreviousDefault: previous,
	}, nil
}

// Release restores the previous default sink (when one was recorded) and
// unloads the virtual sink module. It is idempotent and never returns an
// error: teardown must not fail the shutdown path, so audio-server errors
// are logged and swallowed.
func (b *Bridge) Release(ctx context.Context, h *SinkHandle) {
	if h == nil {
		return
	}
	h.releaseOnce.Do(func() {
		if h.PreviousDefault != "" {
			if _, err := b.run(ctx, "pactl", "set-default-sink", h.PreviousDefault); err != nil {
				b.logger.Warn("Failed to restore default sink", "sink", h.PreviousDefault, "error", err)
			}
		}
		if _, err := b.run(ctx, "pactl", "unload-module", h.ModuleID); err != nil {
			b.logger.Warn("Failed to unload virtual sink module", "module_id", h.ModuleID, "error", err)
		}
		b.logger.Info("Virtual sink released", "sink", h.SinkName)
	})
}

// defaultSink reads the audio server's current default sink name.
func (b *Bridge) defaultSink(ctx context.Context) (string, error) {
	out, err := b.run(ctx, "pactl", "info")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if name, ok := strings.CutPrefix(line, "Default Sink:"); ok {
			return strings.TrimSpace(name), nil
		}
	}
	return "", fmt.Errorf("no default sink reported by audio server")
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}
