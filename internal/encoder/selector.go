package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/deskcast/deskcast/internal/logging"
)

// Backend identifies the acceleration method used by the encode engine.
type Backend string

const (
	BackendVAAPI    Backend = "vaapi"
	BackendCUDA     Backend = "cuda"
	BackendQSV      Backend = "qsv"
	BackendSoftware Backend = "software"
)

// ModeAuto probes the engine and picks the best available backend.
const ModeAuto = "auto"

// renderNode is the DRI render device required for VAAPI encoding.
const renderNode = "/dev/dri/renderD128"

// Profile is the immutable result of backend selection: the chosen backend
// and the full argument vector for the encode engine.
type Profile struct {
	Backend Backend
	Args    []string
}

// Selector probes the encode engine for advertised acceleration backends
// and produces encode profiles. Probe failures degrade to software encoding.
type Selector struct {
	logger     logging.Logger
	probe      func(ctx context.Context) ([]string, error)
	fileExists func(path string) bool
}

// NewSelector creates a selector that probes the ffmpeg binary on PATH.
func NewSelector(logger logging.Logger) *Selector {
	return &Selector{
		logger: logger,
		probe:  probeHWAccels,
		fileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Select resolves the requested mode to an encode profile.
// Mode is one of "auto", an explicit backend name, or "software".
func (s *Selector) Select(ctx context.Context, mode string, p Params) (Profile, error) {
	var backend Backend
	switch mode {
	case ModeAuto:
		backend = s.detect(ctx)
	case string(BackendVAAPI), string(BackendCUDA), string(BackendQSV), string(BackendSoftware):
		backend = Backend(mode)
	default:
		return Profile{}, fmt.Errorf("unknown encoder mode %q", mode)
	}

	return Profile{Backend: backend, Args: BuildArgs(backend, p)}, nil
}

// detect probes the engine and applies the backend priority order:
// vaapi (when the render node exists), then cuda/nvenc, then qsv, then
// software. Probe failures are not fatal and resolve to software.
func (s *Selector) detect(ctx context.Context) Backend {
	methods, err := s.probe(ctx)
	if err != nil {
		s.logger.Debug("Hardware acceleration probe failed, using software encoding", "error", err)
		return BackendSoftware
	}

	advertised := make(map[string]bool, len(methods))
	for _, m := range methods {
		advertised[m] = true
	}

	switch {
	case advertised["vaapi"] && s.fileExists(renderNode):
		return BackendVAAPI
	case advertised["cuda"] || advertised["nvenc"]:
		return BackendCUDA
	case advertised["qsv"]:
		return BackendQSV
	default:
		return BackendSoftware
	}
}

// probeHWAccels runs `ffmpeg -hwaccels` and returns the advertised methods.
func probeHWAccels(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-hwaccels")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probe hwaccels: %w", err)
	}
	return parseHWAccels(string(output)), nil
}

// parseHWAccels extracts method names from `ffmpeg -hwaccels` output.
// The first line is the "Hardware acceleration methods:" header.
func parseHWAccels(output string) []string {
	var methods []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		methods = append(methods, line)
	}
	return methods
}
