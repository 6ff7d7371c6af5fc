package encoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeSelector(methods []string, probeErr error, existing map[string]bool) *Selector {
	return &Selector{
		logger: testLogger(),
		probe: func(context.Context) ([]string, error) {
			return methods, probeErr
		},
		fileExists: func(path string) bool {
			return existing[path]
		},
	}
}

func TestDetectBackendPriority(t *testing.T) {
	tests := []struct {
		name       string
		methods    []string
		renderNode bool
		want       Backend
	}{
		{"vaapi wins over cuda when render node exists", []string{"vaapi", "cuda", "qsv"}, true, BackendVAAPI},
		{"vaapi skipped without render node", []string{"vaapi", "cuda"}, false, BackendCUDA},
		{"nvenc counts as cuda", []string{"nvenc"}, false, BackendCUDA},
		{"qsv when nothing better", []string{"qsv"}, false, BackendQSV},
		{"software when nothing advertised", nil, true, BackendSoftware},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := map[string]bool{renderNode: tt.renderNode}
			s := fakeSelector(tt.methods, nil, existing)
			if got := s.detect(context.Background()); got != tt.want {
				t.Errorf("detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectProbeFailureDegradesToSoftware(t *testing.T) {
	s := fakeSelector(nil, errors.New("ffmpeg not installed"), nil)
	if got := s.detect(context.Background()); got != BackendSoftware {
		t.Errorf("detect() = %v, want software on probe failure", got)
	}
}

func TestSelectExplicitOverride(t *testing.T) {
	// Explicit mode must not probe at all.
	s := fakeSelector(nil, errors.New("probe must not run"), nil)

	profile, err := s.Select(context.Background(), "cuda", testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Backend != BackendCUDA {
		t.Errorf("Backend = %v, want cuda", profile.Backend)
	}
	if !reflect.DeepEqual(profile.Args, BuildArgs(BackendCUDA, testParams())) {
		t.Error("profile args do not match BuildArgs output")
	}
}

func TestSelectUnknownMode(t *testing.T) {
	s := fakeSelector(nil, nil, nil)
	if _, err := s.Select(context.Background(), "quantum", testParams()); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestParseHWAccels(t *testing.T) {
	output := "Hardware acceleration methods:\nvdpau\ncuda\nvaapi\nqsv\n\n"
	got := parseHWAccels(output)
	want := []string{"vdpau", "cuda", "vaapi", "qsv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseHWAccels() = %v, want %v", got, want)
	}
}
