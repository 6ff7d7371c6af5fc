package encoder

import (
	"reflect"
	"strings"
	"testing"
)

func testParams() Params {
	return Params{
		Display:     ":0",
		Resolution:  "1920x1080",
		FPS:         30,
		AudioSource: "cast_sink.monitor",
		GOPSeconds:  2.0,
		Port:        8090,
		LogLevel:    "warning",
		Latency:     LatencyNormal,
	}
}

func TestBuildArgsIsPure(t *testing.T) {
	a := BuildArgs(BackendVAAPI, testParams())
	b := BuildArgs(BackendVAAPI, testParams())
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical inputs produced different argument vectors:\n%v\n%v", a, b)
	}
}

func TestGOPFrames(t *testing.T) {
	tests := []struct {
		fps     int
		seconds float64
		want    int
	}{
		{30, 2.0, 60},
		{30, 0.0, 1},
		{60, 0.5, 30},
		{25, 1.0, 25},
		{10, 0.04, 1},
		{30, 0.25, 8}, // round(7.5)
	}
	for _, tt := range tests {
		if got := GOPFrames(tt.fps, tt.seconds); got != tt.want {
			t.Errorf("GOPFrames(%d, %v) = %d, want %d", tt.fps, tt.seconds, got, tt.want)
		}
	}
}

func TestBuildArgsGOPAppliedToBothKeyintFlags(t *testing.T) {
	p := testParams()
	p.FPS = 25
	p.GOPSeconds = 2.0

	args := BuildArgs(BackendSoftware, p)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-g 50 -keyint_min 50") {
		t.Errorf("expected GOP 50 in both flags, got: %s", joined)
	}
}

func TestBuildArgsBackendEncoders(t *testing.T) {
	tests := []struct {
		backend Backend
		encoder string
	}{
		{BackendVAAPI, "h264_vaapi"},
		{BackendCUDA, "h264_nvenc"},
		{BackendQSV, "h264_qsv"},
		{BackendSoftware, "libx264"},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			args := BuildArgs(tt.backend, testParams())
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, "-c:v "+tt.encoder) {
				t.Errorf("expected encoder %s, got: %s", tt.encoder, joined)
			}
		})
	}
}

func TestBuildArgsVAAPIRequiresRenderDevice(t *testing.T) {
	args := BuildArgs(BackendVAAPI, testParams())
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-vaapi_device /dev/dri/renderD128") {
		t.Errorf("expected vaapi_device flag, got: %s", joined)
	}
	if !strings.Contains(joined, "format=nv12,hwupload") {
		t.Errorf("expected hwupload filter, got: %s", joined)
	}
}

func TestBuildArgsStreamableOutput(t *testing.T) {
	args := BuildArgs(BackendSoftware, testParams())
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-movflags frag_keyframe+empty_moov+default_base_moof",
		"-f mp4",
		"-listen 1",
		"http://0.0.0.0:8090/",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in args, got: %s", want, joined)
		}
	}

	if args[len(args)-1] != "http://0.0.0.0:8090/" {
		t.Errorf("expected listen URL as final argument, got %q", args[len(args)-1])
	}
}

func TestBuildArgsLatencyPresets(t *testing.T) {
	tests := []struct {
		name    string
		latency string
		backend Backend
		want    []string
		absent  []string
	}{
		{
			name:    "normal keeps buffering and full GOP",
			latency: LatencyNormal,
			backend: BackendSoftware,
			want:    []string{"-probesize 1M", "-analyzeduration 1M", "-g 60 -keyint_min 60"},
			absent:  []string{"nobuffer", "-tune zerolatency"},
		},
		{
			name:    "low halves GOP and disables buffering",
			latency: LatencyLow,
			backend: BackendSoftware,
			want: []string{
				"-fflags nobuffer", "-flags +low_delay", "-probesize 64k",
				"-flush_packets 1", "-tune zerolatency", "-g 30 -keyint_min 30",
			},
		},
		{
			name:    "ultra thirds GOP with smaller probe",
			latency: LatencyUltra,
			backend: BackendSoftware,
			want:    []string{"-probesize 32k", "-tune zerolatency", "-g 20 -keyint_min 20"},
		},
		{
			name:    "low on nvenc disables lookahead",
			latency: LatencyLow,
			backend: BackendCUDA,
			want:    []string{"-tune ll", "-rc-lookahead 0"},
		},
		{
			name:    "ultra on nvenc uses ull tune",
			latency: LatencyUltra,
			backend: BackendCUDA,
			want:    []string{"-tune ull", "-rc-lookahead 0"},
		},
		{
			name:    "vaapi always drops b-frames",
			latency: LatencyNormal,
			backend: BackendVAAPI,
			want:    []string{"-bf 0"},
		},
		{
			name:    "qsv always drops lookahead",
			latency: LatencyNormal,
			backend: BackendQSV,
			want:    []string{"-look_ahead 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			p.Latency = tt.latency
			joined := strings.Join(BuildArgs(tt.backend, p), " ")
			for _, want := range tt.want {
				if !strings.Contains(joined, want) {
					t.Errorf("expected %q in args, got: %s", want, joined)
				}
			}
			for _, absent := range tt.absent {
				if strings.Contains(joined, absent) {
					t.Errorf("did not expect %q in args, got: %s", absent, joined)
				}
			}
		})
	}
}

func TestBuildArgsLatencyGOPNeverBelowOneFrame(t *testing.T) {
	p := testParams()
	p.FPS = 1
	p.GOPSeconds = 0.5
	p.Latency = LatencyUltra

	joined := strings.Join(BuildArgs(BackendSoftware, p), " ")
	if !strings.Contains(joined, "-g 1 -keyint_min 1") {
		t.Errorf("expected GOP floor of 1, got: %s", joined)
	}
}

func TestBuildArgsInputOrder(t *testing.T) {
	args := BuildArgs(BackendSoftware, testParams())
	joined := strings.Join(args, " ")

	video := strings.Index(joined, "-f x11grab")
	audio := strings.Index(joined, "-f pulse")
	if video == -1 || audio == -1 || video > audio {
		t.Errorf("expected x11grab input before pulse input, got: %s", joined)
	}
	if !strings.Contains(joined, "-f pulse -i cast_sink.monitor") {
		t.Errorf("expected audio pulled from sink monitor, got: %s", joined)
	}
}
