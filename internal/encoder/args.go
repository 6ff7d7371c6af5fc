package encoder

import (
	"fmt"
	"math"
	"strconv"
)

// ContentType is the MIME type of the produced stream container.
const ContentType = "video/mp4"

// Latency presets trade robustness for glass-to-glass delay. Lower presets
// disable input buffering and scene analysis and shorten the GOP.
const (
	LatencyNormal = "normal"
	LatencyLow    = "low"
	LatencyUltra  = "ultra"
)

// Params carries everything needed to build the encode argument vector.
type Params struct {
	Display     string  // X display to capture, e.g. ":0"
	Resolution  string  // capture size, e.g. "1920x1080"
	FPS         int     // capture frame rate
	AudioSource string  // pulse source, the virtual sink's monitor
	GOPSeconds  float64 // keyframe interval in seconds
	Port        int     // local HTTP listen port
	LogLevel    string  // ffmpeg loglevel (quiet, error, warning, info, debug)
	Latency     string  // latency preset (normal, low, ultra)
}

// GOPFrames converts the keyframe interval to frames: max(1, round(fps*s)).
func GOPFrames(fps int, seconds float64) int {
	frames := int(math.Round(float64(fps) * seconds))
	if frames < 1 {
		return 1
	}
	return frames
}

// BuildArgs produces the encode engine argument vector for the given
// backend. It is a pure function of its inputs: identical parameters always
// yield an identical, ordered sequence. The output container is fragmented
// MP4 served over HTTP on the configured port.
func BuildArgs(backend Backend, p Params) []string {
	latency, tuning, gopFrames := latencyArgs(p.Latency, backend, GOPFrames(p.FPS, p.GOPSeconds))
	gop := strconv.Itoa(gopFrames)

	args := []string{
		"-hide_banner",
		"-loglevel", "level+" + p.LogLevel,
		"-rtbufsize", "100M",
		"-thread_queue_size", "1024",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(p.FPS),
		"-video_size", p.Resolution,
		"-i", p.Display,
		"-thread_queue_size", "1024",
		"-f", "pulse",
		"-i", p.AudioSource,
	}
	args = append(args, latency...)

	switch backend {
	case BackendVAAPI:
		args = append(args,
			"-vaapi_device", renderNode,
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi", "-qp", "24")
	case BackendCUDA:
		args = append(args,
			"-c:v", "h264_nvenc", "-preset", "p1", "-cq", "23")
	case BackendQSV:
		args = append(args,
			"-c:v", "h264_qsv", "-global_quality", "24")
	default:
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "18", "-pix_fmt", "yuv420p")
	}
	args = append(args, tuning...)

	args = append(args,
		"-g", gop, "-keyint_min", gop,
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-listen", "1",
		fmt.Sprintf("http://0.0.0.0:%d/", p.Port),
	)

	return args
}

// latencyArgs maps a latency preset to extra global flags, per-encoder
// tuning flags, and a possibly shortened GOP. Unknown presets behave like
// normal. Low halves the GOP and ultra thirds it, never below one frame.
func latencyArgs(latency string, backend Backend, gopFrames int) (flags, tuning []string, gop int) {
	gop = gopFrames
	reduced := latency == LatencyLow || latency == LatencyUltra

	switch latency {
	case LatencyLow:
		flags = lowDelayFlags("64k")
		gop = max(1, gopFrames/2)
	case LatencyUltra:
		flags = lowDelayFlags("32k")
		gop = max(1, gopFrames/3)
	default:
		flags = []string{"-probesize", "1M", "-analyzeduration", "1M"}
	}

	switch backend {
	case BackendSoftware:
		if reduced {
			tuning = append(tuning, "-tune", "zerolatency")
		}
	case BackendCUDA:
		switch latency {
		case LatencyLow:
			tuning = append(tuning, "-tune", "ll", "-rc-lookahead", "0")
		case LatencyUltra:
			tuning = append(tuning, "-tune", "ull", "-rc-lookahead", "0")
		}
	case BackendVAAPI:
		// B-frames add at least one frame of reorder delay.
		tuning = append(tuning, "-bf", "0")
	case BackendQSV:
		tuning = append(tuning, "-look_ahead", "0")
	}

	return flags, tuning, gop
}

// lowDelayFlags disables input buffering and scene analysis for the reduced
// latency presets; only the probe size differs between them.
func lowDelayFlags(probeSize string) []string {
	return []string{
		"-fflags", "nobuffer",
		"-flags", "+low_delay",
		"-probesize", probeSize,
		"-analyzeduration", "0",
		"-flush_packets", "1",
		"-sc_threshold", "0",
		"-use_wallclock_as_timestamps", "1",
	}
}
