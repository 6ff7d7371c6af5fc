package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deskcast/deskcast/internal/audio"
	"github.com/deskcast/deskcast/internal/castdev"
	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/encoder"
	"github.com/deskcast/deskcast/internal/events"
	"github.com/deskcast/deskcast/internal/logging"
	"github.com/deskcast/deskcast/internal/process"
)

// recorder tracks the order of resource operations across fakes.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

func (r *recorder) indexOf(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.ops {
		if o == op {
			return i
		}
	}
	return -1
}

type fakeDiscoverer struct {
	devices []castdev.Device
	err     error
}

func (f *fakeDiscoverer) Discover(context.Context) ([]castdev.Device, error) {
	return f.devices, f.err
}

type fakeController struct {
	rec *recorder

	startErr     error
	loadMediaErr error
	playerState  string

	mu         sync.Mutex
	loadedURLs []string
}

func (f *fakeController) Start(addr string, port int) error {
	f.rec.add("controller.start")
	return f.startErr
}
func (f *fakeController) LoadApp(appID, contentID string) error { return nil }
func (f *fakeController) LoadMedia(url, contentType string) error {
	f.rec.add("controller.load_media")
	f.mu.Lock()
	f.loadedURLs = append(f.loadedURLs, url)
	f.mu.Unlock()
	return f.loadMediaErr
}
func (f *fakeController) PlayerState() (string, error) { return f.playerState, nil }

func (f *fakeController) AppStatus() (castdev.AppStatus, error) { return castdev.AppStatus{}, nil }

func (f *fakeController) OnMessage(castdev.MessageFunc) {}
func (f *fakeController) StopMedia() error {
	f.rec.add("controller.stop_media")
	return nil
}
func (f *fakeController) QuitApp() error { return nil }
func (f *fakeController) Close() error {
	f.rec.add("controller.close")
	return nil
}

func (f *fakeController) loaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loadedURLs...)
}

type fakeBridge struct {
	rec          *recorder
	provisionErr error
}

func (f *fakeBridge) Provision(_ context.Context, sinkName string) (*audio.SinkHandle, error) {
	f.rec.add("audio.provision")
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &audio.SinkHandle{SinkName: sinkName, ModuleID: "42"}, nil
}

func (f *fakeBridge) Release(context.Context, *audio.SinkHandle) {
	f.rec.add("audio.release")
}

type fakeHandshaker struct {
	rec       *recorder
	launchErr error
	startCh   chan struct{} // AwaitStart blocks until closed (nil = immediate)
}

func (f *fakeHandshaker) Launch(context.Context, string) error {
	f.rec.add("handshake.launch")
	return f.launchErr
}

func (f *fakeHandshaker) AwaitStart(ctx context.Context, _ string) error {
	f.rec.add("handshake.await_start")
	if f.startCh == nil {
		return nil
	}
	select {
	case <-f.startCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeSelector struct {
	err error
}

func (f *fakeSelector) Select(_ context.Context, mode string, p encoder.Params) (encoder.Profile, error) {
	if f.err != nil {
		return encoder.Profile{}, f.err
	}
	return encoder.Profile{Backend: encoder.BackendSoftware, Args: encoder.BuildArgs(encoder.BackendSoftware, p)}, nil
}

type fakeProc struct {
	rec      *recorder
	startErr error
	done     chan struct{}
	exitCode int
	stopOnce sync.Once
}

func newFakeProc(rec *recorder) *fakeProc {
	return &fakeProc{rec: rec, done: make(chan struct{})}
}

func (f *fakeProc) Start() error {
	f.rec.add("proc.start")
	return f.startErr
}
func (f *fakeProc) Done() <-chan struct{} { return f.done }
func (f *fakeProc) ExitCode() int         { return f.exitCode }
func (f *fakeProc) Stop() int {
	f.rec.add("proc.stop")
	f.stopOnce.Do(func() { close(f.done) })
	return f.exitCode
}
func (f *fakeProc) WaitOutputDone() { f.rec.add("proc.drain") }

func (f *fakeProc) SetLogParser(logging.Logger, process.LogParser) {}

// exit simulates the subprocess dying on its own.
func (f *fakeProc) exit(code int) {
	f.exitCode = code
	f.stopOnce.Do(func() { close(f.done) })
}

type harness struct {
	rec     *recorder
	ctrl    *fakeController
	bridge  *fakeBridge
	hs      *fakeHandshaker
	session *Session

	mu    sync.Mutex
	procs []*fakeProc
}

func (h *harness) proc(i int) *fakeProc {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.procs) {
		return nil
	}
	return h.procs[i]
}

func (h *harness) waitProcs(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		h.mu.Lock()
		count := len(h.procs)
		h.mu.Unlock()
		if count >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected %d spawned processes, have %d", n, count)
		case <-time.After(time.Millisecond):
		}
	}
}

func testOptions(mode string) Options {
	return Options{
		Mode:      mode,
		AppID:     "22B2DA66",
		Namespace: "urn:x-cast:com.example.stream",
		Display:   ":0",
		SinkName:  "cast_sink",
		Port:      8090,
		Stream:    config.DefaultStream(),
	}
}

func newHarness(opts Options) *harness {
	rec := &recorder{}
	h := &harness{
		rec:    rec,
		ctrl:   &fakeController{rec: rec, playerState: "PLAYING"},
		bridge: &fakeBridge{rec: rec},
		hs:     &fakeHandshaker{rec: rec},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(opts, events.New())
	s.logger = logger
	s.ffmpegLogger = logger
	s.discoverer = &fakeDiscoverer{devices: []castdev.Device{
		{Addr: "192.168.1.50", Port: 8009, Name: "Living Room TV", UUID: "aaa"},
	}}
	s.newController = func() castdev.Controller { return h.ctrl }
	s.newHandshaker = func(castdev.Controller) Handshaker { return h.hs }
	s.bridge = h.bridge
	s.selector = &fakeSelector{}
	s.spawn = func(name string, args []string, _ logging.Logger) Proc {
		p := newFakeProc(rec)
		h.mu.Lock()
		h.procs = append(h.procs, p)
		h.mu.Unlock()
		return p
	}
	s.localAddr = func(string) (string, error) { return "192.168.1.10", nil }
	s.sleep = func(context.Context, time.Duration) {}

	h.session = s
	return h
}

func runSession(h *harness, ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()
	return done
}

func waitErr(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func TestDirectModeStreamsWithoutStartSignal(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(h, ctx)

	h.waitProcs(t, 1)

	// Wait until media is loaded, then cancel.
	deadline := time.After(5 * time.Second)
	for len(h.ctrl.loaded()) == 0 {
		select {
		case <-deadline:
			t.Fatal("media never loaded")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ops := h.rec.all()
	if h.rec.indexOf("handshake.await_start") != -1 {
		t.Errorf("direct mode must not wait for start signal: %v", ops)
	}
	if got := h.ctrl.loaded(); len(got) != 1 || got[0] != "http://192.168.1.10:8090/" {
		t.Errorf("loaded URLs = %v", got)
	}
	if h.session.State() != StateStopped {
		t.Errorf("final state = %v, want stopped", h.session.State())
	}
}

func TestDirectModeWithoutAppSkipsHandshake(t *testing.T) {
	opts := testOptions(ModeDirect)
	opts.AppID = ""
	h := newHarness(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(h, ctx)

	h.waitProcs(t, 1)
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.rec.indexOf("handshake.launch") != -1 {
		t.Errorf("handshake used without a configured app: %v", h.rec.all())
	}
}

func TestWaitModeBlocksUntilStartSignal(t *testing.T) {
	h := newHarness(testOptions(ModeWait))
	h.hs.startCh = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(h, ctx)

	// No audio or encoder activity before the signal.
	time.Sleep(50 * time.Millisecond)
	if h.rec.indexOf("audio.provision") != -1 || h.rec.indexOf("proc.start") != -1 {
		t.Fatalf("resources acquired before start signal: %v", h.rec.all())
	}
	if h.session.State() != StateAwaitingStart {
		t.Errorf("state = %v, want awaiting_start", h.session.State())
	}

	close(h.hs.startCh)
	h.waitProcs(t, 1)
	cancel()

	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.rec.indexOf("handshake.await_start") > h.rec.indexOf("audio.provision") {
		t.Errorf("await_start must precede audio provisioning: %v", h.rec.all())
	}
}

func TestCleanupOrderOnCancel(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(h, ctx)

	h.waitProcs(t, 1)
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stopMedia := h.rec.indexOf("controller.stop_media")
	procStop := h.rec.indexOf("proc.stop")
	drain := h.rec.indexOf("proc.drain")
	release := h.rec.indexOf("audio.release")
	closeIdx := h.rec.indexOf("controller.close")

	for name, idx := range map[string]int{
		"controller.stop_media": stopMedia,
		"proc.stop":             procStop,
		"proc.drain":            drain,
		"audio.release":         release,
		"controller.close":      closeIdx,
	} {
		if idx == -1 {
			t.Fatalf("%s never happened: %v", name, h.rec.all())
		}
	}
	if !(stopMedia < procStop && procStop < drain && drain < release && release < closeIdx) {
		t.Errorf("cleanup out of order: %v", h.rec.all())
	}
	if h.session.State() != StateStopped {
		t.Errorf("final state = %v, want stopped", h.session.State())
	}

	// A second Cleanup must be a no-op.
	h.session.Cleanup()
	if h.rec.count("proc.stop") != 1 || h.rec.count("audio.release") != 1 {
		t.Errorf("cleanup ran twice: %v", h.rec.all())
	}
}

func TestEncoderDeathFailsSession(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	done := runSession(h, context.Background())

	h.waitProcs(t, 1)
	h.proc(0).exit(1)

	err := waitErr(t, done)
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("expected encoder death error, got %v", err)
	}

	// Cleanup still releases everything.
	if h.rec.indexOf("audio.release") == -1 || h.rec.indexOf("controller.close") == -1 {
		t.Errorf("cleanup incomplete after encoder death: %v", h.rec.all())
	}
}

func TestAudioReleasedWhenEncoderFailsToStart(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	h.session.spawn = func(string, []string, logging.Logger) Proc {
		p := newFakeProc(h.rec)
		p.startErr = errors.New("ffmpeg not found")
		return p
	}

	err := waitErr(t, runSession(h, context.Background()))
	if err == nil {
		t.Fatal("expected error when encoder cannot start")
	}
	if h.rec.indexOf("audio.release") == -1 {
		t.Errorf("sink not released after encoder start failure: %v", h.rec.all())
	}
}

func TestNoAudioProvisionWhenDeviceResolutionFails(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	h.session.discoverer = &fakeDiscoverer{}

	err := waitErr(t, runSession(h, context.Background()))
	if !errors.Is(err, castdev.ErrNoDevicesFound) {
		t.Fatalf("expected ErrNoDevicesFound, got %v", err)
	}
	if h.rec.indexOf("audio.provision") != -1 {
		t.Error("audio provisioned despite resolution failure")
	}
}

func TestReloadRestartsEncoderAndReloadsMedia(t *testing.T) {
	h := newHarness(testOptions(ModeDirect))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(h, ctx)

	h.waitProcs(t, 1)

	// Wait for the session to reach streaming before reloading.
	deadline := time.After(5 * time.Second)
	for h.session.State() != StateStreaming {
		select {
		case <-deadline:
			t.Fatalf("never reached streaming, state=%v", h.session.State())
		case <-time.After(time.Millisecond):
		}
	}

	cfg := config.DefaultStream()
	cfg.FPS = 60
	h.session.Reload(cfg)

	h.waitProcs(t, 2)
	deadline = time.After(5 * time.Second)
	for len(h.ctrl.loaded()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("media not reloaded after restart: %v", h.ctrl.loaded())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Old process stopped before new one started.
	ops := h.rec.all()
	var procStarts, procStops []int
	for i, op := range ops {
		switch op {
		case "proc.start":
			procStarts = append(procStarts, i)
		case "proc.stop":
			procStops = append(procStops, i)
		}
	}
	if len(procStarts) < 2 || len(procStops) < 1 {
		t.Fatalf("expected restart sequence, got %v", ops)
	}
	if !(procStarts[0] < procStops[0] && procStops[0] < procStarts[1]) {
		t.Errorf("restart ordering wrong: %v", ops)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"valid direct", func(o *Options) {}, false},
		{"valid wait", func(o *Options) { o.Mode = ModeWait }, false},
		{"unknown mode", func(o *Options) { o.Mode = "later" }, true},
		{"direct without app id is fine", func(o *Options) { o.AppID = "" }, false},
		{"wait without app id", func(o *Options) { o.Mode = ModeWait; o.AppID = "" }, true},
		{"wait without namespace", func(o *Options) { o.Mode = ModeWait; o.Namespace = "" }, true},
		{"bad port", func(o *Options) { o.Port = 0 }, true},
		{"low latency preset", func(o *Options) { o.Stream.Latency = "low" }, false},
		{"unknown latency preset", func(o *Options) { o.Stream.Latency = "instant" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(ModeDirect)
			tt.mutate(&opts)
			if err := opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingStart.String() != "awaiting_start" || StateStopped.String() != "stopped" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("out-of-range state should be unknown")
	}
}
