// Package session orchestrates a desktop cast: it resolves the receiver,
// launches the receiver app, provisions the capture sink, supervises the
// encode process, and guarantees teardown of every acquired resource.
package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/deskcast/deskcast/internal/audio"
	"github.com/deskcast/deskcast/internal/castdev"
	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/encoder"
	"github.com/deskcast/deskcast/internal/events"
	"github.com/deskcast/deskcast/internal/handshake"
	"github.com/deskcast/deskcast/internal/logging"
	"github.com/deskcast/deskcast/internal/process"
)

// State tracks the session through its lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateLaunchingReceiver
	StateAwaitingStart
	StateProvisioningAudio
	StateEncoding
	StateStreaming
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateLaunchingReceiver:
		return "launching_receiver"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateProvisioningAudio:
		return "provisioning_audio"
	case StateEncoding:
		return "encoding"
	case StateStreaming:
		return "streaming"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session modes.
const (
	// ModeDirect starts streaming as soon as the receiver app is up.
	ModeDirect = "direct"
	// ModeWait blocks until the receiver app signals start.
	ModeWait = "wait"
)

const (
	// listenSettleDelay gives the encode engine time to open its HTTP
	// listener before the receiver is pointed at it.
	listenSettleDelay = 2 * time.Second
	// playbackTimeout bounds the post-load wait for the receiver to
	// report playback. Exceeding it is logged, not fatal.
	playbackTimeout = 30 * time.Second
	// playbackPollInterval is the receiver status poll cadence.
	playbackPollInterval = 2 * time.Second
	// aliveInterval is the idle-loop heartbeat log cadence.
	aliveInterval = 30 * time.Second
)

// Options configures a session.
type Options struct {
	Mode      string
	AppID     string
	Namespace string
	Device    castdev.Selector
	Display   string
	SinkName  string
	Port      int
	Stream    config.Stream
}

// Validate rejects option combinations the session cannot run with.
func (o Options) Validate() error {
	if o.Mode != ModeDirect && o.Mode != ModeWait {
		return fmt.Errorf("unknown session mode %q", o.Mode)
	}
	if o.Mode == ModeWait && o.AppID == "" {
		return fmt.Errorf("wait mode requires a receiver app id")
	}
	if o.Mode == ModeWait && o.Namespace == "" {
		return fmt.Errorf("wait mode requires a message namespace")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("invalid stream port %d", o.Port)
	}
	switch o.Stream.Latency {
	case "", encoder.LatencyNormal, encoder.LatencyLow, encoder.LatencyUltra:
	default:
		return fmt.Errorf("unknown latency preset %q", o.Stream.Latency)
	}
	return nil
}

// Proc is the supervised encode process as seen by the session.
// Satisfied by *process.Handle.
type Proc interface {
	Start() error
	Done() <-chan struct{}
	ExitCode() int
	Stop() int
	WaitOutputDone()
	SetLogParser(logger logging.Logger, parser process.LogParser)
}

// Spawner builds a supervised process for the given argument vector.
type Spawner func(name string, args []string, logger logging.Logger) Proc

// AudioBridge provisions and releases the capture sink.
// Satisfied by *audio.Bridge.
type AudioBridge interface {
	Provision(ctx context.Context, sinkName string) (*audio.SinkHandle, error)
	Release(ctx context.Context, h *audio.SinkHandle)
}

// Handshaker drives the receiver app launch and start-signal wait.
// Satisfied by *handshake.Handshaker.
type Handshaker interface {
	Launch(ctx context.Context, appID string) error
	AwaitStart(ctx context.Context, namespace string) error
}

// ProfileSelector resolves an acceleration mode to an encode profile.
// Satisfied by *encoder.Selector.
type ProfileSelector interface {
	Select(ctx context.Context, mode string, p encoder.Params) (encoder.Profile, error)
}

// Session runs one desktop cast from device resolution to teardown.
type Session struct {
	opts   Options
	logger logging.Logger
	bus    *events.Bus

	discoverer    castdev.Discoverer
	newController castdev.ControllerFactory
	newHandshaker func(ctrl castdev.Controller) Handshaker
	bridge        AudioBridge
	selector      ProfileSelector
	spawn         Spawner
	ffmpegLogger  logging.Logger
	localAddr     func(deviceAddr string) (string, error)
	sleep         func(ctx context.Context, d time.Duration)

	reloadCh chan config.Stream

	mu    sync.Mutex
	state State
	proc  Proc
	sink  *audio.SinkHandle
	ctrl  castdev.Controller

	cleanupOnce sync.Once
}

// New creates a session with production dependencies.
func New(opts Options, bus *events.Bus) *Session {
	logger := logging.GetLogger("session")
	return &Session{
		opts:       opts,
		logger:     logger,
		bus:        bus,
		discoverer: castdev.NewMDNSDiscoverer(logging.GetLogger("discovery"), 0),
		newController: func() castdev.Controller {
			return castdev.NewController()
		},
		newHandshaker: func(ctrl castdev.Controller) Handshaker {
			return handshake.New(logging.GetLogger("handshake"), ctrl)
		},
		bridge:   audio.NewBridge(logging.GetLogger("audio")),
		selector: encoder.NewSelector(logging.GetLogger("encoder")),
		spawn: func(name string, args []string, logger logging.Logger) Proc {
			return process.New(name, args, logger)
		},
		ffmpegLogger: logging.GetLogger("ffmpeg"),
		localAddr:    localAddrToward,
		sleep:        sleepCtx,
		reloadCh:     make(chan config.Stream, 1),
		state:        StateIdle,
	}
}

// Reload queues new encode parameters; the running encoder is restarted
// with them. Non-blocking: a pending reload is replaced.
func (s *Session) Reload(cfg config.Stream) {
	select {
	case s.reloadCh <- cfg:
	default:
		select {
		case <-s.reloadCh:
		default:
		}
		s.reloadCh <- cfg
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes the session until the context is cancelled, the encode
// process dies, or a setup step fails. All acquired resources are released
// before Run returns, whatever the exit path.
func (s *Session) Run(ctx context.Context) error {
	if err := s.opts.Validate(); err != nil {
		return err
	}
	defer s.Cleanup()

	s.setState(StateResolving)
	device, err := castdev.Resolve(ctx, s.discoverer, s.opts.Device)
	if err != nil {
		return err
	}
	s.logger.Info("Receiver resolved", "device", device.String())

	ctrl := s.newController()
	if err := ctrl.Start(device.Addr, device.Port); err != nil {
		return fmt.Errorf("connect to receiver: %w", err)
	}
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()

	// The receiver app is launched only when one is configured; without it
	// the device's default media receiver handles the stream.
	if s.opts.AppID != "" {
		hs := s.newHandshaker(ctrl)
		s.setState(StateLaunchingReceiver)
		if err := hs.Launch(ctx, s.opts.AppID); err != nil {
			return err
		}

		if s.opts.Mode == ModeWait {
			s.setState(StateAwaitingStart)
			if err := hs.AwaitStart(ctx, s.opts.Namespace); err != nil {
				return err
			}
			receiverSignalsTotal.Inc()
			events.Publish(s.bus, events.ReceiverSignalEvent{
				Namespace: s.opts.Namespace,
				Kind:      "start",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}

	s.setState(StateProvisioningAudio)
	sink, err := s.bridge.Provision(ctx, s.opts.SinkName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()

	profile, err := s.selectProfile(ctx, s.opts.Stream, sink)
	if err != nil {
		return err
	}

	s.setState(StateEncoding)
	if _, err := s.startEncoder(profile); err != nil {
		return err
	}

	localIP, err := s.localAddr(device.Addr)
	if err != nil {
		return fmt.Errorf("determine local address: %w", err)
	}
	checkSameSubnet(s.logger, localIP, device.Addr)
	streamURL := fmt.Sprintf("http://%s:%d/", localIP, s.opts.Port)

	// Let the engine open its listener before the receiver connects.
	s.sleep(ctx, listenSettleDelay)
	if ctx.Err() != nil {
		return nil
	}

	s.logger.Info("Directing receiver to stream", "url", streamURL)
	if err := ctrl.LoadMedia(streamURL, encoder.ContentType); err != nil {
		return fmt.Errorf("load media on receiver: %w", err)
	}

	s.awaitPlayback(ctx, ctrl, device, streamURL)
	s.setState(StateStreaming)

	return s.loop(ctx, ctrl, streamURL)
}

// loop holds the session open, handling encoder exit, config reloads, and
// cancellation.
func (s *Session) loop(ctx context.Context, ctrl castdev.Controller, streamURL string) error {
	alive := time.NewTicker(aliveInterval)
	defer alive.Stop()

	for {
		s.mu.Lock()
		proc := s.proc
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.logger.Info("Session cancelled, shutting down")
			return nil

		case <-proc.Done():
			code := proc.ExitCode()
			if code == 0 {
				s.logger.Info("Encode process finished")
				return nil
			}
			return fmt.Errorf("encode process exited with code %d", code)

		case cfg := <-s.reloadCh:
			if err := s.restartEncoder(ctx, ctrl, cfg, streamURL); err != nil {
				return err
			}

		case <-alive.C:
			s.logger.Debug("Session alive", "state", s.State().String())
		}
	}
}

// selectProfile resolves encode parameters against the current stream config.
func (s *Session) selectProfile(ctx context.Context, cfg config.Stream, sink *audio.SinkHandle) (encoder.Profile, error) {
	params := encoder.Params{
		Display:     s.opts.Display,
		Resolution:  cfg.Resolution,
		FPS:         cfg.FPS,
		AudioSource: sink.Monitor(),
		GOPSeconds:  cfg.GOPSeconds,
		Port:        s.opts.Port,
		LogLevel:    cfg.FFLogLevel,
		Latency:     cfg.Latency,
	}

	profile, err := s.selector.Select(ctx, cfg.HWAccel, params)
	if err != nil {
		return encoder.Profile{}, err
	}

	s.logger.Info("Encoder backend selected", "backend", string(profile.Backend))
	events.Publish(s.bus, events.EncoderSelectedEvent{
		Backend:   string(profile.Backend),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return profile, nil
}

// startEncoder spawns and starts the encode process and records it as the
// session's current process.
func (s *Session) startEncoder(profile encoder.Profile) (Proc, error) {
	proc := s.spawn("ffmpeg", profile.Args, s.logger)
	proc.SetLogParser(s.ffmpegLogger, encoder.ParseLogLevel)
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start encode process: %w", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	return proc, nil
}

// restartEncoder replaces the running encode process with one built from new
// parameters, then reloads the media on the receiver so it reconnects.
func (s *Session) restartEncoder(ctx context.Context, ctrl castdev.Controller, cfg config.Stream, streamURL string) error {
	s.logger.Info("Restarting encoder with new parameters",
		"resolution", cfg.Resolution, "fps", cfg.FPS, "hwaccel", cfg.HWAccel)

	s.mu.Lock()
	sink := s.sink
	old := s.proc
	s.mu.Unlock()

	profile, err := s.selectProfile(ctx, cfg, sink)
	if err != nil {
		s.logger.Warn("Keeping current encoder, new parameters rejected", "error", err)
		return nil
	}

	old.Stop()
	old.WaitOutputDone()
	if _, err := s.startEncoder(profile); err != nil {
		return err
	}

	s.sleep(ctx, listenSettleDelay)
	if ctx.Err() != nil {
		return nil
	}
	if err := ctrl.LoadMedia(streamURL, encoder.ContentType); err != nil {
		return fmt.Errorf("reload media after encoder restart: %w", err)
	}

	encoderRestartsTotal.Inc()
	events.Publish(s.bus, events.EncoderRestartedEvent{
		Reason:    "config reload",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// awaitPlayback polls receiver status until it reports active playback.
// The wait is bounded and advisory: a silent receiver is logged, not fatal,
// since some receivers buffer for a long time before reporting.
func (s *Session) awaitPlayback(ctx context.Context, ctrl castdev.Controller, device castdev.Device, streamURL string) {
	start := time.Now()
	deadline := start.Add(playbackTimeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}

		state, err := ctrl.PlayerState()
		if err != nil {
			s.logger.Debug("Receiver status poll failed", "error", err)
		} else if state == "PLAYING" || state == "BUFFERING" {
			playbackWaitSeconds.Observe(time.Since(start).Seconds())
			s.logger.Info("Receiver playing", "player_state", state, "waited", time.Since(start).Round(time.Millisecond))
			events.Publish(s.bus, events.PlaybackStartedEvent{
				Device:    device.String(),
				StreamURL: streamURL,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		s.sleep(ctx, playbackPollInterval)
	}

	s.logger.Warn("Receiver did not report playback, continuing anyway",
		"timeout", playbackTimeout)
}

// Cleanup releases every acquired resource exactly once, in reverse
// acquisition order: receiver media, encode process, capture sink,
// receiver connection. Individual failures are logged and do not stop the
// remaining steps.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		s.setState(StateTerminating)

		s.mu.Lock()
		ctrl := s.ctrl
		proc := s.proc
		sink := s.sink
		s.mu.Unlock()

		if ctrl != nil {
			if err := ctrl.StopMedia(); err != nil {
				s.logger.Debug("Could not stop receiver media", "error", err)
			}
		}

		if proc != nil {
			code := proc.Stop()
			// Drain remaining engine output so the final log lines land
			// before the shutdown summary.
			proc.WaitOutputDone()
			s.logger.Info("Encode process stopped", "exit_code", code)
		}

		if sink != nil {
			// Release must succeed even when the session context is gone.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.bridge.Release(releaseCtx, sink)
			cancel()
		}

		if ctrl != nil {
			if err := ctrl.Close(); err != nil {
				s.logger.Debug("Could not close receiver connection", "error", err)
			}
		}

		s.setState(StateStopped)
		s.logger.Info("Session cleaned up")
	})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	recordState(state)
	s.logger.Debug("Session state changed", "state", state.String())
	events.Publish(s.bus, events.SessionStateChangedEvent{
		State:     state.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// localAddrToward finds the local IP the OS would use to reach the device.
// The UDP dial sends no packets; it only selects a route.
func localAddrToward(deviceAddr string) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(deviceAddr, "9"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// checkSameSubnet warns when the host and device are unlikely to share a
// /24, a common cause of the receiver failing to reach the stream.
func checkSameSubnet(logger logging.Logger, localIP, deviceAddr string) {
	localParts := strings.Split(localIP, ".")
	deviceParts := strings.Split(deviceAddr, ".")
	if len(localParts) != 4 || len(deviceParts) != 4 {
		return
	}
	if localParts[0] != deviceParts[0] || localParts[1] != deviceParts[1] || localParts[2] != deviceParts[2] {
		logger.Warn("Host and receiver appear to be on different subnets, the receiver may not reach the stream",
			"local", localIP, "device", deviceAddr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
