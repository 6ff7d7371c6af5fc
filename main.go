package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/deskcast/deskcast/cmd"
	"github.com/deskcast/deskcast/internal/api"
	"github.com/deskcast/deskcast/internal/castdev"
	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/events"
	"github.com/deskcast/deskcast/internal/logging"
	"github.com/deskcast/deskcast/internal/session"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"deskcast.toml"`

	// Session settings
	Mode      string `help:"Session mode: direct (stream immediately) or wait (wait for receiver start signal)" default:"direct" toml:"session.mode" env:"MODE"`
	Device    string `help:"Receiver name, case-insensitive substring match" short:"d" default:"" toml:"session.device" env:"DEVICE"`
	Address   string `help:"Receiver IP address, exact match (takes precedence over --device)" default:"" toml:"session.address" env:"ADDRESS"`
	AppID     string `help:"Receiver application ID" default:"22B2DA66" toml:"session.app_id" env:"APP_ID"`
	Namespace string `help:"Cast message namespace for the start signal" default:"urn:x-cast:com.example.stream" toml:"session.namespace" env:"NAMESPACE"`

	// Stream settings
	Port       int    `help:"Port the encode engine serves the stream on" short:"p" default:"8090" toml:"stream.port" env:"PORT"`
	Display    string `help:"X11 display to capture" default:":0" toml:"stream.display" env:"DISPLAY"`
	Resolution string `help:"Capture resolution" default:"1920x1080" toml:"stream.resolution" env:"RESOLUTION"`
	FPS        int    `help:"Capture frame rate" default:"30" toml:"stream.fps" env:"FPS"`
	GopSeconds string `help:"Keyframe interval in seconds" default:"2.0" toml:"stream.gop_seconds" env:"GOP_SECONDS"`
	Hwaccel    string `help:"Encoder backend: auto, vaapi, cuda, qsv, or software" default:"auto" toml:"stream.hwaccel" env:"HWACCEL"`
	FflogLevel string `help:"Encode engine log level" default:"warning" toml:"stream.fflog_level" env:"FFLOG_LEVEL"`
	Latency    string `help:"Latency preset: normal, low, or ultra" default:"normal" toml:"stream.latency" env:"LATENCY"`

	// Audio settings
	SinkName string `help:"Name of the virtual audio sink" default:"cast_sink" toml:"audio.sink_name" env:"SINK_NAME"`

	// Status server settings
	StatusAddr string `help:"Optional status API listen address (e.g. 127.0.0.1:8091), empty disables" default:"" toml:"server.status_addr" env:"STATUS_ADDR"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession   string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingDiscovery string `help:"Discovery logging level" default:"info" toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingHandshake string `help:"Handshake logging level" default:"info" toml:"logging.handshake" env:"LOGGING_HANDSHAKE"`
	LoggingAudio     string `help:"Audio bridge logging level" default:"info" toml:"logging.audio" env:"LOGGING_AUDIO"`
	LoggingEncoder   string `help:"Encoder selection logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingFfmpeg    string `help:"Encode engine output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI       string `help:"Status API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"session":   opts.LoggingSession,
				"discovery": opts.LoggingDiscovery,
				"handshake": opts.LoggingHandshake,
				"audio":     opts.LoggingAudio,
				"encoder":   opts.LoggingEncoder,
				"ffmpeg":    opts.LoggingFfmpeg,
				"api":       opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		gopSeconds, err := strconv.ParseFloat(opts.GopSeconds, 64)
		if err != nil || gopSeconds < 0 {
			logger.Error("Invalid keyframe interval", "gop_seconds", opts.GopSeconds)
			os.Exit(1)
		}

		sessionOpts := session.Options{
			Mode:      opts.Mode,
			AppID:     opts.AppID,
			Namespace: opts.Namespace,
			Device: castdev.Selector{
				Name:    opts.Device,
				Address: opts.Address,
			},
			Display:  opts.Display,
			SinkName: opts.SinkName,
			Port:     opts.Port,
			Stream: config.Stream{
				Resolution: opts.Resolution,
				FPS:        opts.FPS,
				GOPSeconds: gopSeconds,
				HWAccel:    opts.Hwaccel,
				FFLogLevel: opts.FflogLevel,
				Latency:    opts.Latency,
			},
		}
		if err := sessionOpts.Validate(); err != nil {
			logger.Error("Invalid options", "error", err)
			os.Exit(1)
		}

		eventBus := events.New()
		sess := session.New(sessionOpts, eventBus)
		ctx, cancel := context.WithCancel(context.Background())

		// Optional status server fed by session events.
		var statusServer *api.Server
		if opts.StatusAddr != "" {
			tracker := api.NewTracker(eventBus)
			statusServer = api.NewServer(tracker)
		}

		// Hot-reload of encode parameters from the config file.
		watcher := config.NewConfigWatcher(opts.Config, config.LoadStream, logging.GetLogger("main"))
		watcher.OnReload(sess.Reload)

		hooks.OnStart(func() {
			if statusServer != nil {
				go func() {
					if serveErr := statusServer.Start(opts.StatusAddr); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
						logger.Warn("Status server stopped", "error", serveErr)
					}
				}()
			}

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config watcher not started, hot-reload disabled", "error", watchErr)
			}

			if runErr := sess.Run(ctx); runErr != nil {
				logger.Error("Session failed", "error", runErr)
				os.Exit(1)
			}
			logger.Info("Session ended")
			cancel()
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			_ = watcher.Stop()
			if statusServer != nil {
				_ = statusServer.Stop()
			}
		})
	})

	cli.Root().Use = "deskcast"
	cli.Root().Short = "Cast your desktop to a nearby receiver"
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}
