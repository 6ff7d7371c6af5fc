package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/encoder"
	"github.com/deskcast/deskcast/internal/logging"
)

// CreateProbeCmd creates the probe-encoders command, which reports the
// backend that automatic selection would pick and the resulting encode
// arguments.
func CreateProbeCmd() *cobra.Command {
	var mode string
	var latency string
	var configPath string

	cmd := &cobra.Command{
		Use:   "probe-encoders",
		Short: "Show the selected encoder backend and its arguments",
		Long: `Probes the encode engine for hardware acceleration support and prints ` +
			`the backend automatic selection resolves to, along with the full ` +
			`argument vector it would run with default stream parameters.`,
		Run: func(_ *cobra.Command, _ []string) {
			logCfg := config.LoadLoggingConfig(configPath)
			logCfg.Level = "warn"
			logging.Initialize(logCfg)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			stream := config.DefaultStream()
			params := encoder.Params{
				Display:     ":0",
				Resolution:  stream.Resolution,
				FPS:         stream.FPS,
				AudioSource: "cast_sink.monitor",
				GOPSeconds:  stream.GOPSeconds,
				Port:        8090,
				LogLevel:    stream.FFLogLevel,
				Latency:     latency,
			}

			selector := encoder.NewSelector(logging.GetLogger("encoder"))
			profile, err := selector.Select(ctx, mode, params)
			if err != nil {
				fmt.Fprintf(os.Stderr, "encoder selection failed: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("backend: %s\n", profile.Backend)
			fmt.Printf("command: ffmpeg %s\n", strings.Join(profile.Args, " "))
		},
	}

	cmd.Flags().StringVar(&mode, "hwaccel", encoder.ModeAuto,
		"Acceleration mode to resolve (auto, vaapi, cuda, qsv, software)")
	cmd.Flags().StringVar(&latency, "latency", encoder.LatencyNormal,
		"Latency preset to build arguments for (normal, low, ultra)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "deskcast.toml", "Path to configuration file")

	return cmd
}
