// Package cmd provides the auxiliary CLI subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskcast/deskcast/internal/castdev"
	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/logging"
)

// CreateDevicesCmd creates the devices command, which lists cast receivers
// discovered on the local network.
func CreateDevicesCmd() *cobra.Command {
	var timeout time.Duration
	var logLevel string
	var configPath string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cast receivers on the local network",
		Long: `Discovers cast receivers via multicast DNS and prints their name, ` +
			`address, and port. Use the name or address with the cast command's ` +
			`--device or --address flags.`,
		Run: func(_ *cobra.Command, _ []string) {
			// Module levels come from the config file; the flag overrides
			// the global level.
			logCfg := config.LoadLoggingConfig(configPath)
			logCfg.Level = logLevel
			logging.Initialize(logCfg)
			logger := logging.GetLogger("discovery")

			ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
			defer cancel()

			discoverer := castdev.NewMDNSDiscoverer(logger, timeout)
			devices, err := discoverer.Discover(ctx)
			if err != nil {
				logger.Error("Discovery failed", "error", err)
				os.Exit(1)
			}

			if len(devices) == 0 {
				fmt.Println("No cast devices found")
				return
			}

			fmt.Printf("%-30s %-16s %s\n", "NAME", "ADDRESS", "PORT")
			for _, d := range devices {
				fmt.Printf("%-30s %-16s %d\n", d.Name, d.Addr, d.Port)
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", castdev.DefaultDiscoveryWindow,
		"How long to collect mDNS responses")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Logging level during discovery")
	cmd.Flags().StringVarP(&configPath, "config", "c", "deskcast.toml", "Path to configuration file")

	return cmd
}
