// Package logging provides structured logging with per-module log level
// configuration.
//
// The logging system uses Go's slog package with automatic output routing:
// records go to the systemd journal when journald is available, to stdout
// when a terminal, pipe, or file is connected, and to both when both are
// available.
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"session": "debug",
//			"ffmpeg":  "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("session")
//	logger.Info("Session starting", "device", name)
//
// When running under systemd, logs can be filtered by structured fields:
//
//	journalctl -t deskcast MODULE=session
package logging
