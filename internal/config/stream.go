package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Stream holds the encode parameters that may be changed at runtime through
// the config file. The watcher reloads this table mid-session and the
// encoder is restarted with the new values.
type Stream struct {
	Resolution string  `toml:"resolution"`
	FPS        int     `toml:"fps"`
	GOPSeconds float64 `toml:"gop_seconds"`
	HWAccel    string  `toml:"hwaccel"`
	FFLogLevel string  `toml:"fflog_level"`
	Latency    string  `toml:"latency"`
}

// DefaultStream returns the built-in encode parameters.
func DefaultStream() Stream {
	return Stream{
		Resolution: "1920x1080",
		FPS:        30,
		GOPSeconds: 2.0,
		HWAccel:    "auto",
		FFLogLevel: "warning",
		Latency:    "normal",
	}
}

// LoadStream reads the [stream] table from a TOML config file, falling back
// to defaults for missing keys. A missing file returns pure defaults.
func LoadStream(path string) (Stream, error) {
	cfg := DefaultStream()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var raw struct {
		Stream Stream `toml:"stream"`
	}
	raw.Stream = cfg
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	return raw.Stream, nil
}
