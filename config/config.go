// Package config holds the runtime configuration of the tracker: defaults
// from the struct, overridden by an optional YAML file, overridden by
// command line flags.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"
	yml "gopkg.in/yaml.v2"
)

// ShutterConfig selects the DAQ line driving the solar simulator shutter.
type ShutterConfig struct {
	// Address of the SCPI DAQ carrying the shutter line.
	Address string `koanf:"address" yaml:"address"`

	// Channel is the digital line identifier, e.g. "101".
	Channel string `koanf:"channel" yaml:"channel"`

	// Disabled skips shutter control entirely (manual operation).
	Disabled bool `koanf:"disabled" yaml:"disabled"`
}

// MonitorConfig controls the live-view HTTP server.
type MonitorConfig struct {
	Addr    string `koanf:"addr" yaml:"addr"`
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
}

// Config is the full runtime configuration.
type Config struct {
	// Address of the sourcemeter: host:port for a terminal server, or an
	// OS serial device when Serial is true.
	Address string `koanf:"address" yaml:"address"`
	Serial  bool   `koanf:"serial" yaml:"serial"`
	Baud    int    `koanf:"baud" yaml:"baud"`

	// TrackingTime is the total number of seconds to track for.
	TrackingTime int `koanf:"tracking_time" yaml:"tracking_time"`

	// DeviceArea is the device active area in cm^2.
	DeviceArea float64 `koanf:"device_area" yaml:"device_area"`

	Shutter ShutterConfig `koanf:"shutter" yaml:"shutter"`
	Monitor MonitorConfig `koanf:"monitor" yaml:"monitor"`

	// LogFile is the append-only tracking data log.
	LogFile string `koanf:"log_file" yaml:"log_file"`

	Verbose bool `koanf:"verbose" yaml:"verbose"`
	Debug   bool `koanf:"debug" yaml:"debug"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Baud: 9600,
		Shutter: ShutterConfig{
			Channel: "101",
		},
		Monitor: MonitorConfig{
			Addr:    ":8175",
			Enabled: true,
		},
		LogFile: "mpp_tracker_log.txt",
	}
}

// Load assembles the configuration from defaults, the YAML file at path (if
// non-empty; a missing file at the default path is not an error), and the
// given flag set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
			}
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, err
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Dump writes the configuration as YAML, a starting point for a config file.
func (c Config) Dump(w io.Writer) error {
	return yml.NewEncoder(w).Encode(c)
}

// Validate checks the configuration before the control loop starts.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("config: sourcemeter address is required")
	}
	if c.TrackingTime <= 0 {
		return fmt.Errorf("config: tracking_time must be a positive number of seconds, got %d", c.TrackingTime)
	}
	if c.DeviceArea <= 0 {
		return fmt.Errorf("config: device_area must be a positive area in cm^2, got %g", c.DeviceArea)
	}
	if !c.Shutter.Disabled && c.Shutter.Address != "" && c.Shutter.Channel == "" {
		return fmt.Errorf("config: shutter channel is required when a shutter address is set")
	}
	return nil
}
