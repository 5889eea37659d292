// Package config loads the daemon's YAML configuration file: listen
// address, base sandbox directory, preview domain, reap timing, the
// starting preview port, per-run resource defaults, and log settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so the config file can spell it "300s"
// rather than a raw nanosecond count, the way the teacher's manifest
// wraps loosely-typed YAML scalars in dedicated Go types where the zero
// value alone wouldn't disambiguate "unset" from "zero".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string (e.g. "300s", "1m30s").
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a Go duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Defaults applied when the corresponding RunConfig field is zero,
// matching the wire contract's documented RunRequest defaults.
type Defaults struct {
	TimeMS  int64 `yaml:"time_ms,omitempty"`
	MemKB   int64 `yaml:"mem_kb,omitempty"`
	FsizeKB int64 `yaml:"fsize_kb,omitempty"`
	NoFile  int64 `yaml:"nofile,omitempty"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Dir   string `yaml:"dir,omitempty"`
	Level string `yaml:"level,omitempty"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	Listen        string    `yaml:"listen,omitempty"`
	BaseDir       string    `yaml:"base_dir,omitempty"`
	PreviewDomain string    `yaml:"preview_domain,omitempty"`
	SessionTTL    Duration  `yaml:"session_ttl,omitempty"`
	ReapInterval  Duration  `yaml:"reap_interval,omitempty"`
	PortBase      uint16    `yaml:"port_base,omitempty"`
	Defaults      Defaults  `yaml:"defaults,omitempty"`
	Log           LogConfig `yaml:"log,omitempty"`
}

// Default returns the configuration the daemon runs with when no config
// file is supplied, matching the documented defaults throughout the wire
// contract (300 s / 2 GiB / 1 GiB / 256 fds per run, 300 s session TTL,
// 60 s reap interval, ports starting at 10000).
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		BaseDir:      "/var/lib/sandboxd/sessions",
		SessionTTL:   Duration(300 * time.Second),
		ReapInterval: Duration(60 * time.Second),
		PortBase:     10000,
		Defaults: Defaults{
			TimeMS:  300000,
			MemKB:   2097152,
			FsizeKB: 1048576,
			NoFile:  256,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and parses a YAML config file, filling any unset field from
// Default(). A missing path is not an error: Load returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// Unmarshal onto the defaulted struct so omitted fields keep their
	// Default() value instead of zeroing out.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen must not be empty")
	}
	if c.BaseDir == "" {
		return fmt.Errorf("config: base_dir must not be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: session_ttl must be positive")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("config: reap_interval must be positive")
	}
	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("config: invalid log level %q", c.Log.Level)
		}
	}
	return nil
}
