package diaglog

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use values like
// "60s" or "24h".
type Duration time.Duration

// UnmarshalYAML parses a duration string or an integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.ParseInt(raw, 10, 64)
		if serr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML emits the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the parsed configuration snapshot the core consumes. How the
// values got here (CLI, env, file) is a collaborator concern; LoadConfigFile
// covers the file case.
type Config struct {
	// Level selection.
	DefaultLevel Level            `yaml:"default_level"`
	LevelRules   map[string]Level `yaml:"level_rules"`

	// Per-call-site rate limiting. 0 disables limiting.
	RateWindow Duration `yaml:"rate_window"`

	// Aggregate per-second admission limit. <= 0 means unlimited.
	GlobalLimitPerSecond int64 `yaml:"global_limit_per_second"`
	// SharedCounterPath backs the global throttle with a memory-mapped
	// file shared across forked workers. Empty keeps it in-process.
	SharedCounterPath string `yaml:"shared_counter_path"`

	// Per-probe-class sampling targets in events per second.
	CaptureTargetRate float64 `yaml:"capture_target_rate"`
	LogOnlyTargetRate float64 `yaml:"log_only_target_rate"`

	// Sink settings.
	Dir            string   `yaml:"dir"`
	Prefix         string   `yaml:"prefix"`
	ProcessName    string   `yaml:"process_name"`
	MaxSize        int64    `yaml:"max_size"`
	RotateInterval Duration `yaml:"rotate_interval"`
	RetentionAge   Duration `yaml:"retention_age"`
	SweepInterval  Duration `yaml:"sweep_interval"`

	// Startup diagnostics.
	StartupDump  bool  `yaml:"startup_dump"`
	StartupLevel Level `yaml:"startup_level"`

	// ErrorHandler receives recovered internal failures. Not loadable
	// from a file.
	ErrorHandler ErrorHandler `yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults: WARN
// default level, one record per call site per minute, unlimited global
// throughput, class-default probe targets and a 100 MB size threshold.
func DefaultConfig() *Config {
	return &Config{
		DefaultLevel:         LevelWarn,
		LevelRules:           nil,
		RateWindow:           Duration(time.Minute),
		GlobalLimitPerSecond: 0,
		CaptureTargetRate:    1,
		LogOnlyTargetRate:    5000,
		Dir:                  ".",
		Prefix:               "diag",
		MaxSize:              100 * 1024 * 1024,
		RotateInterval:       Duration(time.Minute),
		RetentionAge:         Duration(7 * 24 * time.Hour),
		SweepInterval:        Duration(time.Hour),
		StartupDump:          true,
		StartupLevel:         LevelInfo,
		ErrorHandler:         StderrErrorHandler,
	}
}

// Validate normalizes the configuration and rejects values the core
// cannot operate with.
func (c *Config) Validate() error {
	if c.DefaultLevel < LevelTrace || c.DefaultLevel > LevelOff {
		return newConfigError("validate", fmt.Errorf("default level %d out of range", c.DefaultLevel))
	}
	if c.RateWindow < 0 {
		return newConfigError("validate", fmt.Errorf("rate window must not be negative"))
	}
	if c.MaxSize < 0 {
		c.MaxSize = 0
	}
	if c.CaptureTargetRate <= 0 {
		c.CaptureTargetRate = 1
	}
	if c.LogOnlyTargetRate <= 0 {
		c.LogOnlyTargetRate = 5000
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.Prefix == "" {
		c.Prefix = "diag"
	}
	if c.SweepInterval > 0 && c.SweepInterval < Duration(time.Minute) {
		c.SweepInterval = Duration(time.Minute)
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = StderrErrorHandler
	}
	return nil
}

// LoadConfigFile reads and validates a YAML configuration file, starting
// from defaults so absent keys keep their default values.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("load", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, newConfigError("parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
