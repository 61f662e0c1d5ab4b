package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"github.com/melih/ephemeral-postgres/internal/core/readiness"
)

const (
	// DefaultPollInterval is the pause between two readiness probes.
	DefaultPollInterval = readiness.DefaultPollInterval
	// DefaultStopTimeout bounds a single graceful stop request.
	DefaultStopTimeout = 10 * time.Second
	// DefaultHookTimeout bounds the whole exit hook.
	DefaultHookTimeout = 30 * time.Second
)

// Config holds runtime configuration for the server and the package-level default manager.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file"`

	// PollInterval is the pause between readiness probes.
	PollInterval time.Duration `json:"poll_interval"`
	// StopTimeout bounds how long a stop request may take before the runtime kills the container.
	StopTimeout time.Duration `json:"stop_timeout"`
	// HookTimeout bounds the exit hook as a whole.
	HookTimeout time.Duration `json:"hook_timeout"`

	// Defaults used by the HTTP API when a request leaves fields unset.
	DefaultVersion  string        `json:"default_version"`
	DefaultWaitTime time.Duration `json:"default_wait_time"`

	MetricsEnabled bool `json:"metrics_enabled"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":3000",
		LogLevel:        "info",
		PollInterval:    DefaultPollInterval,
		StopTimeout:     DefaultStopTimeout,
		HookTimeout:     DefaultHookTimeout,
		DefaultVersion:  "latest",
		DefaultWaitTime: 30 * time.Second,
		MetricsEnabled:  true,
	}
}

// Load reads an optional dotenv file (".env" when no path is given), then applies
// environment overrides on top of the defaults. Variables already present in the
// environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(DefaultConfig())
}

// FromEnv applies environment overrides on top of base and validates the result. Unlike
// Load it never reads a dotenv file, so it leaves the process environment untouched.
func FromEnv(base *Config) (*Config, error) {
	if err := ApplyEnvOverrides(base); err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate checks the config for values the core cannot work with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive: %s", c.StopTimeout)
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("hook timeout must be positive: %s", c.HookTimeout)
	}
	if c.DefaultWaitTime < 0 {
		return fmt.Errorf("default wait time must not be negative: %s", c.DefaultWaitTime)
	}
	return nil
}
