package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - EPHEMERAL_PG_LISTEN_ADDR (string, e.g. ":3000")
// - EPHEMERAL_PG_LOG_LEVEL (string, e.g. "debug")
// - EPHEMERAL_PG_LOG_FILE (string, path)
// - EPHEMERAL_PG_POLL_INTERVAL (duration, e.g. "250ms")
// - EPHEMERAL_PG_STOP_TIMEOUT (duration, e.g. "10s")
// - EPHEMERAL_PG_HOOK_TIMEOUT (duration, e.g. "30s")
// - EPHEMERAL_PG_DEFAULT_VERSION (string, e.g. "16-alpine")
// - EPHEMERAL_PG_DEFAULT_WAIT (duration, e.g. "30s", "0" disables readiness waits)
// - EPHEMERAL_PG_METRICS_ENABLED (bool, "true"/"false")
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("EPHEMERAL_PG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("EPHEMERAL_PG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EPHEMERAL_PG_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("EPHEMERAL_PG_DEFAULT_VERSION"); v != "" {
		cfg.DefaultVersion = strings.TrimSpace(v)
	}

	if err := setDurationEnv("EPHEMERAL_PG_POLL_INTERVAL", func(d time.Duration) { cfg.PollInterval = d }); err != nil {
		return err
	}
	if err := setDurationEnv("EPHEMERAL_PG_STOP_TIMEOUT", func(d time.Duration) { cfg.StopTimeout = d }); err != nil {
		return err
	}
	if err := setDurationEnv("EPHEMERAL_PG_HOOK_TIMEOUT", func(d time.Duration) { cfg.HookTimeout = d }); err != nil {
		return err
	}
	if err := setDurationEnv("EPHEMERAL_PG_DEFAULT_WAIT", func(d time.Duration) { cfg.DefaultWaitTime = d }); err != nil {
		return err
	}
	if err := setBoolEnv("EPHEMERAL_PG_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return nil
}

// setDurationEnv parses a duration env var. A bare "0" is accepted.
func setDurationEnv(key string, set func(time.Duration)) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if v == "0" {
		set(0)
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	set(d)
	return nil
}

func setBoolEnv(key string, set func(bool)) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	set(b)
	return nil
}
