// Package config loads jobsup's own tunables: the base directory, reaper
// cadence, stop grace period, and logging/metrics settings. It has nothing
// to do with any individual job's command or environment, which callers
// supply directly to the job manager.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of tunables for one jobsup instance.
type Config struct {
	// BaseDir holds jobs.db and the logs/ directory. Required.
	BaseDir string `mapstructure:"base_dir"`

	// ReapInterval is how often the supervisor polls for exited processes.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	// StopGrace is how long Stop waits for a polite SIGTERM before
	// escalating to SIGKILL. Clamped to [2s, 10s].
	StopGrace time.Duration `mapstructure:"stop_grace"`

	LogLevel  string `mapstructure:"log_level"`
	LogColor  bool   `mapstructure:"log_color"`
	// LogFormat is "text" or "json". Anything else falls back to "text".
	LogFormat string `mapstructure:"log_format"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// DBPath overrides where the job record database lives. Empty means
	// filepath.Join(BaseDir, "jobs.db").
	DBPath string `mapstructure:"db_path"`
}

// Default returns a Config with every tunable at its documented default,
// and an empty BaseDir the caller must fill in.
func Default() Config {
	return Config{
		ReapInterval: 500 * time.Millisecond,
		StopGrace:    5 * time.Second,
		LogLevel:     "info",
		LogColor:     true,
		LogFormat:    "text",
	}
}

// Load resolves a Config from, in increasing priority: Default(), an
// optional config file at path (yaml/toml/json, inferred from extension;
// skipped entirely if path is empty), and JOBSUP_-prefixed environment
// variables (e.g. JOBSUP_BASE_DIR, JOBSUP_REAP_INTERVAL). It validates the
// result before returning.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("base_dir", def.BaseDir)
	v.SetDefault("reap_interval", def.ReapInterval)
	v.SetDefault("stop_grace", def.StopGrace)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_color", def.LogColor)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)
	v.SetDefault("db_path", def.DBPath)

	v.SetEnvPrefix("jobsup")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and clamps StopGrace into its documented
// bounds rather than rejecting out-of-range values outright.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("config: base_dir is required")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("config: reap_interval must be positive")
	}
	if c.StopGrace < 2*time.Second {
		c.StopGrace = 2 * time.Second
	} else if c.StopGrace > 10*time.Second {
		c.StopGrace = 10 * time.Second
	}
	return nil
}
