// Package config loads client configuration from the environment, a YAML
// file, or command line flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when the corresponding field is unset.
const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultDebounceWindow = 300 * time.Millisecond
	DefaultLogLevel       = "info"
)

// Config carries everything needed to construct the client.
type Config struct {
	// SupabaseURL and SupabaseKey identify the backend project. Both are
	// required.
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`

	// RedisURL enables the realtime change stream when set. Empty means no
	// live updates; views refresh on demand only.
	RedisURL string `yaml:"redis_url"`

	// CachePath is the sqlite snapshot file for cache persistence across
	// restarts. Empty disables persistence.
	CachePath string `yaml:"cache_path"`

	// CacheTTL is the default freshness window for cached views.
	CacheTTL time.Duration `yaml:"-"`

	// DebounceWindow is the quiet period for coalescing count refreshes.
	DebounceWindow time.Duration `yaml:"-"`

	LogLevel string `yaml:"log_level"`
}

// UnmarshalYAML decodes the config, accepting humanized durations such as
// "10m" or "1d" for the duration fields.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	var durs struct {
		CacheTTL       string `yaml:"cache_ttl"`
		DebounceWindow string `yaml:"debounce_window"`
	}
	if err := value.Decode(&durs); err != nil {
		return err
	}
	if durs.CacheTTL != "" {
		d, err := str2duration.ParseDuration(durs.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid cache_ttl: %w", err)
		}
		c.CacheTTL = d
	}
	if durs.DebounceWindow != "" {
		d, err := str2duration.ParseDuration(durs.DebounceWindow)
		if err != nil {
			return fmt.Errorf("invalid debounce_window: %w", err)
		}
		c.DebounceWindow = d
	}
	return nil
}

// Validate fills defaults and rejects configs the client cannot start with.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("supabase url is required")
	}
	if c.SupabaseKey == "" {
		return fmt.Errorf("supabase key is required")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return nil
}

// FromEnv builds a Config from LADLE_* environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		SupabaseURL: os.Getenv("LADLE_SUPABASE_URL"),
		SupabaseKey: os.Getenv("LADLE_SUPABASE_KEY"),
		RedisURL:    os.Getenv("LADLE_REDIS_URL"),
		CachePath:   os.Getenv("LADLE_CACHE_PATH"),
		LogLevel:    os.Getenv("LADLE_LOG_LEVEL"),
	}
	var err error
	if cfg.CacheTTL, err = durationEnv("LADLE_CACHE_TTL"); err != nil {
		return nil, err
	}
	if cfg.DebounceWindow, err = durationEnv("LADLE_DEBOUNCE_WINDOW"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML config file, then lets LADLE_* environment variables
// override any field the file left empty.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	applyEnvFallbacks(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	setIfEmpty(&cfg.SupabaseURL, "LADLE_SUPABASE_URL")
	setIfEmpty(&cfg.SupabaseKey, "LADLE_SUPABASE_KEY")
	setIfEmpty(&cfg.RedisURL, "LADLE_REDIS_URL")
	setIfEmpty(&cfg.CachePath, "LADLE_CACHE_PATH")
	setIfEmpty(&cfg.LogLevel, "LADLE_LOG_LEVEL")
	if cfg.CacheTTL == 0 {
		if d, err := durationEnv("LADLE_CACHE_TTL"); err == nil {
			cfg.CacheTTL = d
		}
	}
	if cfg.DebounceWindow == 0 {
		if d, err := durationEnv("LADLE_DEBOUNCE_WINDOW"); err == nil {
			cfg.DebounceWindow = d
		}
	}
}

func setIfEmpty(dst *string, envName string) {
	if *dst == "" {
		*dst = os.Getenv(envName)
	}
}

// durationEnv parses a duration env var, accepting humanized forms such as
// "1h30m" or "2d".
func durationEnv(envName string) (time.Duration, error) {
	val := os.Getenv(envName)
	if val == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", envName, err)
	}
	return d, nil
}

// FlagOrEnv returns the cobra flag value if set, then the environment
// variable, then the default.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// ParseLogLevel maps a level name onto a zap level, defaulting to info.
func ParseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug", "DEBUG":
		return zapcore.DebugLevel
	case "warn", "WARN":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// NewLogger builds a production logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLogLevel(level))
	return cfg.Build()
}
