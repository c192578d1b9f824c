// Package config loads adsweep settings from file, environment and flags via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"adsweep/pkg/logging"
)

const (
	MinPeriod = 500 * time.Millisecond
	MaxPeriod = 1000 * time.Millisecond

	PolicyCooldown = "cooldown"
	PolicyPause    = "pause"
)

type DeviceConfig struct {
	Serial          string        `mapstructure:"serial"`
	AdbPath         string        `mapstructure:"adb_path"`
	DumpMinInterval time.Duration `mapstructure:"dump_min_interval"`
}

type EngineConfig struct {
	Period            time.Duration `mapstructure:"period"`
	PostTriggerPolicy string        `mapstructure:"post_trigger_policy"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxNodes          int           `mapstructure:"max_nodes"`
	ContentCache      bool          `mapstructure:"content_cache"`
}

type GestureConfig struct {
	TapDuration    time.Duration `mapstructure:"tap_duration"`
	DoubleTapGap   time.Duration `mapstructure:"double_tap_gap"`
	ScrollDuration time.Duration `mapstructure:"scroll_duration"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	BundledKeywords string `mapstructure:"bundled_keywords"`
}

// StrategyRow maps one app to a detection strategy. Rows are a list
// because app IDs contain the viper key delimiter.
type StrategyRow struct {
	AppID    string `mapstructure:"app_id"`
	Strategy string `mapstructure:"strategy"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root configuration object
type Config struct {
	Device     DeviceConfig      `mapstructure:"device"`
	Engine     EngineConfig      `mapstructure:"engine"`
	Gesture    GestureConfig     `mapstructure:"gesture"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Logger     logging.LogConfig `mapstructure:"logger"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Strategies []StrategyRow     `mapstructure:"strategies"`
}

// DefaultDataDir mirrors the per-user application directory layout.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "adsweep")
	}
	return filepath.Join(os.TempDir(), "adsweep")
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	// -- Device --
	v.SetDefault("device.serial", "")
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.dump_min_interval", "400ms")

	// -- Engine --
	v.SetDefault("engine.period", "750ms")
	v.SetDefault("engine.post_trigger_policy", PolicyCooldown)
	v.SetDefault("engine.max_depth", 64)
	v.SetDefault("engine.max_nodes", 4000)
	v.SetDefault("engine.content_cache", true)

	// -- Gesture --
	v.SetDefault("gesture.tap_duration", "100ms")
	v.SetDefault("gesture.double_tap_gap", "80ms")
	v.SetDefault("gesture.scroll_duration", "300ms")
	v.SetDefault("gesture.replay_interval", "500ms")

	// -- Storage --
	v.SetDefault("storage.data_dir", DefaultDataDir())
	v.SetDefault("storage.bundled_keywords", "")

	// -- Logger --
	def := logging.DefaultLogConfig()
	v.SetDefault("logger.level", def.Level)
	v.SetDefault("logger.console", def.Console)
	v.SetDefault("logger.no_color", def.NoColor)
	v.SetDefault("logger.file", def.File)
	v.SetDefault("logger.file_path", def.FilePath)
	v.SetDefault("logger.max_size", def.MaxSizeMB)
	v.SetDefault("logger.max_age", def.MaxAgeDays)
	v.SetDefault("logger.max_backups", def.MaxBackups)
	v.SetDefault("logger.compress", def.Compress)

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
}

// NewDefaultConfig builds a Config from defaults only
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// defaults are always valid
		panic(err)
	}
	return cfg
}

// NewConfigFromViper unmarshals, normalizes and validates
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Normalize clamps values that have a documented legal range
func (c *Config) Normalize() {
	if c.Engine.Period < MinPeriod {
		c.Engine.Period = MinPeriod
	}
	if c.Engine.Period > MaxPeriod {
		c.Engine.Period = MaxPeriod
	}
	c.Engine.PostTriggerPolicy = strings.ToLower(strings.TrimSpace(c.Engine.PostTriggerPolicy))
	if c.Engine.PostTriggerPolicy == "" {
		c.Engine.PostTriggerPolicy = PolicyCooldown
	}
	if c.Logger.File && c.Logger.FilePath == "" && c.Storage.DataDir != "" {
		c.Logger.FilePath = logging.PersistentLogConfig(c.Storage.DataDir).FilePath
	}
}

// Validate checks for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Engine.PostTriggerPolicy {
	case PolicyCooldown, PolicyPause:
	default:
		return fmt.Errorf("engine.post_trigger_policy must be %q or %q, got %q",
			PolicyCooldown, PolicyPause, c.Engine.PostTriggerPolicy)
	}
	if c.Engine.MaxDepth <= 0 {
		return fmt.Errorf("engine.max_depth must be a positive integer")
	}
	if c.Engine.MaxNodes <= 0 {
		return fmt.Errorf("engine.max_nodes must be a positive integer")
	}
	if c.Gesture.TapDuration <= 0 || c.Gesture.ScrollDuration <= 0 {
		return fmt.Errorf("gesture durations must be positive")
	}
	if c.Gesture.DoubleTapGap < 0 || c.Gesture.ReplayInterval < 0 {
		return fmt.Errorf("gesture gaps must not be negative")
	}
	for i, row := range c.Strategies {
		if row.AppID == "" || row.Strategy == "" {
			return fmt.Errorf("strategies[%d] needs app_id and strategy", i)
		}
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	return nil
}
