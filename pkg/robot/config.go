package robot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

const DefaultConfigFile = "armcollect.toml"

// EnvPrefix prefixes environment variables that override [collect] and [log].
const EnvPrefix = "ARMCOLLECT_"

// Defaults for the [collect] section.
const (
	DefaultDataDir         = "collected_data"
	DefaultCatalogName     = ".catalog.db"
	DefaultControlRateHz   = 50
	DefaultMaxEpisodeSteps = 10000
	DefaultLoopIntervalMS  = 10
	DefaultPlaybackSpeed   = 1.0
)

// Config holds the robot configuration
type Config struct {
	Leader   ArmConfig     `toml:"leader"`
	Follower ArmConfig     `toml:"follower"`
	Collect  CollectConfig `toml:"collect"`
	Log      LogConfig     `toml:"log"`
}

// ArmConfig holds configuration for a single arm
type ArmConfig struct {
	Port        string      `toml:"port"`
	Calibration Calibration `toml:"calibration,omitempty"`
}

// CollectConfig holds settings for data collection and replay.
type CollectConfig struct {
	DataDir         string  `toml:"data_dir" env:"DATA_DIR"`
	CatalogPath     string  `toml:"catalog_path" env:"CATALOG_PATH"`
	ControlRateHz   int     `toml:"control_rate_hz" env:"CONTROL_RATE_HZ"`
	MaxEpisodeSteps int     `toml:"max_episode_steps" env:"MAX_EPISODE_STEPS"`
	LoopIntervalMS  int     `toml:"loop_interval_ms" env:"LOOP_INTERVAL_MS"`
	PlaybackSpeed   float64 `toml:"playback_speed" env:"PLAYBACK_SPEED"`
	Cameras         bool    `toml:"cameras" env:"CAMERAS"`
	KeyboardDevice  string  `toml:"keyboard_device" env:"KEYBOARD_DEVICE"`
	GamepadDevice   string  `toml:"gamepad_device" env:"GAMEPAD_DEVICE"`
	Seed            int64   `toml:"seed" env:"SEED"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
	File   string `toml:"file" env:"LOG_FILE"`
}

// IsCalibrated returns true if the arm has calibration data
func (a *ArmConfig) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// IsConfigured returns true if the arm has a port and calibration.
func (a *ArmConfig) IsConfigured() bool {
	return a.Port != "" && a.IsCalibrated()
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from the default config file.
// A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigFrom(DefaultConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Collect.DataDir) == "" {
		c.Collect.DataDir = DefaultDataDir
	}
	if c.Collect.ControlRateHz <= 0 {
		c.Collect.ControlRateHz = DefaultControlRateHz
	}
	if c.Collect.MaxEpisodeSteps <= 0 {
		c.Collect.MaxEpisodeSteps = DefaultMaxEpisodeSteps
	}
	if c.Collect.LoopIntervalMS <= 0 {
		c.Collect.LoopIntervalMS = DefaultLoopIntervalMS
	}
	if c.Collect.PlaybackSpeed <= 0 {
		c.Collect.PlaybackSpeed = DefaultPlaybackSpeed
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) applyEnv() error {
	opts := env.Options{Prefix: EnvPrefix}
	if err := env.ParseWithOptions(&c.Collect, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := env.ParseWithOptions(&c.Log, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	if c.Collect.PlaybackSpeed <= 0 {
		return fmt.Errorf("collect.playback_speed must be positive")
	}
	if c.Collect.ControlRateHz <= 0 || c.Collect.ControlRateHz > 1000 {
		return fmt.Errorf("collect.control_rate_hz must be in 1..1000, got %d", c.Collect.ControlRateHz)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported value %q", c.Log.Format)
	}
	for role, arm := range map[string]ArmConfig{"leader": c.Leader, "follower": c.Follower} {
		if !arm.IsCalibrated() {
			continue
		}
		if err := arm.Calibration.Validate(); err != nil {
			return fmt.Errorf("%s calibration: %w", role, err)
		}
	}
	return nil
}

// LoopInterval is the sleep between iterations for controllers without pacing.
func (c *CollectConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMS) * time.Millisecond
}

// CatalogFile is the recordings catalog database, kept in the data
// directory unless catalog_path is set.
func (c *CollectConfig) CatalogFile() string {
	if strings.TrimSpace(c.CatalogPath) != "" {
		return c.CatalogPath
	}
	return filepath.Join(c.DataDir, DefaultCatalogName)
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
