package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds process-level settings: where to scan, where ffmpeg
// lives, how many workers to run, and how verbose to log. Grounded on
// the teacher's internal/config/config.go shape; a profile editor and
// config-file-format negotiation are out of scope, so this only
// carries what the CLI and scheduler need to start.
type Config struct {
	MediaPath  string `yaml:"media_path" mapstructure:"media_path"`
	ScratchDir string `yaml:"scratch_dir" mapstructure:"scratch_dir"`

	FFmpegPath  string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`

	Workers           int  `yaml:"workers" mapstructure:"workers"`
	MaxConcurrentVMAF int  `yaml:"max_concurrent_vmaf" mapstructure:"max_concurrent_vmaf"`
	Overwrite         bool `yaml:"overwrite" mapstructure:"overwrite"`
	SerializeHWDevice bool `yaml:"serialize_hw_device" mapstructure:"serialize_hw_device"`

	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}

// DefaultConfig returns the built-in defaults, mirroring the teacher's
// DefaultConfig literal.
func DefaultConfig() *Config {
	return &Config{
		ScratchDir:        ".ffdash_tmp",
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		Workers:           1,
		MaxConcurrentVMAF: 1,
		SerializeHWDevice: true,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load layers file, environment, and flag configuration through viper
// (grounded on jmylchreest-tvarr's cobra+viper+pflag wiring) on top of
// DefaultConfig, then returns the merged result.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v.SetDefault("media_path", cfg.MediaPath)
	v.SetDefault("scratch_dir", cfg.ScratchDir)
	v.SetDefault("ffmpeg_path", cfg.FFmpegPath)
	v.SetDefault("ffprobe_path", cfg.FFprobePath)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("max_concurrent_vmaf", cfg.MaxConcurrentVMAF)
	v.SetDefault("overwrite", cfg.Overwrite)
	v.SetDefault("serialize_hw_device", cfg.SerializeHWDevice)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetEnvPrefix("ffdash")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat != "json" {
		cfg.LogFormat = "text"
	}

	return cfg, nil
}

// Save writes the config as YAML, grounded on the teacher's Save
// method but without the SQLite/Pushover-specific fields it no longer
// needs.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ScratchPath returns the scratch directory for a given scanned
// directory: "<input_dir>/.ffdash_tmp/".
func (c *Config) ScratchPath(inputDir string) string {
	return filepath.Join(inputDir, c.ScratchDir)
}
