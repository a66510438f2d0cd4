// Package config defines the typed EncodeConfig profile snapshot and
// the process-level configuration (paths, worker count, log level)
// layered from flags, environment, and an optional file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creasty/defaults"
	validator "gopkg.in/dealancer/validate.v2"
	"gopkg.in/yaml.v3"

	"github.com/bcherb2/ffdash/internal/hwinventory"
)

// RateControlMode is one of the rate-control strategies the builder
// names. Direction and valid knob ranges per backend live in
// internal/ffmpeg/builder.go's rate-control table, not here — this
// type only names the mode.
type RateControlMode string

const (
	RateControlCQ         RateControlMode = "cq"
	RateControlCQCap      RateControlMode = "cq_cap"
	RateControlTwoPassVBR RateControlMode = "two_pass_vbr"
	RateControlCBR        RateControlMode = "cbr"
	RateControlCQP        RateControlMode = "cqp"
)

// PixelFormatPolicy chooses between automatic pixel-format resolution
// (p010/nv12 for hardware, yuv420p10le/yuv420p for software, selected
// by source bit depth) and a user-fixed format.
type PixelFormatPolicy string

const (
	PixelFormatAuto  PixelFormatPolicy = "auto"
	PixelFormatFixed PixelFormatPolicy = "fixed"
)

// AudioMode selects whether an audio stream is copied or re-encoded.
type AudioMode string

const (
	AudioCopy   AudioMode = "copy"
	AudioEncode AudioMode = "encode"
)

// AudioPolicy describes how the Builder handles the source audio
// streams, with an optional secondary AC3 track for wider compatibility.
type AudioPolicy struct {
	Mode         AudioMode `yaml:"mode" default:"copy"`
	Codec        string    `yaml:"codec,omitempty" default:"libopus"`
	BitrateKbps  int       `yaml:"bitrate_kbps,omitempty" default:"128"`
	Channels     int       `yaml:"channels,omitempty"`
	SecondaryAC3 bool      `yaml:"secondary_ac3,omitempty"`
}

// Parallelism groups the encoder's internal parallelism knobs.
type Parallelism struct {
	RowMT        bool `yaml:"row_mt" default:"true"`
	TileColsLog2 int  `yaml:"tile_cols_log2,omitempty"`
	TileRowsLog2 int  `yaml:"tile_rows_log2,omitempty"`
	Threads      int  `yaml:"threads,omitempty"`
	LagInFrames  int  `yaml:"lag_in_frames,omitempty" default:"25"`
}

// GOP groups keyframe interval settings.
type GOP struct {
	KeyframeInterval    int `yaml:"keyframe_interval" default:"240" validate:"gte=1"`
	MinKeyframeInterval int `yaml:"min_keyframe_interval,omitempty"`
}

// Tuning groups VP9/AV1-specific psychovisual tuning knobs.
type Tuning struct {
	ARNRStrength    int  `yaml:"arnr_strength,omitempty"`
	ARNRMaxFrames   int  `yaml:"arnr_max_frames,omitempty"`
	ARNRType        int  `yaml:"arnr_type,omitempty"`
	AutoAltRef      bool `yaml:"auto_alt_ref,omitempty"`
	ErrorResilience bool `yaml:"error_resilience,omitempty"`
}

// FilterPolicy groups the video filter-chain decisions the Builder
// must realize.
type FilterPolicy struct {
	TonemapHDR  bool `yaml:"tonemap_hdr" default:"true"`
	ScaleHeight int  `yaml:"scale_height,omitempty"` // 0 = no scaling
	Deinterlace bool `yaml:"deinterlace,omitempty"`
}

// AutoVMAF is the optional calibration block.
type AutoVMAF struct {
	Enabled               bool    `yaml:"enabled"`
	TargetScore           float64 `yaml:"target_score" default:"93" validate:"gte=1,lte=99"`
	Step                  int     `yaml:"step" default:"2" validate:"gte=1"`
	MaxAttempts           int     `yaml:"max_attempts" default:"4" validate:"gte=1"`
	WindowSeconds         float64 `yaml:"window_seconds" default:"10" validate:"gte=1"`
	AnalysisBudgetSeconds float64 `yaml:"analysis_budget_seconds" default:"30" validate:"gte=1"`
	SubsampleStride       int     `yaml:"subsample_stride" default:"1" validate:"gte=1"`
}

// EncodeConfig is the immutable-once-captured encoding profile snapshot
// a Job owns. Config is captured by value at scan time; once a Job is
// Done or Failed its config never changes.
type EncodeConfig struct {
	Codec   hwinventory.Codec   `yaml:"codec"`
	Backend hwinventory.Backend `yaml:"backend" default:"software"`

	RateControl RateControlMode `yaml:"rate_control" default:"cq"`
	Quality     int             `yaml:"quality" default:"31"`

	TargetBitrateKbps int `yaml:"target_bitrate_kbps,omitempty"`
	MaxBitrateKbps    int `yaml:"max_bitrate_kbps,omitempty"`
	BufferSizeKbps    int `yaml:"buffer_size_kbps,omitempty"`

	Preset string `yaml:"preset,omitempty" default:"good"`

	PixelFormatPolicy PixelFormatPolicy `yaml:"pixel_format_policy" default:"auto"`
	FixedPixelFormat  string            `yaml:"fixed_pixel_format,omitempty"`

	Parallelism Parallelism  `yaml:"parallelism"`
	GOP         GOP          `yaml:"gop"`
	Tuning      Tuning       `yaml:"tuning"`
	Filter      FilterPolicy `yaml:"filter"`
	Audio       AudioPolicy  `yaml:"audio"`

	AdditionalArgs []string `yaml:"additional_args,omitempty"`

	AutoVMAF *AutoVMAF `yaml:"auto_vmaf,omitempty"`
}

// NewDefaultEncodeConfig returns an EncodeConfig with every default-tagged
// field populated, matching the teacher's DefaultConfig idiom but
// realized via creasty/defaults struct tags instead of a hand-written
// literal (grounded on Koodeyo-Media-shaka-streamer-go's config shape).
func NewDefaultEncodeConfig() (*EncodeConfig, error) {
	cfg := &EncodeConfig{
		Codec: hwinventory.CodecVP9,
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply encode config defaults: %w", err)
	}
	return cfg, nil
}

// LoadEncodeConfig reads a profile YAML file on top of the struct-tag
// defaults; an empty path returns the defaults unchanged. The loaded
// profile is validated before being handed back, so a bad profile file
// is rejected at load time rather than at first dispatch.
func LoadEncodeConfig(path string) (*EncodeConfig, error) {
	cfg, err := NewDefaultEncodeConfig()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveEncodeConfig writes cfg as YAML to path, creating parent
// directories as needed (grounded on Config.Save's identical pattern).
func SaveEncodeConfig(cfg *EncodeConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks an EncodeConfig's declarative constraints (struct
// tags) and the cross-field invariants that validate.v2's tag language
// cannot express.
func (c *EncodeConfig) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid encode config: %w", err)
	}
	if c.Codec != hwinventory.CodecVP9 && c.Codec != hwinventory.CodecAV1 {
		return fmt.Errorf("invalid encode config: unknown codec %q", c.Codec)
	}
	if c.PixelFormatPolicy == PixelFormatFixed && c.FixedPixelFormat == "" {
		return fmt.Errorf("invalid encode config: fixed pixel format policy requires fixed_pixel_format")
	}
	if c.AutoVMAF != nil && c.AutoVMAF.Enabled {
		if err := validator.Validate(c.AutoVMAF); err != nil {
			return fmt.Errorf("invalid auto-vmaf block: %w", err)
		}
	}
	return nil
}

// Snapshot returns a deep-enough copy of the config suitable for
// freezing onto a Job. AdditionalArgs and AutoVMAF are the only
// reference-typed fields, so only they need an explicit copy — every
// other field is a value.
func (c *EncodeConfig) Snapshot() EncodeConfig {
	cp := *c
	if c.AdditionalArgs != nil {
		cp.AdditionalArgs = append([]string(nil), c.AdditionalArgs...)
	}
	if c.AutoVMAF != nil {
		v := *c.AutoVMAF
		cp.AutoVMAF = &v
	}
	return cp
}
