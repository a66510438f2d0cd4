package vmaf

import (
	"testing"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/hwinventory"
)

func TestCompatible_CQAlwaysEligible(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlCQ
	cfg.Backend = hwinventory.BackendNVENC
	if !compatible(cfg) {
		t.Error("CQ should be compatible regardless of backend")
	}
}

func TestCompatible_CQCapOnlySoftware(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlCQCap
	cfg.Backend = hwinventory.BackendSoftware
	if !compatible(cfg) {
		t.Error("CQCap should be compatible on software")
	}
	cfg.Backend = hwinventory.BackendVAAPI
	if compatible(cfg) {
		t.Error("CQCap should not be compatible on vaapi")
	}
}

func TestCompatible_CQPOnlyHardware(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlCQP
	cfg.Backend = hwinventory.BackendVAAPI
	if !compatible(cfg) {
		t.Error("CQP should be compatible on vaapi")
	}
	cfg.Backend = hwinventory.BackendSoftware
	if compatible(cfg) {
		t.Error("CQP should not be compatible on software")
	}
}

func TestCompatible_TwoPassVBRIncompatible(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlTwoPassVBR
	if compatible(cfg) {
		t.Error("two_pass_vbr should never be calibration-compatible")
	}
}

func TestClampInt(t *testing.T) {
	cases := []struct{ v, min, max, want int }{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
	}
	for _, c := range cases {
		if got := clampInt(c.v, c.min, c.max); got != c.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", c.v, c.min, c.max, got, c.want)
		}
	}
}
