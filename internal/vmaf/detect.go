// Package vmaf implements the VMAF Calibrator: window selection, sample
// encoding, libvmaf scoring, and the iterative quality search that
// drives an encode profile's quality knob toward a target score.
package vmaf

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bcherb2/ffdash/internal/logger"
)

// Detection is the immutable result of probing the external tool for
// libvmaf support.
type Detection struct {
	Available bool
	Models    []string
}

var (
	once     sync.Once
	instance *Detection
)

// Detect probes ffmpeg for libvmaf support and available models, caching
// the result for the process lifetime (mirrors hwinventory.Detect).
func Detect(ctx context.Context, ffmpegPath string) *Detection {
	once.Do(func() {
		instance = detect(ctx, ffmpegPath)
	})
	return instance
}

// Get returns the cached detection, or nil if Detect has not run yet.
func Get() *Detection {
	return instance
}

func detect(ctx context.Context, ffmpegPath string) *Detection {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(dctx, ffmpegPath, "-filters").Output()
	if err != nil {
		logger.Warn("ffmpeg -filters probe failed, assuming libvmaf unavailable", "error", err)
		return &Detection{}
	}
	if !strings.Contains(string(out), "libvmaf") {
		return &Detection{}
	}

	models := []string{"vmaf_v0.6.1"}
	helpOut, _ := exec.CommandContext(dctx, ffmpegPath, "-h", "filter=libvmaf").Output()
	if strings.Contains(string(helpOut), "vmaf_4k") {
		models = append(models, "vmaf_4k_v0.6.1")
	}

	return &Detection{Available: true, Models: models}
}

// SelectModel picks the 4K model for >1080p sources when available,
// otherwise the default model (grounded on the teacher's SelectModel).
func SelectModel(height int, models []string) string {
	if height > 1080 {
		for _, m := range models {
			if strings.Contains(m, "4k") {
				return m
			}
		}
	}
	for _, m := range models {
		if strings.Contains(m, "vmaf_v0.6.1") && !strings.Contains(m, "4k") {
			return m
		}
	}
	if len(models) > 0 {
		return models[0]
	}
	return "vmaf_v0.6.1"
}
