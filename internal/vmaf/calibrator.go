package vmaf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/hwinventory"
	"github.com/bcherb2/ffdash/internal/logger"
)

// Result is the outcome of one calibration run.
type Result struct {
	Skipped      bool
	SkipReason   string
	Quality      int
	MeasuredVMAF float64
	Iterations   int
	TargetNotMet bool
}

// Calibrator searches for the most aggressive quality setting whose
// measured VMAF meets a target. Concurrency is bounded by a weighted
// semaphore since each analysis saturates roughly half the host's
// cores (grounded on the teacher's SetMaxConcurrentAnalyses/
// GetThreadCount split between a concurrency cap and a per-run thread
// count).
type Calibrator struct {
	ffmpegPath string
	runner     *ffmpeg.Runner
	inv        *hwinventory.Inventory
	sem        *semaphore.Weighted
}

// NewCalibrator creates a Calibrator bound to ffmpegPath, allowed to run
// up to maxConcurrent analyses at once.
func NewCalibrator(ffmpegPath string, inv *hwinventory.Inventory, maxConcurrent int) *Calibrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Calibrator{
		ffmpegPath: ffmpegPath,
		runner:     ffmpeg.NewRunner(ffmpegPath),
		inv:        inv,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// compatible implements the compatibility gate: CQ is always eligible,
// CQCap only on the software backend, CQP only on the hardware
// backends that expose it.
func compatible(cfg *config.EncodeConfig) bool {
	switch cfg.RateControl {
	case config.RateControlCQ:
		return true
	case config.RateControlCQCap:
		return cfg.Backend == hwinventory.BackendSoftware
	case config.RateControlCQP:
		return cfg.Backend == hwinventory.BackendVAAPI || cfg.Backend == hwinventory.BackendQSV
	default:
		return false
	}
}

// Calibrate runs the iterative quality search and returns the chosen
// quality, or a Skipped result if auto-VMAF is disabled, the mode is
// incompatible, or libvmaf is unavailable. onIteration, if non-nil, is
// called after each iteration's pooled score is known so a caller can
// publish a CalibrationProgress event.
func (c *Calibrator) Calibrate(ctx context.Context, input *ffmpeg.Input, cfg *config.EncodeConfig, jobID, scratchRoot string, onIteration func(iteration int, pooledScore float64)) (*Result, error) {
	if cfg.AutoVMAF == nil || !cfg.AutoVMAF.Enabled {
		return &Result{Skipped: true, SkipReason: "auto-vmaf disabled"}, nil
	}
	if !compatible(cfg) {
		return &Result{Skipped: true, SkipReason: fmt.Sprintf("rate-control mode %s is not calibration-compatible on backend %s", cfg.RateControl, cfg.Backend)}, nil
	}

	det := Detect(ctx, c.ffmpegPath)
	if det == nil || !det.Available {
		return &Result{Skipped: true, SkipReason: "libvmaf filter unavailable"}, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	av := cfg.AutoVMAF
	windowDur := secondsToDuration(av.WindowSeconds)
	budget := secondsToDuration(av.AnalysisBudgetSeconds)
	sourceDuration := secondsToDuration(input.Duration)
	windows := SelectWindows(sourceDuration, windowDur, budget)

	jobScratch := filepath.Join(scratchRoot, jobID)
	if err := os.MkdirAll(jobScratch, 0o755); err != nil {
		return nil, fmt.Errorf("create calibration scratch dir: %w", err)
	}

	minQ, maxQ := ffmpeg.QualityRange(cfg.Backend, cfg.Codec)
	quality := clampInt(cfg.Quality, minQ, maxQ)
	direction := ffmpeg.QualityDirection(cfg.Backend)

	model := SelectModel(input.Height, det.Models)
	threads := threadsFor(c.inv)
	hdr := hdrFromInput(input)

	// Calibration samples never need audio or subtitle passthrough —
	// only the video stream is scored (mirrors the teacher's "-an -sn"
	// sample extraction).
	videoOnly := *input
	videoOnly.Audio = nil
	videoOnly.Subtitles = nil

	bestQuality := quality
	bestScore := 0.0
	iterations := 0

	for k := 1; k <= av.MaxAttempts; k++ {
		iterations = k

		trial := cfg.Snapshot()
		trial.Quality = quality

		scores := make([]float64, 0, len(windows))
		for i, win := range windows {
			samplePath := filepath.Join(jobScratch, fmt.Sprintf("sample_%d_%d.webm", k, i))
			pass := ffmpeg.Pass{
				Kind:            ffmpeg.PassCalibrationSample,
				WindowStart:     win.Start.Seconds(),
				WindowDuration:  win.Duration.Seconds(),
				OutputPath:      samplePath,
				OutputContainer: ffmpeg.ContainerWebM,
			}
			args, err := ffmpeg.Build(&videoOnly, &trial, pass, c.inv)
			if err != nil {
				return nil, err
			}

			sink := make(chan ffmpeg.Progress, 1)
			if _, err := c.runner.Run(ctx, args, samplePath, win.Duration, sink); err != nil {
				return nil, fmt.Errorf("calibration sample encode (iteration %d, window %d): %w", k, i, err)
			}

			logPath := filepath.Join(jobScratch, fmt.Sprintf("vmaf_%d_%d.json", k, i))
			score, err := Score(ctx, c.ffmpegPath, input.Path, samplePath, model, threads, av.SubsampleStride, logPath, hdr)
			if err != nil {
				return nil, fmt.Errorf("vmaf score (iteration %d, window %d): %w", k, i, err)
			}
			scores = append(scores, score)
		}

		pooled := PooledScore(scores)
		logger.Debug("calibration iteration scored", "job_id", jobID, "iteration", k, "quality", quality, "pooled_vmaf", pooled)
		if onIteration != nil {
			onIteration(k, pooled)
		}

		if pooled > bestScore {
			bestScore = pooled
			bestQuality = quality
		}

		if pooled >= av.TargetScore {
			_ = os.RemoveAll(jobScratch)
			return &Result{Quality: quality, MeasuredVMAF: pooled, Iterations: k}, nil
		}

		next := clampInt(quality+direction*av.Step, minQ, maxQ)
		if next == quality {
			break // clamped against the knob's range with no room left to search
		}
		quality = next
	}

	return &Result{Quality: bestQuality, MeasuredVMAF: bestScore, Iterations: iterations, TargetNotMet: true}, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// threadsFor caps each analysis to roughly half the host's logical
// cores so a concurrent worker pool still leaves room for encoding.
func threadsFor(inv *hwinventory.Inventory) int {
	n := runtime.NumCPU()
	if inv != nil {
		n = inv.CPUCount()
	}
	n /= 2
	if n < 1 {
		n = 1
	}
	return n
}
