package vmaf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/logger"
)

// pooledLog mirrors the subset of libvmaf's JSON log this control plane
// reads: the aggregate pooled_metrics.vmaf.mean.
type pooledLog struct {
	PooledMetrics struct {
		VMAF struct {
			Mean float64 `json:"mean"`
		} `json:"vmaf"`
	} `json:"pooled_metrics"`
}

// buildSDRFilter and buildHDRFilter construct the libvmaf filtergraph,
// grounded on the teacher's buildSDRScoringFilter/buildHDRScoringFilter
// but writing to a real log file (logPath) instead of /dev/stdout, and
// taking an explicit subsample stride.
func buildSDRFilter(model string, threads, subsampleStride int, logPath string) string {
	return fmt.Sprintf("[0:v]format=yuv420p[dist];[1:v]format=yuv420p[ref];"+
		"[dist][ref]libvmaf=model=version=%s:n_threads=%d:n_subsample=%d:log_fmt=json:log_path=%s",
		model, threads, subsampleStride, logPath)
}

func buildHDRFilter(model string, threads, subsampleStride int, logPath string) string {
	return fmt.Sprintf("[0:v]format=yuv420p[dist];"+
		"[1:v]zscale=pin=bt2020:tin=smpte2084:min=bt2020nc:t=linear:npl=1000,"+
		"format=gbrpf32le,"+
		"zscale=p=bt709,"+
		"tonemap=hable:desat=0:peak=100,"+
		"zscale=t=bt709:m=bt709,"+
		"format=yuv420p[ref];"+
		"[dist][ref]libvmaf=model=version=%s:n_threads=%d:n_subsample=%d:log_fmt=json:log_path=%s",
		model, threads, subsampleStride, logPath)
}

// Score compares distortedPath against referencePath with libvmaf and
// returns the pooled mean VMAF score. hdr selects the
// tonemap-before-compare filtergraph for a PQ/HLG reference.
func Score(ctx context.Context, ffmpegPath, referencePath, distortedPath, model string, threads, subsampleStride int, logPath string, hdr bool) (float64, error) {
	var filterComplex string
	if hdr {
		filterComplex = buildHDRFilter(model, threads, subsampleStride, logPath)
	} else {
		filterComplex = buildSDRFilter(model, threads, subsampleStride, logPath)
	}

	args := []string{
		"-threads", itoa(threads),
		"-filter_threads", itoa(threads),
		"-i", distortedPath,
		"-i", referencePath,
		"-filter_complex", filterComplex,
		"-f", "null", "-",
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Error("VMAF scoring failed", "error", err, "stderr", lastLines(string(output), 5))
		return 0, fmt.Errorf("vmaf scoring: %w (%s)", err, lastLines(string(output), 3))
	}

	return parsePooledMean(logPath)
}

func parsePooledMean(logPath string) (float64, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0, fmt.Errorf("read vmaf log %s: %w", logPath, err)
	}
	var parsed pooledLog
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("parse vmaf log %s: %w", logPath, err)
	}
	return parsed.PooledMetrics.VMAF.Mean, nil
}

// PooledScore averages per-window scores arithmetically.
func PooledScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// hdrFromInput resolves whether a source needs tonemap-before-compare.
func hdrFromInput(in *ffmpeg.Input) bool { return in.HDR != ffmpeg.HDRNone }
