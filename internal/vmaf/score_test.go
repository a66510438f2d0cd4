package vmaf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPooledScore_Mean(t *testing.T) {
	got := PooledScore([]float64{90, 95, 100})
	if got != 95 {
		t.Errorf("PooledScore = %v, want 95", got)
	}
}

func TestPooledScore_Empty(t *testing.T) {
	if got := PooledScore(nil); got != 0 {
		t.Errorf("PooledScore(nil) = %v, want 0", got)
	}
}

func TestParsePooledMean(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "vmaf.json")
	content := `{"pooled_metrics":{"vmaf":{"mean":93.42,"min":80.1}}}`
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	score, err := parsePooledMean(logPath)
	if err != nil {
		t.Fatalf("parsePooledMean error = %v", err)
	}
	if score != 93.42 {
		t.Errorf("score = %v, want 93.42", score)
	}
}

func TestParsePooledMean_MissingFile(t *testing.T) {
	_, err := parsePooledMean(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected an error for a missing log file")
	}
}

func TestBuildSDRFilter_ContainsSubsampleAndLogPath(t *testing.T) {
	f := buildSDRFilter("vmaf_v0.6.1", 4, 2, "/tmp/out.json")
	if !strings.Contains(f, "n_subsample=2") {
		t.Errorf("expected n_subsample=2 in filter, got %s", f)
	}
	if !strings.Contains(f, "log_path=/tmp/out.json") {
		t.Errorf("expected log_path in filter, got %s", f)
	}
}

func TestBuildHDRFilter_IncludesTonemap(t *testing.T) {
	f := buildHDRFilter("vmaf_v0.6.1", 4, 1, "/tmp/out.json")
	if !strings.Contains(f, "tonemap=hable") {
		t.Errorf("expected tonemap stage in HDR filter, got %s", f)
	}
}
