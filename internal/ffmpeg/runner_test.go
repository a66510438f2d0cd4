package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
)

// fakeFFmpeg builds a tiny shell script standing in for the real ffmpeg
// binary so the Runner can be exercised without the toolchain installed.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func TestRunner_SuccessWhenOutputExists(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.webm")
	// Run is invoked with args=[outputPath], so $1 here is the output path.
	script := "echo 'progress=end'\nprintf 'data' > \"$1\"\nexit 0\n"
	ffmpegPath := fakeFFmpeg(t, script)

	runner := NewRunner(ffmpegPath)
	sink := make(chan Progress, 8)
	result, err := runner.Run(context.Background(), []string{outputPath}, outputPath, time.Second, sink)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if !result.Success {
		t.Errorf("expected Success=true, got %+v", result)
	}
}

func TestRunner_FailureWhenExitNonZero(t *testing.T) {
	ffmpegPath := fakeFFmpeg(t, "echo 'boom' 1>&2\nexit 1\n")
	runner := NewRunner(ffmpegPath)
	sink := make(chan Progress, 8)

	result, err := runner.Run(context.Background(), nil, filepath.Join(t.TempDir(), "missing.webm"), time.Second, sink)
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	if result.Success {
		t.Error("expected Success=false")
	}
	var runnerErr *ffdasherr.RunnerError
	if !asRunnerError(err, &runnerErr) {
		t.Fatalf("expected *ffdasherr.RunnerError, got %T: %v", err, err)
	}
	if runnerErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", runnerErr.ExitCode)
	}
}

func TestRunner_FailureWhenOutputMissingDespiteZeroExit(t *testing.T) {
	ffmpegPath := fakeFFmpeg(t, "exit 0\n")
	runner := NewRunner(ffmpegPath)
	sink := make(chan Progress, 8)

	result, err := runner.Run(context.Background(), nil, filepath.Join(t.TempDir(), "never-written.webm"), time.Second, sink)
	if err == nil {
		t.Fatal("expected an error when the output file was never produced")
	}
	if result.Success {
		t.Error("expected Success=false when output is missing")
	}
}

func TestRunner_CancelReturnsCancellationSignal(t *testing.T) {
	ffmpegPath := fakeFFmpeg(t, "trap 'exit 0' TERM\nsleep 5\n")
	runner := NewRunner(ffmpegPath)
	sink := make(chan Progress, 8)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := runner.Run(ctx, nil, filepath.Join(t.TempDir(), "out.webm"), time.Second, sink)
	if !result.Cancelled {
		t.Error("expected Cancelled=true")
	}
	var sig *ffdasherr.CancellationSignal
	if !asCancellationSignal(err, &sig) {
		t.Fatalf("expected *ffdasherr.CancellationSignal, got %T: %v", err, err)
	}
}

func asRunnerError(err error, target **ffdasherr.RunnerError) bool {
	re, ok := err.(*ffdasherr.RunnerError)
	if ok {
		*target = re
	}
	return ok
}

func asCancellationSignal(err error, target **ffdasherr.CancellationSignal) bool {
	cs, ok := err.(*ffdasherr.CancellationSignal)
	if ok {
		*target = cs
	}
	return ok
}
