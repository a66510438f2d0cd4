package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
	"github.com/bcherb2/ffdash/internal/logger"
)

// killGrace is how long the Runner waits after SIGTERM before
// forcibly killing a cancelled subprocess.
const killGrace = 2 * time.Second

// stderrTailLines is the default ring buffer size for stderr diagnostics.
const stderrTailLines = 50

// RunResult is the outcome of one Runner invocation: either a success
// with timing, or a failure carrying the exit code and a stderr tail.
type RunResult struct {
	Success    bool
	Cancelled  bool
	ExitCode   int
	StderrTail []string
	Duration   time.Duration
}

// Runner owns one ffmpeg subprocess's lifecycle: spawn, stream progress,
// capture a stderr tail, and enforce graceful-then-forced cancellation.
// Grounded on the teacher's transcode.go Transcode (stdout/stderr
// piping, cmd.Wait, stat-output-on-exit), generalized to a typed result
// instead of an error-or-TranscodeResult return and to cooperative
// SIGTERM-then-kill cancellation instead of context-only termination.
type Runner struct {
	ffmpegPath string
}

// NewRunner creates a Runner bound to the given ffmpeg binary path.
func NewRunner(ffmpegPath string) *Runner {
	return &Runner{ffmpegPath: ffmpegPath}
}

// Run spawns ffmpeg with args, streams progress samples (computed
// against progressDuration) to sink, and returns once the process exits
// or ctx is cancelled. outputPath is checked for non-empty existence to
// distinguish a true success from a zero-byte failure. Pass an empty
// outputPath for an invocation with no real output file (a two-pass
// first pass, which targets /dev/null) to skip that check.
func (r *Runner) Run(ctx context.Context, args []string, outputPath string, progressDuration time.Duration, sink chan Progress) (*RunResult, error) {
	start := time.Now()

	cmd := exec.Command(r.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var tail *ringBuffer
	var g errgroup.Group
	g.Go(func() error {
		p := NewProgressParser(progressDuration)
		p.Run(stdout, sink)
		return nil
	})
	g.Go(func() error {
		tail = drainStderrTail(stderr, stderrTailLines)
		return nil
	})

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	cancelled := false
	select {
	case <-ctx.Done():
		cancelled = true
		waitErr = terminate(cmd, waitDone)
	case waitErr = <-waitDone:
	}
	_ = g.Wait()

	if cancelled {
		logger.Warn("ffmpeg run cancelled", "args_len", len(args))
		return &RunResult{Cancelled: true, Duration: time.Since(start)}, &ffdasherr.CancellationSignal{}
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if exitCode == 0 && (outputPath == "" || outputExists(outputPath)) {
		return &RunResult{Success: true, ExitCode: 0, Duration: time.Since(start)}, nil
	}

	var linesOut []string
	if tail != nil {
		linesOut = tail.Lines()
	}
	return &RunResult{Success: false, ExitCode: exitCode, StderrTail: linesOut, Duration: time.Since(start)},
		&ffdasherr.RunnerError{ExitCode: exitCode, Tail: linesOut}
}

// terminate sends SIGTERM and escalates to SIGKILL after killGrace if
// the process has not exited, returning cmd.Wait's error.
func terminate(cmd *exec.Cmd, waitDone chan error) error {
	if cmd.Process == nil {
		return <-waitDone
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-waitDone:
		return err
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		return <-waitDone
	}
}

func outputExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
