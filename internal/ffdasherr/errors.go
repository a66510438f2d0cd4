// Package ffdasherr defines the error taxonomy shared across the control
// plane: typed kinds that callers can match with errors.As, each carrying
// enough context to surface a useful message without string-matching.
package ffdasherr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that do not carry extra context.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotActive = errors.New("job is not in an active state")
	ErrQueueStopped = errors.New("queue has been stopped")
)

// PrerequisiteError indicates the external tool is missing or lacks a
// required feature. Fatal at startup; the scheduler never starts.
type PrerequisiteError struct {
	Tool   string
	Reason string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("prerequisite failed: %s: %s", e.Tool, e.Reason)
}

// ProbeError wraps a failure to read input metadata.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// UnsupportedCombination indicates the Builder cannot realize the
// requested (backend, mode, codec) tuple.
type UnsupportedCombination struct {
	Backend string
	Mode    string
	Codec   string
}

func (e *UnsupportedCombination) Error() string {
	return fmt.Sprintf("unsupported combination: backend=%s mode=%s codec=%s", e.Backend, e.Mode, e.Codec)
}

// RunnerError indicates the external tool exited non-zero or produced
// empty output. Tail holds the last N lines of stderr.
type RunnerError struct {
	ExitCode int
	Tail     []string
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("runner failed: exit code %d", e.ExitCode)
}

// CalibrationShortfall indicates the VMAF search exhausted its iteration
// budget without meeting the target score. Not fatal: the best-seen
// quality is used and the encode proceeds.
type CalibrationShortfall struct {
	BestQuality int
	BestScore   float64
	Iterations  int
}

func (e *CalibrationShortfall) Error() string {
	return fmt.Sprintf("calibration shortfall: best quality %d scored %.2f after %d iterations", e.BestQuality, e.BestScore, e.Iterations)
}

// CancellationSignal is returned by the Runner when cancellation was
// observed; callers requeue the job unchanged.
type CancellationSignal struct{}

func (e *CancellationSignal) Error() string { return "cancelled" }

// StateIOError wraps a failure to persist .enc_state after retries.
type StateIOError struct {
	Path string
	Err  error
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("state store write failed for %s: %v", e.Path, e.Err)
}

func (e *StateIOError) Unwrap() error { return e.Err }
