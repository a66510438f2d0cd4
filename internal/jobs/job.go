// Package jobs implements the Job/Queue/Scheduler layer: the in-memory
// ownership model and worker pool that dispatch, track, and persist the
// lifecycle of each transcode job.
package jobs

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/vmaf"
)

// Status is one of the states a Job moves through. It is monotone
// except for the Pending<->Skipped toggle a user can apply before
// encoding starts.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCalibrating Status = "calibrating"
	StatusEncoding    Status = "encoding"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// jobIDNamespace anchors the deterministic job-ID derivation. Any fixed
// UUID works here since it only needs to be stable across runs of this
// program, not globally unique against other namespaces.
var jobIDNamespace = uuid.MustParse("6f6d9a8e-6f1b-4b8a-9b0a-2f6a6c9d8e10")

// NewJobID derives a stable job ID from a file's absolute path, so the
// same file always resolves to the same job across restarts.
func NewJobID(absPath string) string {
	return uuid.NewSHA1(jobIDNamespace, []byte(absPath)).String()
}

// CalibrationResult freezes the outcome of a VMAF calibration run onto
// a Job.
type CalibrationResult struct {
	Quality      int     `json:"quality"`
	MeasuredVMAF float64 `json:"measured_vmaf"`
	Iterations   int     `json:"iterations"`
	TargetNotMet bool    `json:"target_not_met,omitempty"`
}

// calibrationResultFromVMAF adapts a vmaf.Result onto the persisted
// shape a Job carries, dropping the Skipped/SkipReason fields that only
// matter at the moment calibration ran.
func calibrationResultFromVMAF(r *vmaf.Result) *CalibrationResult {
	if r == nil || r.Skipped {
		return nil
	}
	return &CalibrationResult{
		Quality:      r.Quality,
		MeasuredVMAF: r.MeasuredVMAF,
		Iterations:   r.Iterations,
		TargetNotMet: r.TargetNotMet,
	}
}

// Job is a single file's transcode record. Config is captured by value
// at scan time and frozen once Status reaches Done or Failed. Progress
// holds the last sample only; it is not persisted.
type Job struct {
	ID         string              `json:"id"`
	InputPath  string              `json:"input_path"`
	OutputPath string              `json:"output_path"`
	Config     config.EncodeConfig `json:"config"`

	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`

	Progress    *ffmpeg.Progress   `json:"-"`
	Calibration *CalibrationResult `json:"calibration_result,omitempty"`

	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	ErrorTail []string `json:"error_tail,omitempty"`

	// Input is the Prober's descriptor for InputPath. It is never
	// persisted (the store only freezes input_path) and is repopulated
	// by re-probing on load, since the descriptor is cheap to recompute
	// and the file itself is the source of truth.
	Input *ffmpeg.Input `json:"-"`
}

// NewJob builds a Pending job for inputPath, deriving its ID from the
// absolute path and snapshotting cfg so later mutation of the caller's
// config does not leak into the job.
func NewJob(input *ffmpeg.Input, outputPath string, cfg *config.EncodeConfig) *Job {
	absPath, err := filepath.Abs(input.Path)
	if err != nil {
		absPath = input.Path
	}
	return &Job{
		ID:         NewJobID(absPath),
		InputPath:  input.Path,
		OutputPath: outputPath,
		Config:     cfg.Snapshot(),
		Status:     StatusPending,
		Input:      input,
	}
}

// IsTerminal reports whether the job will never transition again
// without explicit user action (re-queue).
func (j *Job) IsTerminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// IsActive reports whether a worker currently holds exclusive
// ownership of this job.
func (j *Job) IsActive() bool {
	return j.Status == StatusCalibrating || j.Status == StatusEncoding
}

// Copy returns a deep-enough copy of the job so a Queue snapshot handed
// to a Store write or an event subscriber cannot be mutated by a later
// in-place update (mirrors config.EncodeConfig.Snapshot's reasoning).
func (j *Job) Copy() *Job {
	cp := *j
	cp.Config = j.Config.Snapshot()
	if j.Progress != nil {
		p := *j.Progress
		cp.Progress = &p
	}
	if j.Calibration != nil {
		c := *j.Calibration
		cp.Calibration = &c
	}
	if j.ErrorTail != nil {
		cp.ErrorTail = append([]string(nil), j.ErrorTail...)
	}
	return &cp
}

// ApplyCalibration freezes a calibration outcome onto the job.
func (j *Job) ApplyCalibration(r *vmaf.Result) {
	j.Calibration = calibrationResultFromVMAF(r)
	if r != nil && !r.Skipped {
		j.Config.Quality = r.Quality
	}
}

// Event is a point-in-time notification about a Job's lifecycle. Kind
// distinguishes the payload shape the subscriber should expect.
type Event struct {
	Kind EventKind `json:"kind"`
	Job  *Job      `json:"job,omitempty"`

	// Populated for EventProgressSample only.
	Progress *ffmpeg.Progress `json:"progress,omitempty"`

	// Populated for EventCalibrationProgress only.
	CalibrationIteration int     `json:"calibration_iteration,omitempty"`
	CalibrationScore     float64 `json:"calibration_score,omitempty"`

	// Populated for EventWorkersResized only.
	WorkerCount int `json:"worker_count,omitempty"`
}

// EventKind enumerates the event bus's published event types.
type EventKind string

const (
	EventJobQueued           EventKind = "job_queued"
	EventJobStarted          EventKind = "job_started"
	EventProgressSample      EventKind = "progress_sample"
	EventCalibrationProgress EventKind = "calibration_progress"
	EventJobFinished         EventKind = "job_finished"
	EventWorkersResized      EventKind = "workers_resized"
)
