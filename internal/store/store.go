// Package store persists a directory's job queue to a single
// newline-delimited JSON file beside the files it scanned.
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/jobs"
	"github.com/bcherb2/ffdash/internal/logger"
)

// fileName is the on-disk name of the state file written into each
// scanned directory.
const fileName = ".enc_state"

// retryDelays is the exponential backoff schedule for a failed write:
// 100ms, 400ms, then give up (three attempts total).
var retryDelays = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}

// Store persists one directory's job list as NDJSON, one job record per
// line, so the file stays diffable and a partially-written line from a
// crash can't corrupt records before it. Implements jobs.Persister.
type Store struct {
	path string
}

// prober is the subset of ffmpeg.Prober that Load needs to re-probe a
// job's Input on recovery; tests supply a fake instead of shelling out
// to ffprobe.
type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.Input, error)
}

// New returns a Store backed by dir/.enc_state.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, fileName)}
}

// Path returns the backing file's path.
func (s *Store) Path() string {
	return s.path
}

// Load reads every job record from disk, in file order. A job whose
// persisted status is Calibrating or Encoding is reset to Pending: a
// worker holding it never got to finish, so its in-flight work is
// presumed lost (crash-recovery behavior mirrored from the teacher's
// ResetRunningJobs). Returns an empty slice, not an error, if the file
// does not exist yet. Unknown fields in a record are ignored and an
// unrecognized status value decodes as Pending, keeping older and newer
// writers of this file forward-compatible with each other.
//
// Input is never persisted, so any job left Pending after the
// crash-recovery reset is re-probed here with prober before it is
// handed back: Queue.Acquire only checks that InputPath still exists on
// disk, and a worker dereferencing a Pending job's nil Input panics. A
// job whose source file has vanished or fails to probe is marked Failed
// instead, so it never reaches Acquire.
func (s *Store) Load(ctx context.Context, p prober) ([]*jobs.Job, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ffdasherr.StateIOError{Path: s.path, Err: err}
	}
	defer f.Close()

	var out []*jobs.Job
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var job jobs.Job
		if err := json.Unmarshal(line, &job); err != nil {
			logger.Warn("skipping unreadable state record", "path", s.path, "line", lineNo, "error", err)
			continue
		}
		if !validStatus(job.Status) {
			job.Status = jobs.StatusPending
		}
		if job.IsActive() {
			job.Status = jobs.StatusPending
			job.Progress = nil
			job.StartedAt = time.Time{}
		}
		if job.Status == jobs.StatusPending {
			input, err := p.Probe(ctx, job.InputPath)
			if err != nil {
				logger.Warn("re-probe on load failed, marking job failed", "path", s.path, "job_id", job.ID, "input", job.InputPath, "error", err)
				job.Status = jobs.StatusFailed
				job.FailureReason = fmt.Sprintf("re-probe on load: %v", err)
			} else {
				job.Input = input
			}
		}
		out = append(out, &job)
	}
	if err := scanner.Err(); err != nil {
		return out, &ffdasherr.StateIOError{Path: s.path, Err: err}
	}
	return out, nil
}

func validStatus(s jobs.Status) bool {
	switch s {
	case jobs.StatusPending, jobs.StatusCalibrating, jobs.StatusEncoding,
		jobs.StatusDone, jobs.StatusFailed, jobs.StatusSkipped:
		return true
	default:
		return false
	}
}

// Save writes the full job list atomically: encode to a temp file,
// fsync, then rename over the real path, so a crash mid-write never
// leaves a torn .enc_state behind (the teacher, by contrast,
// renames without fsyncing first). A failed write is retried with
// exponential backoff before being reported.
func (s *Store) Save(jobList []*jobs.Job) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, job := range jobList {
		if err := enc.Encode(job); err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if lastErr = s.writeOnce(buf.Bytes()); lastErr == nil {
			return nil
		}
		if attempt >= len(retryDelays) {
			break
		}
		logger.Warn("state write failed, retrying", "path", s.path, "attempt", attempt+1, "error", lastErr)
		time.Sleep(retryDelays[attempt])
	}
	return &ffdasherr.StateIOError{Path: s.path, Err: lastErr}
}

func (s *Store) writeOnce(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
