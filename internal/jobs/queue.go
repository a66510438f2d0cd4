package jobs

import (
	"os"
	"sync"
	"time"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/vmaf"
)

// Persister is the Queue's write-behind to the state store. Save
// receives the full ordered job snapshot on every transition;
// ProgressSample updates never go through it.
type Persister interface {
	Save(jobs []*Job) error
}

// EventSink is the Queue's fan-out to the event bus.
type EventSink interface {
	Publish(Event)
}

// noopPersister/noopSink let a Queue run fully in-memory (tests, dry-run).
type noopPersister struct{}

func (noopPersister) Save([]*Job) error { return nil }

type noopSink struct{}

func (noopSink) Publish(Event) {}

// Queue holds the ordered set of Jobs for one scanned directory and is
// the sole mutator of Job state: every transition happens under mu, and
// callers only ever see defensive copies. Back-references are by id,
// never by pointer, so a Job never needs to know its Queue.
type Queue struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string

	persist Persister
	sink    EventSink

	notifyMu sync.Mutex
	notifyCh chan struct{}

	stopped bool
}

// NewQueue creates a Queue seeded with jobs already loaded from the
// state store (in their on-disk order). persist/sink may be nil to run
// fully in-memory.
func NewQueue(initial []*Job, persist Persister, sink EventSink) *Queue {
	if persist == nil {
		persist = noopPersister{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	q := &Queue{
		jobs:     make(map[string]*Job, len(initial)),
		order:    make([]string, 0, len(initial)),
		persist:  persist,
		sink:     sink,
		notifyCh: make(chan struct{}),
	}
	for _, j := range initial {
		q.jobs[j.ID] = j
		q.order = append(q.order, j.ID)
	}
	return q
}

// WaitForWork returns a channel that closes the next time a Pending job
// becomes available, mirroring a condition-variable wait.
func (q *Queue) WaitForWork() <-chan struct{} {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	return q.notifyCh
}

func (q *Queue) signal() {
	q.notifyMu.Lock()
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
	q.notifyMu.Unlock()
}

func (q *Queue) snapshotLocked() []*Job {
	out := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		if j, ok := q.jobs[id]; ok {
			out = append(out, j.Copy())
		}
	}
	return out
}

// checkpointLocked persists the current snapshot. Called with mu held,
// mirroring the teacher's save-under-lock pattern; retry/backoff lives
// inside the Persister implementation so the lock is only held for one
// attempt's worth of latency in the common case.
func (q *Queue) checkpointLocked() error {
	return q.persist.Save(q.snapshotLocked())
}

// Add appends a new Pending job to the tail of the queue.
func (q *Queue) Add(job *Job) error {
	q.mu.Lock()
	if _, exists := q.jobs[job.ID]; exists {
		q.mu.Unlock()
		return nil // same absolute path already queued; id is deterministic
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	err := q.checkpointLocked()
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventJobQueued, Job: job.Copy()})
	q.signal()
	return err
}

// Get returns a defensive copy of a job, or nil if unknown.
func (q *Queue) Get(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		return j.Copy()
	}
	return nil
}

// GetAll returns a defensive copy of every job, in queue order.
func (q *Queue) GetAll() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Acquire dispatches the first eligible Pending job: input must exist,
// and output must be absent unless overwrite is set. compatible decides
// whether the job enters Calibrating or goes straight to Encoding.
// Returns (nil, nil) if there is nothing dispatchable right now.
func (q *Queue) Acquire(overwrite bool, compatible func(*Job) bool) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil, ffdasherr.ErrQueueStopped
	}

	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		if _, err := os.Stat(job.InputPath); err != nil {
			continue
		}
		if !overwrite {
			if _, err := os.Stat(job.OutputPath); err == nil {
				continue
			}
		}

		if compatible != nil && compatible(job) {
			job.Status = StatusCalibrating
		} else {
			job.Status = StatusEncoding
		}
		job.Attempts++
		job.StartedAt = time.Now()
		job.FinishedAt = time.Time{}
		job.ErrorTail = nil
		job.FailureReason = ""

		if err := q.checkpointLocked(); err != nil {
			return job, err
		}
		q.sink.Publish(Event{Kind: EventJobStarted, Job: job.Copy()})
		return job, nil
	}
	return nil, nil
}

// BeginEncoding transitions a Calibrating job to Encoding once
// calibration has produced a quality setting.
func (q *Queue) BeginEncoding(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return jobNotFoundError(id)
	}
	if job.Status != StatusCalibrating {
		q.mu.Unlock()
		return jobNotActiveError(id, job.Status)
	}
	job.Status = StatusEncoding
	err := q.checkpointLocked()
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventJobStarted, Job: job.Copy()})
	return err
}

// UpdateProgress records the latest sample on an active job without a
// store checkpoint (progress is never persisted).
func (q *Queue) UpdateProgress(id string, sample ffmpeg.Progress) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || !job.IsActive() {
		q.mu.Unlock()
		return
	}
	s := sample
	job.Progress = &s
	snapshot := job.Copy()
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventProgressSample, Job: snapshot, Progress: &s})
}

// PublishCalibrationProgress emits a CalibrationProgress event without
// mutating the job (the final outcome is frozen separately via
// ApplyCalibration + Checkpoint).
func (q *Queue) PublishCalibrationProgress(id string, iteration int, score float64) {
	q.sink.Publish(Event{Kind: EventCalibrationProgress, CalibrationIteration: iteration, CalibrationScore: score, Job: q.Get(id)})
}

// Checkpoint persists the current state without changing status.
func (q *Queue) Checkpoint(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return jobNotFoundError(id)
	}
	return q.checkpointLocked()
}

// ApplyCalibration freezes a calibration outcome onto the job (adopting
// its chosen quality into the job's config snapshot) and checkpoints
// the store, under the same lock other readers use for Copy.
func (q *Queue) ApplyCalibration(id string, result *vmaf.Result) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return jobNotFoundError(id)
	}
	job.ApplyCalibration(result)
	err := q.checkpointLocked()
	q.mu.Unlock()
	return err
}

// Finish transitions an active job to a terminal state (Done or
// Failed) and checkpoints the store.
func (q *Queue) Finish(id string, status Status, failureReason string, errTail []string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return jobNotFoundError(id)
	}
	job.Status = status
	job.FailureReason = failureReason
	job.ErrorTail = errTail
	job.FinishedAt = time.Now()
	job.Progress = nil
	err := q.checkpointLocked()
	snapshot := job.Copy()
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventJobFinished, Job: snapshot})
	return err
}

// Requeue returns an active job to Pending after a cooperative
// cancellation.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return jobNotFoundError(id)
	}
	job.Status = StatusPending
	job.Progress = nil
	job.StartedAt = time.Time{}
	err := q.checkpointLocked()
	snapshot := job.Copy()
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventJobFinished, Job: snapshot})
	q.signal()
	return err
}

// RequeueAllActive cancels every Calibrating/Encoding job back to
// Pending; used by a global pause.
func (q *Queue) RequeueAllActive() []string {
	q.mu.Lock()
	var affected []string
	for _, id := range q.order {
		job := q.jobs[id]
		if job.IsActive() {
			job.Status = StatusPending
			job.Progress = nil
			job.StartedAt = time.Time{}
			affected = append(affected, id)
		}
	}
	_ = q.checkpointLocked()
	q.mu.Unlock()

	for _, id := range affected {
		q.sink.Publish(Event{Kind: EventJobFinished, Job: q.Get(id)})
	}
	if len(affected) > 0 {
		q.signal()
	}
	return affected
}

// ToggleSkip flips a non-active job between Pending and Skipped; a job
// currently Calibrating or Encoding cannot be toggled.
func (q *Queue) ToggleSkip(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return jobNotFoundError(id)
	}
	if job.IsActive() {
		q.mu.Unlock()
		return jobNotActiveError(id, job.Status)
	}
	switch job.Status {
	case StatusPending:
		job.Status = StatusSkipped
	case StatusSkipped:
		job.Status = StatusPending
	default:
		q.mu.Unlock()
		return jobNotActiveError(id, job.Status)
	}
	err := q.checkpointLocked()
	snapshot := job.Copy()
	shouldSignal := job.Status == StatusPending
	q.mu.Unlock()

	q.sink.Publish(Event{Kind: EventJobQueued, Job: snapshot})
	if shouldSignal {
		q.signal()
	}
	return err
}

// Stop marks the queue stopped: Acquire returns ErrQueueStopped and no
// further jobs are dispatched. Already-active jobs are unaffected; call
// RequeueAllActive separately to also cancel them.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.signal()
}

// ClearCompleted drops every Done/Failed job from the queue.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	newOrder := make([]string, 0, len(q.order))
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if job.IsTerminal() {
			delete(q.jobs, id)
			count++
			continue
		}
		newOrder = append(newOrder, id)
	}
	q.order = newOrder
	_ = q.checkpointLocked()
	return count
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending     int `json:"pending"`
	Calibrating int `json:"calibrating"`
	Encoding    int `json:"encoding"`
	Done        int `json:"done"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Total       int `json:"total"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, job := range q.jobs {
		s.Total++
		switch job.Status {
		case StatusPending:
			s.Pending++
		case StatusCalibrating:
			s.Calibrating++
		case StatusEncoding:
			s.Encoding++
		case StatusDone:
			s.Done++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
