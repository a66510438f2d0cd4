package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffdasherr"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/hwinventory"
	"github.com/bcherb2/ffdash/internal/logger"
	"github.com/bcherb2/ffdash/internal/vmaf"
)

// scratchDirName is the per-directory scratch namespace a job's active
// worker owns exclusively.
const scratchDirName = ".ffdash_tmp"

// idlePoll is the safety-net wake interval for a worker blocked in
// WaitForWork, in case a signal is ever missed; the notify channel is
// the primary wakeup path.
const idlePoll = 2 * time.Second

// worker is a single goroutine draining the Queue. It tracks whatever
// job it currently holds so a pool-wide pause or resize-drain can
// reason about it without locking the Queue.
type worker struct {
	id    int
	drain chan struct{}

	mu         sync.Mutex
	currentJob *Job
	jobCancel  context.CancelFunc
}

func (w *worker) setCurrent(job *Job, cancel context.CancelFunc) {
	w.mu.Lock()
	w.currentJob = job
	w.jobCancel = cancel
	w.mu.Unlock()
}

func (w *worker) clearCurrent() {
	w.mu.Lock()
	w.currentJob = nil
	w.jobCancel = nil
	w.mu.Unlock()
}

// cancelCurrent cancels whatever job this worker is holding, if any.
func (w *worker) cancelCurrent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobCancel != nil {
		w.jobCancel()
	}
}

// Pool is the worker pool / scheduler: W workers draining one Queue,
// with dynamic resize, a global cooperative-cancellation pause, and
// per-job lifecycle (Calibrating -> Encoding -> Done/Failed).
type Pool struct {
	mu           sync.Mutex
	workers      []*worker
	nextWorkerID int

	queue       *Queue
	calibrator  *vmaf.Calibrator
	runner      *ffmpeg.Runner
	inv         *hwinventory.Inventory
	overwrite   bool
	serializeHW bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pausedMu sync.RWMutex
	paused   bool

	hwSemMu sync.Mutex
	hwSems  map[string]*semaphore.Weighted
}

// NewPool builds a Pool with an initial worker count, clamped to
// [MinWorkers, hardware-parallelism]. When serializeHW is true, jobs
// targeting the same hardware device path (VAAPI render node, or the
// QSV backend when no device path is exposed) never run concurrently:
// each device gets its own weight-1 semaphore, acquired for the
// duration of a hardware job's encode and released whether it
// succeeds, fails, or is cancelled.
func NewPool(queue *Queue, calibrator *vmaf.Calibrator, runner *ffmpeg.Runner, inv *hwinventory.Inventory, overwrite bool, workers int, serializeHW bool) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	max := 0
	if inv != nil {
		max = inv.CPUCount()
	}
	p := &Pool{
		queue:       queue,
		calibrator:  calibrator,
		runner:      runner,
		inv:         inv,
		overwrite:   overwrite,
		serializeHW: serializeHW,
		hwSems:      make(map[string]*semaphore.Weighted),
		ctx:         ctx,
		cancel:      cancel,
	}
	n := ClampWorkerCount(workers, max)
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, p.spawnLocked())
	}
	return p
}

// hwDeviceKey identifies the physical hardware device a job's backend
// would run on, and whether serialization applies to it at all
// (software encodes never contend for a device).
func (p *Pool) hwDeviceKey(job *Job) (string, bool) {
	switch job.Config.Backend {
	case hwinventory.BackendVAAPI:
		if p.inv != nil {
			if device := p.inv.VAAPIDevice(); device != "" {
				return device, true
			}
		}
		return "vaapi", true
	case hwinventory.BackendQSV:
		// QSV exposes no separate device path in hwinventory; treat it
		// as a single shared device since it's usually the same render
		// node VAAPI would pick.
		return "qsv", true
	default:
		return "", false
	}
}

// acquireHWDevice blocks until the job's hardware device is free, when
// serialization is enabled and the job targets a hardware backend. The
// returned release func is always safe to call, including when no
// semaphore was acquired.
func (p *Pool) acquireHWDevice(ctx context.Context, job *Job) (func(), error) {
	if !p.serializeHW {
		return func() {}, nil
	}
	key, ok := p.hwDeviceKey(job)
	if !ok {
		return func() {}, nil
	}

	p.hwSemMu.Lock()
	sem, exists := p.hwSems[key]
	if !exists {
		sem = semaphore.NewWeighted(1)
		p.hwSems[key] = sem
	}
	p.hwSemMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	return func() { sem.Release(1) }, nil
}

// spawnLocked creates and starts one worker goroutine. Caller holds mu.
func (p *Pool) spawnLocked() *worker {
	w := &worker{id: p.nextWorkerID, drain: make(chan struct{})}
	p.nextWorkerID++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runWorker(w)
	}()
	return w
}

// WorkerCount returns the current pool size.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Resize changes pool size. Growing spawns workers immediately;
// shrinking marks the newest workers for drain — each finishes whatever
// job it currently holds, then exits without picking up new work.
// Ongoing jobs are never preempted.
func (p *Pool) Resize(n int) {
	max := 0
	if p.inv != nil {
		max = p.inv.CPUCount()
	}
	n = ClampWorkerCount(n, max)

	p.mu.Lock()
	current := len(p.workers)
	if n > current {
		for i := current; i < n; i++ {
			p.workers = append(p.workers, p.spawnLocked())
		}
	} else if n < current {
		drop := current - n
		for i := 0; i < drop; i++ {
			w := p.workers[len(p.workers)-1]
			p.workers = p.workers[:len(p.workers)-1]
			close(w.drain)
		}
	}
	p.mu.Unlock()

	p.queue.sink.Publish(Event{Kind: EventWorkersResized, WorkerCount: n})
}

// Pause stops workers from dispatching new jobs and cancels whatever
// they currently hold, returning those jobs to Pending.
func (p *Pool) Pause() {
	p.pausedMu.Lock()
	p.paused = true
	p.pausedMu.Unlock()

	p.mu.Lock()
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.cancelCurrent()
	}
}

// Unpause allows workers to dispatch jobs again.
func (p *Pool) Unpause() {
	p.pausedMu.Lock()
	p.paused = false
	p.pausedMu.Unlock()
}

func (p *Pool) isPaused() bool {
	p.pausedMu.RLock()
	defer p.pausedMu.RUnlock()
	return p.paused
}

// Shutdown cancels every active job and stops every worker, blocking
// until all worker goroutines have exited.
func (p *Pool) Shutdown() {
	p.cancel()
	p.mu.Lock()
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()
	for _, w := range workers {
		w.cancelCurrent()
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(w *worker) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-w.drain:
			return
		default:
		}

		if p.isPaused() {
			select {
			case <-p.ctx.Done():
				return
			case <-w.drain:
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		job, err := p.queue.Acquire(p.overwrite, calibrationCompatible)
		if err != nil {
			if errors.Is(err, ffdasherr.ErrQueueStopped) {
				return
			}
			logger.Warn("queue acquire failed", "worker_id", w.id, "error", err)
			continue
		}
		if job == nil {
			wait := p.queue.WaitForWork()
			select {
			case <-p.ctx.Done():
				return
			case <-w.drain:
				return
			case <-wait:
			case <-time.After(idlePoll):
			}
			continue
		}

		p.runJob(w, job)
	}
}

// calibrationCompatible is the dispatch-time gate deciding whether a
// job enters Calibrating or goes straight to Encoding, mirroring the
// Calibrator's own eligibility rule.
func calibrationCompatible(j *Job) bool {
	if j.Config.AutoVMAF == nil || !j.Config.AutoVMAF.Enabled {
		return false
	}
	switch j.Config.RateControl {
	case config.RateControlCQ:
		return true
	case config.RateControlCQCap:
		return j.Config.Backend == hwinventory.BackendSoftware
	case config.RateControlCQP:
		return j.Config.Backend == hwinventory.BackendVAAPI || j.Config.Backend == hwinventory.BackendQSV
	default:
		return false
	}
}

// scratchRoot returns the scratch directory for a job, rooted beside
// its input file: <input_dir>/.ffdash_tmp/<job_id>/.
func scratchRoot(inputPath, jobID string) string {
	return filepath.Join(filepath.Dir(inputPath), scratchDirName, jobID)
}

// containerKindFromPath infers the output container from its
// extension, for subtitle-copy policy (WebM cannot carry image-based
// subtitles).
func containerKindFromPath(path string) ffmpeg.ContainerKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return ffmpeg.ContainerWebM
	case ".mkv":
		return ffmpeg.ContainerMatroska
	case ".mp4", ".m4v":
		return ffmpeg.ContainerMP4
	default:
		return ffmpeg.ContainerOther
	}
}

// runJob drives one job through its full per-job lifecycle. The job
// arrives already transitioned to Calibrating or Encoding by
// Queue.Acquire.
func (p *Pool) runJob(w *worker, job *Job) {
	jobCtx, jobCancel := context.WithCancel(p.ctx)
	w.setCurrent(job, jobCancel)
	defer func() {
		jobCancel()
		w.clearCurrent()
	}()

	logger.Info("job dispatched", "job_id", job.ID, "input", job.InputPath, "status", job.Status)

	scratch := scratchRoot(job.InputPath, job.ID)

	if job.Status == StatusCalibrating {
		result, err := p.calibrator.Calibrate(jobCtx, job.Input, &job.Config, job.ID, filepath.Dir(scratch),
			func(iteration int, score float64) {
				p.queue.PublishCalibrationProgress(job.ID, iteration, score)
			})
		if err != nil {
			if jobCtx.Err() != nil {
				logger.Info("calibration cancelled", "job_id", job.ID)
				_ = p.queue.Requeue(job.ID)
				return
			}
			logger.Error("calibration failed", "job_id", job.ID, "error", err)
			_ = p.queue.Finish(job.ID, StatusFailed, err.Error(), nil)
			return
		}

		if err := p.queue.ApplyCalibration(job.ID, result); err != nil {
			logger.Warn("failed to persist calibration result", "job_id", job.ID, "error", err)
		}
		if result.TargetNotMet {
			logger.Warn("calibration shortfall, using best-seen quality", "job_id", job.ID,
				"quality", result.Quality, "measured_vmaf", result.MeasuredVMAF, "iterations", result.Iterations)
		}
		if err := p.queue.BeginEncoding(job.ID); err != nil {
			logger.Error("failed to transition to encoding", "job_id", job.ID, "error", err)
			_ = p.queue.Finish(job.ID, StatusFailed, err.Error(), nil)
			return
		}
	}

	if err := p.encode(jobCtx, job, scratch); err != nil {
		if jobCtx.Err() != nil {
			logger.Info("encode cancelled", "job_id", job.ID)
			_ = p.queue.Requeue(job.ID)
			return
		}
		var runnerErr *ffdasherr.RunnerError
		var tail []string
		if errors.As(err, &runnerErr) {
			tail = runnerErr.Tail
		}
		logger.Error("encode failed", "job_id", job.ID, "error", err)
		_ = p.queue.Finish(job.ID, StatusFailed, err.Error(), tail)
		return
	}

	logger.Info("job complete", "job_id", job.ID, "output", job.OutputPath)
	_ = p.queue.Finish(job.ID, StatusDone, "", nil)
}

// encode runs the full-file encode, taking the two-pass rate-control
// mode's extra first pass into account.
func (p *Pool) encode(ctx context.Context, job *Job, scratch string) error {
	release, err := p.acquireHWDevice(ctx, job)
	if err != nil {
		return err
	}
	defer release()

	container := containerKindFromPath(job.OutputPath)
	progressDuration := secondsToDuration(job.Input.Duration)

	if job.Config.RateControl == config.RateControlTwoPassVBR {
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		passLog := filepath.Join(scratch, "passlog")
		firstArgs, err := ffmpeg.Build(job.Input, &job.Config, ffmpeg.Pass{
			Kind:        ffmpeg.PassFirst,
			PassLogPath: passLog,
		}, p.inv)
		if err != nil {
			return err
		}
		if _, err := p.runner.Run(ctx, firstArgs, "", progressDuration, nil); err != nil {
			return fmt.Errorf("first pass: %w", err)
		}

		secondArgs, err := ffmpeg.Build(job.Input, &job.Config, ffmpeg.Pass{
			Kind:            ffmpeg.PassSecond,
			PassLogPath:     passLog,
			OutputPath:      job.OutputPath,
			OutputContainer: container,
		}, p.inv)
		if err != nil {
			return err
		}
		sink := make(chan ffmpeg.Progress, 1)
		go p.drainProgress(job.ID, sink)
		_, err = p.runner.Run(ctx, secondArgs, job.OutputPath, progressDuration, sink)
		return err
	}

	args, err := ffmpeg.Build(job.Input, &job.Config, ffmpeg.Pass{
		Kind:            ffmpeg.PassSingle,
		OutputPath:      job.OutputPath,
		OutputContainer: container,
	}, p.inv)
	if err != nil {
		return err
	}
	sink := make(chan ffmpeg.Progress, 1)
	go p.drainProgress(job.ID, sink)
	_, err = p.runner.Run(ctx, args, job.OutputPath, progressDuration, sink)
	return err
}

// drainProgress forwards every sample off a Runner's progress channel
// onto the Queue, which publishes it unpersisted. Returns once sink is
// closed by the Runner.
func (p *Pool) drainProgress(jobID string, sink chan ffmpeg.Progress) {
	for sample := range sink {
		p.queue.UpdateProgress(jobID, sample)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
