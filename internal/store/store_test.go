package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/jobs"
)

// fakeProber stands in for ffmpeg.Prober without shelling out to
// ffprobe: it succeeds for any path present in ok, fails for anything
// else (a source that has since been deleted or moved).
type fakeProber struct {
	ok map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.Input, error) {
	if f.ok[path] {
		return &ffmpeg.Input{Path: path, Duration: 60}, nil
	}
	return nil, os.ErrNotExist
}

func newTestJob(t *testing.T, dir, name string, status jobs.Status) *jobs.Job {
	t.Helper()
	cfg, err := config.NewDefaultEncodeConfig()
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	job := jobs.NewJob(&ffmpeg.Input{Path: path, Duration: 60}, path+".ffdash.mkv", cfg)
	job.Status = status
	return job
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	job := newTestJob(t, dir, "movie.mkv", jobs.StatusDone)
	require.NoError(t, s.Save([]*jobs.Job{job}))

	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, job.ID, loaded[0].ID)
	assert.Equal(t, jobs.StatusDone, loaded[0].Status)
}

func TestStore_LoadOnMissingFileReturnsEmptyNotError(t *testing.T) {
	s := New(t.TempDir())
	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_LoadResetsActiveJobAndRehydratesInput(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	job := newTestJob(t, dir, "a.mkv", jobs.StatusEncoding)
	require.NoError(t, s.Save([]*jobs.Job{job}))

	loaded, err := s.Load(context.Background(), &fakeProber{ok: map[string]bool{job.InputPath: true}})
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	// A worker holding this job never finished, so crash recovery resets
	// it to Pending, and since the source still probes cleanly its Input
	// is rehydrated rather than left nil.
	assert.Equal(t, jobs.StatusPending, loaded[0].Status)
	assert.Nil(t, loaded[0].Progress)
	assert.True(t, loaded[0].StartedAt.IsZero())
	require.NotNil(t, loaded[0].Input)
	assert.Equal(t, job.InputPath, loaded[0].Input.Path)
}

func TestStore_LoadMarksPendingJobFailedWhenSourceVanished(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	job := newTestJob(t, dir, "gone.mkv", jobs.StatusPending)
	require.NoError(t, s.Save([]*jobs.Job{job}))

	// The fake prober has no entries, so every path fails to probe,
	// simulating a source deleted or moved since the job was queued.
	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, jobs.StatusFailed, loaded[0].Status, "a Pending job whose Input cannot be re-probed must not reach Acquire")
	assert.Nil(t, loaded[0].Input)
	assert.NotEmpty(t, loaded[0].FailureReason)
}

func TestStore_LoadSkipsReprobeForTerminalJobs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	job := newTestJob(t, dir, "done.mkv", jobs.StatusDone)
	require.NoError(t, s.Save([]*jobs.Job{job}))

	// No entry in ok: if Load re-probed a Done job it would fail it,
	// which must not happen.
	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, jobs.StatusDone, loaded[0].Status)
}

func TestStore_LoadIgnoresUnreadableLineButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte("not-json\n{\"id\":\"x\",\"input_path\":\"/nowhere\",\"status\":\"done\"}\n"), 0o644))

	s := New(dir)
	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "x", loaded[0].ID)
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	job := newTestJob(t, dir, "b.mkv", jobs.StatusDone)
	require.NoError(t, s.Save([]*jobs.Job{job}))

	// No leftover temp file once Save returns; writeOnce renames into
	// place rather than leaving a partial .tmp behind.
	_, err := os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful Save")

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

// TestStore_ConcurrentSaveLoadNeverObservesATornFile runs many
// concurrent Saves against the same directory while a reader keeps
// Loading, asserting every successful Load parses cleanly: writeOnce's
// tmp-file-then-rename sequencing means a concurrent reader never
// observes a half-written record.
func TestStore_ConcurrentSaveLoadNeverObservesATornFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	cfg, err := config.NewDefaultEncodeConfig()
	require.NoError(t, err)

	const writers = 4
	const saves = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < saves; i++ {
				path := filepath.Join(dir, fmt.Sprintf("writer-%d-%d.mkv", w, i))
				job := jobs.NewJob(&ffmpeg.Input{Path: path, Duration: 60}, path+".ffdash.mkv", cfg)
				job.Status = jobs.StatusDone
				assert.NoError(t, s.Save([]*jobs.Job{job}))
			}
		}(w)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.Load(context.Background(), &fakeProber{}); err != nil {
				t.Errorf("concurrent load failed: %v", err)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	assert.Len(t, loaded, 1, "the last writer's Save must fully replace the file")
}

func TestStore_SaveOverwritesPreviousContentCompletely(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	job1 := newTestJob(t, dir, "c.mkv", jobs.StatusDone)
	require.NoError(t, s.Save([]*jobs.Job{job1}))

	job2 := newTestJob(t, dir, "d.mkv", jobs.StatusDone)
	require.NoError(t, s.Save([]*jobs.Job{job2}))

	loaded, err := s.Load(context.Background(), &fakeProber{})
	require.NoError(t, err)
	require.Len(t, loaded, 1, "second Save must fully replace the file, not append")
	assert.Equal(t, job2.ID, loaded[0].ID)
}
