package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/jobs"
)

func recvWithin(t *testing.T, ch <-chan jobs.Event, d time.Duration) (jobs.Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(d):
		return jobs.Event{}, false
	}
}

func TestBus_PublishDeliversNonProgressEventsAsIs(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	b.Publish(jobs.Event{Kind: jobs.EventJobQueued, Job: &jobs.Job{ID: "j1"}})

	e, ok := recvWithin(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, jobs.EventJobQueued, e.Kind)
	assert.Equal(t, "j1", e.Job.ID)
}

func TestBus_ProgressSamplesCoalescePerJob(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	// Publish three samples for the same job back to back; the pump may
	// drain between any of them, but it must never deliver more samples
	// than were published, and the last one received must be the latest.
	for i := int64(1); i <= 3; i++ {
		b.Publish(jobs.Event{
			Kind:     jobs.EventProgressSample,
			Job:      &jobs.Job{ID: "j1"},
			Progress: &ffmpeg.Progress{Frame: i},
		})
	}

	var last *ffmpeg.Progress
	count := 0
	for {
		e, ok := recvWithin(t, ch, 200*time.Millisecond)
		if !ok {
			break
		}
		require.NotNil(t, e.Progress)
		last = e.Progress
		count++
	}
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.Frame, "the last coalesced sample delivered must be the freshest one")
	assert.LessOrEqual(t, count, 3, "coalescing must never deliver more samples than were published")
}

func TestBus_MultipleSubscribersEachReceiveTheEvent(t *testing.T) {
	b := New()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Publish(jobs.Event{Kind: jobs.EventJobFinished, Job: &jobs.Job{ID: "j2"}})

	_, ok1 := recvWithin(t, ch1, time.Second)
	_, ok2 := recvWithin(t, ch2, time.Second)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestBus_UnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after Unsubscribe")

	// Publishing after Unsubscribe must not panic or block.
	b.Publish(jobs.Event{Kind: jobs.EventJobQueued, Job: &jobs.Job{ID: "j3"}})
}
