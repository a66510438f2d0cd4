// Package eventbus fans a Queue's lifecycle events out to any number of
// subscribers, coalescing progress samples so a slow consumer never
// builds up a backlog of stale samples for the same job.
package eventbus

import (
	"sync"

	"github.com/bcherb2/ffdash/internal/jobs"
)

// subscriberBuffer is the non-progress event channel's capacity, sized
// like the teacher's Subscribe buffer; full channels drop the event
// rather than block the publisher.
const subscriberBuffer = 100

// Bus implements jobs.EventSink, fanning a single published event out
// to every live subscriber ("single-producer-per-event,
// multi-consumer"). Grounded on the subscribers/broadcast pattern
// inlined in the teacher's Queue, pulled out to its own package and
// given per-job progress coalescing instead of a flat full-channel drop.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

type subscriber struct {
	out  chan jobs.Event
	done chan struct{}

	pendingMu sync.Mutex
	pending   map[string]jobs.Event // job id -> latest coalesced ProgressSample
	wake      chan struct{}
}

// Subscribe returns a channel receiving every non-progress event as
// published, plus at most one pending ProgressSample per job at a time:
// if a new sample for a job arrives before the consumer has drained the
// previous one, it replaces it rather than queuing behind it.
func (b *Bus) Subscribe() <-chan jobs.Event {
	s := &subscriber{
		out:     make(chan jobs.Event, subscriberBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]jobs.Event),
		wake:    make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s.out
}

// Unsubscribe stops delivery to ch and closes it. ch must be a channel
// previously returned by Subscribe.
func (b *Bus) Unsubscribe(ch <-chan jobs.Event) {
	b.mu.Lock()
	var found *subscriber
	for s := range b.subs {
		if s.out == ch {
			found = s
			delete(b.subs, s)
			break
		}
	}
	b.mu.Unlock()

	if found != nil {
		close(found.done)
	}
}

// Publish implements jobs.EventSink. ProgressSample events are coalesced
// per job per subscriber; every other kind is delivered as published,
// dropped only if the subscriber's channel is full.
func (b *Bus) Publish(e jobs.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if e.Kind == jobs.EventProgressSample && e.Job != nil {
			s.coalesce(e)
			continue
		}
		select {
		case s.out <- e:
		default:
		}
	}
}

// coalesce replaces any pending sample for this job and wakes the pump.
func (s *subscriber) coalesce(e jobs.Event) {
	s.pendingMu.Lock()
	s.pending[e.Job.ID] = e
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains coalesced progress samples into out whenever woken, until
// the subscriber is unsubscribed.
func (s *subscriber) pump() {
	for {
		select {
		case <-s.done:
			close(s.out)
			return
		case <-s.wake:
			s.pendingMu.Lock()
			batch := s.pending
			s.pending = make(map[string]jobs.Event)
			s.pendingMu.Unlock()

			for _, e := range batch {
				select {
				case s.out <- e:
				default:
				}
			}
		}
	}
}
