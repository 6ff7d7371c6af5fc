package api

import (
	"sync"

	"github.com/deskcast/deskcast/internal/events"
)

// trackerQueueSize bounds the event backlog; the bus drops on overflow
// rather than blocking the session.
const trackerQueueSize = 64

// Tracker builds the status snapshot from session events. It decouples the
// status server from the session: the server only ever sees the tracker.
type Tracker struct {
	mu     sync.RWMutex
	status Status

	unsubs []func()
	done   chan struct{}
}

// NewTracker creates a tracker subscribed to session events on the bus.
func NewTracker(bus *events.Bus) *Tracker {
	t := &Tracker{
		status: Status{State: "idle"},
		done:   make(chan struct{}),
	}

	ch := make(chan any, trackerQueueSize)
	t.unsubs = append(t.unsubs,
		events.SubscribeToChannel[events.SessionStateChangedEvent](bus, ch),
		events.SubscribeToChannel[events.EncoderSelectedEvent](bus, ch),
		events.SubscribeToChannel[events.PlaybackStartedEvent](bus, ch),
	)
	go t.consume(ch)
	return t
}

func (t *Tracker) consume(ch <-chan any) {
	for {
		select {
		case <-t.done:
			return
		case raw := <-ch:
			t.apply(raw)
		}
	}
}

func (t *Tracker) apply(raw any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := raw.(type) {
	case events.SessionStateChangedEvent:
		t.status.State = e.State
	case events.EncoderSelectedEvent:
		t.status.Backend = e.Backend
	case events.PlaybackStartedEvent:
		t.status.Device = e.Device
		t.status.StreamURL = e.StreamURL
	}
}

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Close unsubscribes the tracker from the bus and stops its consumer.
func (t *Tracker) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	close(t.done)
}
