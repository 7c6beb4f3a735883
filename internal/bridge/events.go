// Package bridge carries session events out to the host application. There
// is at most one listener at a time; a new listener replaces the old one
// and events emitted while nobody listens are dropped.
package bridge

import (
	"sync"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

// DefaultBuffer is the per-listener queue depth
const DefaultBuffer = 32

// Events is a single-subscriber event channel
type Events struct {
	buffer int

	mu       sync.Mutex
	current  chan string
	sequence uint64
	dropped  uint64
}

// NewEvents creates an event channel with the given listener buffer
func NewEvents(buffer int) *Events {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Events{buffer: buffer}
}

// Subscribe makes the caller the listener, closing the previous listener's
// channel. The returned cancel function unsubscribes, and is a no-op if the
// listener was already replaced.
func (e *Events) Subscribe() (<-chan string, func()) {
	ch := make(chan string, e.buffer)

	e.mu.Lock()
	if e.current != nil {
		close(e.current)
		logger.WithComponent("bridge").Info().Msg("Event listener replaced")
	}
	e.current = ch
	e.sequence++
	seq := e.sequence
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.sequence == seq && e.current == ch {
				close(ch)
				e.current = nil
			}
		})
	}
	return ch, cancel
}

// Emit delivers event to the listener without blocking
func (e *Events) Emit(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := logger.WithComponent("bridge")
	if e.current == nil {
		e.dropped++
		log.Debug().Str("event", event).Msg("No listener, dropping event")
		return
	}
	select {
	case e.current <- event:
		log.Debug().Str("event", event).Msg("Event emitted")
	default:
		e.dropped++
		log.Warn().Str("event", event).Msg("Listener is not keeping up, dropping event")
	}
}

// Listening reports whether a listener is subscribed
func (e *Events) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Dropped returns the number of events that reached no listener
func (e *Events) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
