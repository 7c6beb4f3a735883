// Package loop provides the single owner context that serializes overlay
// mutations, gesture callbacks and scheduled expiries.
//
// Work submitted with Post or Do runs one item at a time on the loop
// goroutine, in submission order. Callbacks scheduled with AfterFunc are
// delivered on the same goroutine, so they never run concurrently with
// other loop work.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

var (
	// ErrClosed is returned when work is submitted to a closed loop.
	ErrClosed = errors.New("loop closed")
	// ErrPanicked is returned by Do when f panics.
	ErrPanicked = errors.New("loop callback panicked")
)

// Scheduler schedules a callback after a delay. The returned cancel
// function reports whether the callback was prevented from running.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// Loop is a serial executor.
type Loop struct {
	queue   chan func()
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
}

// New starts a loop with the given queue depth.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = 64
	}
	l := &Loop{
		queue:   make(chan func(), depth),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case f := <-l.queue:
			l.invoke(f)
		}
	}
}

func (l *Loop) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("loop").Error().
				Interface("panic", r).
				Msg("Recovered panic in loop callback")
		}
	}()
	f()
}

// Post enqueues f without waiting for it to run.
func (l *Loop) Post(f func()) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- f:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Do runs f on the loop and waits for its result. If ctx ends before f
// starts, f is skipped and ctx.Err() is returned; once f has started, Do
// waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func() error) error {
	var claimed atomic.Bool
	result := make(chan error, 1)
	err := l.Post(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		sent := false
		defer func() {
			if !sent {
				result <- ErrPanicked
			}
		}()
		err := f()
		sent = true
		result <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
	case <-l.stopped:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-l.stopped:
		return ErrClosed
	}
}

// AfterFunc schedules f to run on the loop after d. Calling the returned
// cancel function from the loop guarantees f will not run afterwards.
func (l *Loop) AfterFunc(d time.Duration, f func()) func() bool {
	var (
		mu       sync.Mutex
		canceled bool
		fired    bool
	)
	timer := time.AfterFunc(d, func() {
		_ = l.Post(func() {
			mu.Lock()
			if canceled {
				mu.Unlock()
				return
			}
			fired = true
			mu.Unlock()
			f()
		})
	})
	return func() bool {
		timer.Stop()
		mu.Lock()
		defer mu.Unlock()
		if fired || canceled {
			return false
		}
		canceled = true
		return true
	}
}

// Close stops the loop. Pending work is discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	<-l.stopped
}
