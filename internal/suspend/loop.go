// Package suspend provides the blocking-style primitives virtual user scripts
// are written against: a per-user event loop, a single-waiter barrier and a
// cancellable sleep.
//
// Transport goroutines never call into script code directly. They Post events
// to the owning user's Loop and the user's own goroutine runs them while it is
// suspended, which keeps every script-visible side effect in program order.
package suspend

import (
	"context"
	"sync"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Loop is a per virtual user event queue
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
}

// NewLoop creates an empty event loop
func NewLoop() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop owner's goroutine. It returns false if the
// loop is closed and the event was dropped. Post on a nil loop runs fn inline.
func (l *Loop) Post(fn func()) bool {
	if l == nil {
		fn()
		return true
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain runs every queued event in posting order and returns how many ran.
// Events posted while draining run in the same call.
func (l *Loop) Drain() int {
	if l == nil {
		return 0
	}

	n := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Len returns the number of queued events
func (l *Loop) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close discards queued events, returning how many, and rejects further
// posts
func (l *Loop) Close() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.closed = true
	l.queue = nil
	return n
}

// Wait runs queued events until done is closed or ctx is cancelled.
// A cancelled context yields loaderr.ErrCancelled.
func (l *Loop) Wait(ctx context.Context, done <-chan struct{}) error {
	if l == nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return loaderr.ErrCancelled
		}
	}

	for {
		l.Drain()

		// done wins over a simultaneous wake-up
		select {
		case <-done:
			return nil
		default:
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return loaderr.ErrCancelled
		case <-l.notify:
		}
	}
}
