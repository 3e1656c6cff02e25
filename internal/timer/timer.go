// Package timer implements script timers whose callbacks run on the owning
// virtual user's loop.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
)

type state int

const (
	idle state = iota
	running
	fired
	stopped
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case running:
		return "running"
	case fired:
		return "fired"
	default:
		return "stopped"
	}
}

// Timer fires a callback once (StartTimeout) or repeatedly (StartInterval)
type Timer struct {
	callback func()
	delay    time.Duration
	loop     *suspend.Loop

	// waits go through the barrier, so only one can be outstanding
	barrier *suspend.Barrier

	mu     sync.Mutex
	state  state
	timer  *time.Timer
	ticker *time.Ticker
	stopCh chan struct{}
}

// New creates a timer. A nil loop runs the callback on the timer goroutine.
func New(callback func(), delay time.Duration, loop *suspend.Loop) (*Timer, error) {
	if delay <= 0 {
		return nil, loaderr.Configf("delay", "delay must be positive, got %v", delay)
	}
	if callback == nil {
		callback = func() {}
	}
	return &Timer{
		callback: callback,
		delay:    delay,
		loop:     loop,
		barrier:  suspend.NewBarrier(loop),
	}, nil
}

// Delay returns the configured delay
func (t *Timer) Delay() time.Duration { return t.delay }

func (t *Timer) stateError(op string) error {
	return &loaderr.StateError{Subject: "timer", State: t.state.String(), Op: op}
}

// StartTimeout fires the callback once after the delay
func (t *Timer) StartTimeout() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != idle {
		return t.stateError("start")
	}
	t.state = running
	t.timer = time.AfterFunc(t.delay, func() {
		t.loop.Post(func() {
			t.mu.Lock()
			if t.state != running {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()

			t.callback()

			t.mu.Lock()
			defer t.mu.Unlock()
			if t.state == running {
				t.state = fired
				t.barrier.Resolve(nil)
			}
		})
	})
	return nil
}

// StartInterval fires the callback every delay until Stop
func (t *Timer) StartInterval() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != idle {
		return t.stateError("start")
	}
	t.state = running
	t.ticker = time.NewTicker(t.delay)
	t.stopCh = make(chan struct{})

	go func(ticker *time.Ticker, stop <-chan struct{}) {
		for {
			select {
			case <-ticker.C:
				t.loop.Post(func() {
					if t.running() {
						t.callback()
					}
				})
			case <-stop:
				return
			}
		}
	}(t.ticker, t.stopCh)
	return nil
}

func (t *Timer) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == running
}

// Stop clears the timer. A pending Wait returns ErrCancelled. Stopping an
// already cleared timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case idle:
		t.state = stopped
	case running:
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.ticker != nil {
			t.ticker.Stop()
			close(t.stopCh)
		}
		t.state = stopped
		t.barrier.Cancel()
	}
}

// Wait suspends until the timer is cleared: nil once a timeout has fired,
// ErrCancelled when it is stopped while waiting. Waiting on a stopped or
// never started timer is a StateError, and a second concurrent Wait fails
// with ErrBarrierConflict.
func (t *Timer) Wait(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case fired:
		t.mu.Unlock()
		return nil
	case idle, stopped:
		defer t.mu.Unlock()
		return t.stateError("wait on")
	}
	h, err := t.barrier.Arm(0)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = h.Await(ctx)
	return err
}
