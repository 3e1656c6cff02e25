package suspend

import (
	"context"
	"sync"
	"time"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Barrier is an exclusive, reusable sync barrier. At most one Handle is
// outstanding at a time.
type Barrier struct {
	mu      sync.Mutex
	loop    *Loop
	current *Handle
}

// Handle is one armed wait on a Barrier
type Handle struct {
	barrier *Barrier
	done    chan struct{}
	timer   *time.Timer

	value interface{}
	err   error
}

// NewBarrier creates a barrier whose waiters run loop events while suspended
func NewBarrier(loop *Loop) *Barrier {
	return &Barrier{loop: loop}
}

// Arm creates a new outstanding handle. A timeout <= 0 waits without limit.
// Arming while another handle is outstanding fails with ErrBarrierConflict.
func (b *Barrier) Arm(timeout time.Duration) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		return nil, loaderr.ErrBarrierConflict
	}

	h := &Handle{
		barrier: b,
		done:    make(chan struct{}),
	}
	if timeout > 0 {
		h.timer = time.AfterFunc(timeout, func() {
			b.finish(h, nil, loaderr.ErrTimeout)
		})
	}
	b.current = h
	return h, nil
}

// Resolve completes the outstanding handle with value. It returns false when
// nothing was pending.
func (b *Barrier) Resolve(value interface{}) bool {
	return b.finish(nil, value, nil)
}

// Reject completes the outstanding handle with err
func (b *Barrier) Reject(err error) bool {
	return b.finish(nil, nil, err)
}

// Cancel completes the outstanding handle with ErrCancelled
func (b *Barrier) Cancel() bool {
	return b.finish(nil, nil, loaderr.ErrCancelled)
}

// Pending reports whether a handle is outstanding
func (b *Barrier) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// finish resolves target, or whatever is current when target is nil.
// First resolution wins.
func (b *Barrier) finish(target *Handle, value interface{}, err error) bool {
	b.mu.Lock()
	h := b.current
	if h == nil || (target != nil && target != h) {
		b.mu.Unlock()
		return false
	}
	b.current = nil
	b.mu.Unlock()

	if h.timer != nil {
		h.timer.Stop()
	}
	h.value = value
	h.err = err
	close(h.done)
	return true
}

// Await suspends the caller until the handle is resolved, times out, or ctx
// is cancelled. Loop events posted meanwhile run on the caller's goroutine.
func (h *Handle) Await(ctx context.Context) (interface{}, error) {
	if err := h.barrier.loop.Wait(ctx, h.done); err != nil {
		h.barrier.finish(h, nil, loaderr.ErrCancelled)
		<-h.done
	}
	return h.value, h.err
}

// Done is closed once the handle is resolved
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Sleep suspends for d while running loop events. Only ctx cancellation cuts
// it short, in which case ErrCancelled is returned.
func Sleep(ctx context.Context, loop *Loop, d time.Duration) error {
	if d <= 0 {
		loop.Drain()
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			close(done)
		case <-ctx.Done():
		}
	}()

	return loop.Wait(ctx, done)
}
