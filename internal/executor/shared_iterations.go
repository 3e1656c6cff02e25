package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wesleyorama2/vurun/internal/vu"
)

// SharedIterations runs Iterations iterations in total, taken by whichever
// VU is free first. Faster users end up running more of them.
type SharedIterations struct {
	pool
	claimed atomic.Int64
}

// NewSharedIterations creates a new shared iterations executor.
func NewSharedIterations() *SharedIterations {
	return &SharedIterations{}
}

// Type returns the executor type.
func (e *SharedIterations) Type() Type {
	return TypeSharedIterations
}

// Init initializes the executor with configuration.
func (e *SharedIterations) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeSharedIterations {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeSharedIterations, config.Type)
	}
	return e.init(config)
}

// Run starts the executor and blocks until completion.
func (e *SharedIterations) Run(ctx context.Context, scheduler *vu.Scheduler) error {
	return e.run(ctx, scheduler, func(*vu.VirtualUser) func(context.Context) bool {
		return func(ctx context.Context) bool {
			if e.claimed.Add(1) > e.config.Iterations {
				return false
			}
			if !e.waitRate(ctx) {
				// hand the claim back for another user
				e.claimed.Add(-1)
				return false
			}
			return true
		}
	})
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *SharedIterations) GetProgress() float64 {
	return e.iterationProgress()
}

// GetActiveVUs returns current active VU count.
func (e *SharedIterations) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *SharedIterations) GetStats() *Stats {
	return e.stats()
}

// Stop gracefully stops the executor.
func (e *SharedIterations) Stop() {
	e.stop()
}

var _ Executor = (*SharedIterations)(nil)
