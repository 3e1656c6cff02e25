package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/vurun/internal/vu"
)

// PerVUIterations runs each VU for exactly Iterations iterations. A user
// that stops or aborts early gives up the rest of its share.
type PerVUIterations struct {
	pool
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	if config.Type != TypePerVUIterations {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypePerVUIterations, config.Type)
	}
	return e.init(config)
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *vu.Scheduler) error {
	return e.run(ctx, scheduler, func(*vu.VirtualUser) func(context.Context) bool {
		// gates are called from the user's own goroutine only
		var started int64
		return func(ctx context.Context) bool {
			if started >= e.config.Iterations {
				return false
			}
			if !e.waitRate(ctx) {
				return false
			}
			started++
			return true
		}
	})
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *PerVUIterations) GetProgress() float64 {
	return e.iterationProgress()
}

// GetActiveVUs returns current active VU count.
func (e *PerVUIterations) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	return e.stats()
}

// Stop gracefully stops the executor.
func (e *PerVUIterations) Stop() {
	e.stop()
}

var _ Executor = (*PerVUIterations)(nil)
