package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/vurun/internal/vu"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU runs iterations back to back (closed model), optionally with
// pacing between iterations. When the duration expires running iterations
// get the graceful stop period to finish.
type ConstantVUs struct {
	pool
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	return e.init(config)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *vu.Scheduler) error {
	return e.run(ctx, scheduler, func(*vu.VirtualUser) func(context.Context) bool {
		return e.waitRate
	})
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	return e.stats()
}

// Stop gracefully stops the executor.
func (e *ConstantVUs) Stop() {
	e.stop()
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
