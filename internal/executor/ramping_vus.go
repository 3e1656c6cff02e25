package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/vurun/internal/vu"
)

// rampInterval is how often the VU count is adjusted
var rampInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// VU counts are interpolated linearly between the targets of consecutive
// stages, starting from zero. Users above the current target are asked to
// stop and finish their running iteration first.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	pool

	targetVUs    atomic.Int32
	currentStage atomic.Int32

	vusMu sync.Mutex
	vus   []*vu.VirtualUser
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	return e.init(config)
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *vu.Scheduler) error {
	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	logger := zap.L().With(zap.String("executor", string(TypeRampingVUs)))
	logger.Debug("ramping virtual users",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.config.TotalDuration()))

	var g errgroup.Group
	ctrlCtx, cancelCtrl := context.WithCancel(ctx)
	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		e.vuController(ctrlCtx, ctx, scheduler, &g)
	}()

	deadline := time.NewTimer(e.config.TotalDuration())
	defer deadline.Stop()

	interrupted := false
	select {
	case <-ctx.Done():
		interrupted = true
	case <-deadline.C:
		logger.Debug("last stage finished, stopping virtual users")
	case <-e.stopCh:
		logger.Debug("stop requested, stopping virtual users")
	}

	// no VU is spawned once the controller has returned
	cancelCtrl()
	<-controllerDone

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	if interrupted {
		<-done
		return ctx.Err()
	}
	e.gracefulStop(ctx, scheduler, done, logger)
	return nil
}

// vuController adjusts the VU count until ctrlCtx ends. Users run on runCtx.
func (e *RampingVUs) vuController(ctrlCtx, runCtx context.Context, scheduler *vu.Scheduler, g *errgroup.Group) {
	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()

	for {
		target := e.calculateTargetVUs(e.elapsed())
		e.targetVUs.Store(int32(target))
		e.adjustVUs(runCtx, scheduler, g, target)

		select {
		case <-ctrlCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *RampingVUs) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return time.Since(e.startTime)
}

// calculateTargetVUs calculates the target VU count based on elapsed time.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	// Past all stages - return last target
	if n := len(e.config.Stages); n > 0 {
		e.currentStage.Store(int32(n - 1))
		return e.config.Stages[n-1].Target
	}
	return 0
}

// adjustVUs spawns or stops users to match the target.
func (e *RampingVUs) adjustVUs(ctx context.Context, scheduler *vu.Scheduler, g *errgroup.Group, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			user := scheduler.SpawnVU()
			e.vus = append(e.vus, user)
			opts := vu.RunOptions{
				Pacing:      e.pacing(),
				Gate:        e.waitRate,
				OnIteration: e.onIteration,
			}
			g.Go(func() error {
				e.activeVUs.Add(1)
				defer e.activeVUs.Add(-1)
				scheduler.RunVU(ctx, user, opts)
				return nil
			})
		}
	case target < current:
		// Stop excess VUs (from the end)
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := e.stats()
	stats.TargetVUs = int(e.targetVUs.Load())

	idx := int(e.currentStage.Load())
	stats.CurrentStage = idx
	stats.TotalStages = len(e.config.Stages)
	if idx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[idx].Name
	}
	return stats
}

// Stop gracefully stops the executor.
func (e *RampingVUs) Stop() {
	e.stop()
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
