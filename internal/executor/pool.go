package executor

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/vurun/internal/vu"
)

const defaultGracefulStop = 30 * time.Second

// gateFactory returns the iteration gate of one user
type gateFactory func(user *vu.VirtualUser) func(ctx context.Context) bool

// pool holds the state shared by the VU based executors: a fixed set of
// users, each running iterations until its gate closes or the run stops.
type pool struct {
	config *Config

	startTime  time.Time
	activeVUs  atomic.Int32
	iterations atomic.Int64
	failed     atomic.Int64
	running    atomic.Bool
	aborted    atomic.Bool

	limiter *rate.Limiter

	stopCh   chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

func (p *pool) init(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	p.config = config
	p.stopCh = make(chan struct{})
	if config.MaxIterationRate > 0 {
		burst := int(config.MaxIterationRate)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.MaxIterationRate), burst)
	}
	return nil
}

// run spawns config.VUs users and blocks until all of them stopped
func (p *pool) run(ctx context.Context, scheduler *vu.Scheduler, gates gateFactory) error {
	p.mu.Lock()
	p.startTime = time.Now()
	p.mu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	logger := zap.L().With(zap.String("executor", string(p.config.Type)))
	logger.Debug("starting virtual users", zap.Int("vus", p.config.VUs))

	var g errgroup.Group
	for i := 0; i < p.config.VUs; i++ {
		user := scheduler.SpawnVU()
		opts := vu.RunOptions{
			Pacing:      p.pacing(),
			Gate:        gates(user),
			OnIteration: p.onIteration,
		}
		g.Go(func() error {
			p.activeVUs.Add(1)
			defer p.activeVUs.Add(-1)
			scheduler.RunVU(ctx, user, opts)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if p.config.Duration > 0 {
		t := time.NewTimer(p.config.Duration)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		<-done
		return ctx.Err()
	case <-deadline:
		logger.Debug("duration reached, stopping virtual users")
	case <-p.stopCh:
		logger.Debug("stop requested, stopping virtual users")
	}

	p.gracefulStop(ctx, scheduler, done, logger)
	return nil
}

// gracefulStop lets iterations finish, aborting whatever is still running
// once the graceful stop period expires
func (p *pool) gracefulStop(ctx context.Context, scheduler *vu.Scheduler, done <-chan struct{}, logger *zap.Logger) {
	scheduler.StopAllVUs()

	grace := p.config.GracefulStop
	if grace == 0 {
		grace = defaultGracefulStop
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-t.C:
		logger.Warn("graceful stop expired, aborting virtual users",
			zap.Duration("gracefulStop", grace),
			zap.Int("active", int(p.activeVUs.Load())))
	}
	p.aborted.Store(true)
	scheduler.AbortAllVUs()
	<-done
}

func (p *pool) onIteration(res vu.IterationResult) {
	p.iterations.Add(1)
	if res.Failed {
		p.failed.Add(1)
	}
}

// waitRate blocks until the global iteration rate allows another start
func (p *pool) waitRate(ctx context.Context) bool {
	if p.limiter == nil {
		return ctx.Err() == nil
	}
	return p.limiter.Wait(ctx) == nil
}

// pacing returns the pacing function of one user, nil without pacing
func (p *pool) pacing() func() time.Duration {
	cfg := p.config.Pacing
	if cfg == nil {
		return nil
	}
	switch cfg.Type {
	case PacingConstant:
		d := cfg.Duration
		return func() time.Duration { return d }
	case PacingRandom:
		lo, hi := cfg.Min, cfg.Max
		return func() time.Duration {
			if diff := hi - lo; diff > 0 {
				return lo + time.Duration(rand.Int63n(int64(diff)))
			}
			return lo
		}
	default:
		return nil
	}
}

func (p *pool) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *pool) stats() *Stats {
	p.mu.RLock()
	start := p.startTime
	p.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		StartTime:        start,
		CurrentTime:      time.Now(),
		Elapsed:          elapsed,
		TotalDuration:    p.config.TotalDuration(),
		ActiveVUs:        int(p.activeVUs.Load()),
		TargetVUs:        p.config.VUs,
		Iterations:       p.iterations.Load(),
		FailedIterations: p.failed.Load(),
		TotalIterations:  p.config.TotalIterations(),
		Aborted:          p.aborted.Load(),
	}
}

// timeProgress is the share of the configured duration already elapsed
func (p *pool) timeProgress() float64 {
	p.mu.RLock()
	start := p.startTime
	p.mu.RUnlock()

	if !p.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	total := p.config.TotalDuration()
	if total <= 0 {
		return 0.0
	}
	progress := float64(time.Since(start)) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// iterationProgress is the share of the iteration budget already used,
// or the time share when that is further along
func (p *pool) iterationProgress() float64 {
	total := p.config.TotalIterations()
	if total <= 0 {
		return p.timeProgress()
	}
	progress := float64(p.iterations.Load()) / float64(total)
	if t := p.timeProgress(); t > progress && p.config.Duration > 0 {
		progress = t
	}
	if !p.running.Load() && p.timeProgress() == 1.0 {
		return 1.0
	}
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}
