// Package executor provides load generation strategies that drive virtual
// users through a vu.Scheduler.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/vu"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeSharedIterations shares a total iteration count across VUs.
	TypeSharedIterations Type = "shared-iterations"

	// TypeRampingVUs ramps the VU count up and down through stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run spawns the users and blocks until they have all stopped.
	// Cancelling ctx aborts running iterations; Stop ends the run gracefully.
	Run(ctx context.Context, scheduler *vu.Scheduler) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor statistics.
	GetStats() *Stats

	// Stop lets running iterations finish within the graceful stop period,
	// then aborts the rest. It does not wait.
	Stop()
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`
	// Duration is the run time of constant-vus and an upper bound for the
	// iteration executors. Zero means no bound.
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Stages (for ramping-vus)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxIterationRate caps iteration starts per second across all VUs
	MaxIterationRate float64 `json:"maxIterationRate,omitempty" yaml:"maxIterationRate,omitempty"`

	// Pacing between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional label shown in progress output
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iteration stats
	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`
	TotalIterations  int64 `json:"totalIterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages,omitempty"`

	// Aborted is set when the graceful stop period expired
	Aborted bool `json:"aborted"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.VUs <= 0 && c.Type != TypeRampingVUs {
		return &ValidationError{Field: "vus", Message: "vus must be > 0"}
	}
	if c.Duration < 0 {
		return &ValidationError{Field: "duration", Message: "duration must not be negative"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must not be negative"}
	}
	if c.MaxIterationRate < 0 {
		return &ValidationError{Field: "maxIterationRate", Message: "maxIterationRate must not be negative"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypePerVUIterations, TypeSharedIterations:
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, stage := range c.Stages {
			if stage.Duration <= 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be > 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must not be negative"}
			}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if p := c.Pacing; p != nil {
		switch p.Type {
		case PacingNone, "":
		case PacingConstant:
			if p.Duration < 0 {
				return &ValidationError{Field: "pacing.duration", Message: "must not be negative"}
			}
		case PacingRandom:
			if p.Min < 0 || p.Max < p.Min {
				return &ValidationError{Field: "pacing", Message: "random pacing needs 0 <= min <= max"}
			}
		default:
			return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
		}
	}

	return nil
}

// TotalDuration returns the configured bound on the run, zero when the run
// ends only by completing its iterations.
func (c *Config) TotalDuration() time.Duration {
	if c.Type == TypeRampingVUs {
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	}
	return c.Duration
}

// MaxVUs returns the highest number of VUs the run can reach
func (c *Config) MaxVUs() int {
	if c.Type != TypeRampingVUs {
		return c.VUs
	}
	highest := 0
	for _, stage := range c.Stages {
		if stage.Target > highest {
			highest = stage.Target
		}
	}
	return highest
}

// TotalIterations returns the number of iterations the run will attempt,
// zero when it is time bound.
func (c *Config) TotalIterations() int64 {
	switch c.Type {
	case TypePerVUIterations:
		return c.Iterations * int64(c.VUs)
	case TypeSharedIterations:
		return c.Iterations
	default:
		return 0
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return loaderr.ErrConfiguration
}
