package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/vurun/internal/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "per-vu-iterations" - Each VU runs a fixed number of iterations
//   - "shared-iterations" - VUs share a fixed total of iterations
//   - "ramping-vus" - VU count follows stages
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	case TypeSharedIterations:
		return NewSharedIterations(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// FromExecutionConfig converts the execution section of a test file.
func FromExecutionConfig(name string, ec config.ExecutionConfig) *Config {
	cfg := &Config{
		Name:             name,
		Type:             Type(ec.Executor),
		VUs:              ec.VUs,
		Duration:         ec.Duration.GetDuration(0),
		Iterations:       ec.Iterations,
		GracefulStop:     ec.GracefulStop.GetDuration(0),
		MaxIterationRate: ec.MaxIterationRate,
	}

	for _, st := range ec.Stages {
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: st.Duration.GetDuration(0),
			Target:   st.Target,
			Name:     st.Name,
		})
	}

	if ec.Pacing != nil {
		cfg.Pacing = &PacingConfig{
			Type:     PacingType(ec.Pacing.Type),
			Duration: ec.Pacing.Duration.GetDuration(0),
			Min:      ec.Pacing.Min.GetDuration(0),
			Max:      ec.Pacing.Max.GetDuration(0),
		}
	}

	return cfg
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypePerVUIterations, TypeSharedIterations, TypeRampingVUs:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeConstantVUs,
		TypePerVUIterations,
		TypeSharedIterations,
		TypeRampingVUs,
	}
}

// ExecutorDescription provides documentation for an executor type.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Description string
}

// GetExecutorDescription returns documentation for an executor type.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	switch executorType {
	case TypeConstantVUs:
		return &ExecutorDescription{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of VUs for a specified duration. Each VU runs as fast as it can (closed model).",
		}
	case TypePerVUIterations:
		return &ExecutorDescription{
			Type:        TypePerVUIterations,
			Name:        "Per VU Iterations",
			Description: "Each VU runs the same fixed number of iterations, then stops.",
		}
	case TypeSharedIterations:
		return &ExecutorDescription{
			Type:        TypeSharedIterations,
			Name:        "Shared Iterations",
			Description: "A fixed total of iterations is shared by all VUs; a free VU takes the next one.",
		}
	case TypeRampingVUs:
		return &ExecutorDescription{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Ramps the VU count linearly between stage targets. VUs above the target finish their iteration and stop.",
		}
	default:
		return nil
	}
}
