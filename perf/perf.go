package perf

import (
	"context"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/engine"
	vhttp "github.com/wesleyorama2/vurun/internal/http"
	"github.com/wesleyorama2/vurun/internal/metrics"
	"github.com/wesleyorama2/vurun/internal/transaction"
	"github.com/wesleyorama2/vurun/internal/vu"
)

// Configuration types
type (
	TestConfig       = config.TestConfig
	GlobalSettings   = config.GlobalSettings
	ExecutionConfig  = config.ExecutionConfig
	PacingConfig     = config.PacingConfig
	ThresholdsConfig = config.ThresholdsConfig
	Duration         = config.Duration

	ScriptConfig  = config.ScriptConfig
	ActionConfig  = config.ActionConfig
	StepConfig    = config.StepConfig
	RequestConfig = config.RequestConfig
)

// Script types
type (
	Script      = vu.Script
	Context     = vu.Context
	Callback    = vu.Callback
	ExitType    = vu.ExitType
	Credentials = vu.Credentials

	RequestOptions = vhttp.RequestOptions
)

// Result types
type (
	TestResult      = engine.TestResult
	ThresholdResult = engine.ThresholdResult
	Snapshot        = metrics.Snapshot
)

// Exit kinds for Context.Exit
const (
	ExitIteration = vu.ExitIteration
	ExitStop      = vu.ExitStop
	ExitAbort     = vu.ExitAbort
)

// Transaction statuses for Transaction.Stop
const (
	Passed = transaction.Passed
	Failed = transaction.Failed
)

// NewScript returns an empty script
func NewScript() *Script {
	return vu.NewScript()
}

// LoadConfig reads and validates a YAML or JSON test file
func LoadConfig(path string) (*TestConfig, error) {
	return config.LoadConfig(path)
}

// Option configures a Runner
type Option = engine.Option

// WithScript runs script instead of the steps of the configuration
func WithScript(script *Script) Option {
	return engine.WithScript(script)
}

// WithScriptPath records where the script lives; virtual users see it in
// Context.Config().Script
func WithScriptPath(path string) Option {
	return engine.WithScriptPath(path)
}

// WithCredentials sets the provider used by Context.Unmask and Context.Decrypt
func WithCredentials(c Credentials) Option {
	return engine.WithCredentials(c)
}

// Runner runs one test. A Runner is not reusable.
type Runner struct {
	cfg  *TestConfig
	opts []Option
	eng  *engine.Engine
}

// NewRunner creates a runner. Validation happens in Run.
func NewRunner(cfg *TestConfig, opts ...Option) *Runner {
	return &Runner{cfg: cfg, opts: opts}
}

// Run executes the test and returns its results. Cancelling ctx aborts
// every virtual user; Stop ends the run gracefully.
func (r *Runner) Run(ctx context.Context) (*TestResult, error) {
	eng, err := engine.NewEngine(r.cfg, r.opts...)
	if err != nil {
		return nil, err
	}
	r.eng = eng
	return eng.Run(ctx)
}

// Stop asks running iterations to finish and ends the run.
func (r *Runner) Stop() {
	if r.eng != nil {
		r.eng.Stop()
	}
}

// GetMetrics returns the current metrics snapshot, nil before Run.
func (r *Runner) GetMetrics() *Snapshot {
	if r.eng == nil {
		return nil
	}
	return r.eng.GetMetrics()
}

// RunTest runs cfg with the steps of its script section.
func RunTest(ctx context.Context, cfg *TestConfig) (*TestResult, error) {
	return NewRunner(cfg).Run(ctx)
}
