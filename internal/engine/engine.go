// Package engine is the orchestrator of a load test: it turns a test
// configuration into a script, drives it with an executor and evaluates
// thresholds against the collected metrics.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/executor"
	vhttp "github.com/wesleyorama2/vurun/internal/http"
	"github.com/wesleyorama2/vurun/internal/metrics"
	"github.com/wesleyorama2/vurun/internal/vu"
)

// Engine runs one test configuration.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config      *config.TestConfig
	script      *vu.Script
	scriptInfo  vu.ScriptInfo
	logger      *zap.Logger
	credentials vu.Credentials

	metricsEngine *metrics.Engine
	executor      executor.Executor
	mu            sync.RWMutex

	startTime time.Time
	running   bool
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Executor string          `json:"executor"`
	Stats    *executor.Stats `json:"stats"`

	Metrics *metrics.Snapshot `json:"metrics"`

	// Threshold evaluation
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error if the run itself failed
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// Option configures an Engine
type Option func(*Engine)

// WithScript runs a script registered in Go instead of the script section
// of the configuration.
func WithScript(script *vu.Script) Option {
	return func(e *Engine) { e.script = script }
}

// WithScriptPath records where the script or test file lives
func WithScriptPath(path string) Option {
	return func(e *Engine) {
		full, err := filepath.Abs(path)
		if err != nil {
			full = path
		}
		base := filepath.Base(full)
		e.scriptInfo = vu.ScriptInfo{
			Name:      strings.TrimSuffix(base, filepath.Ext(base)),
			Directory: filepath.Dir(full),
			FullPath:  full,
		}
	}
}

// WithLogger sets the logger handed to virtual users
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCredentials sets the provider behind Context.Unmask and Context.Decrypt
func WithCredentials(c vu.Credentials) Option {
	return func(e *Engine) { e.credentials = c }
}

// NewEngine validates cfg and prepares the script.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	e := &Engine{config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.L()
	}

	cfg.ApplyDefaults()

	if e.script != nil {
		if err := cfg.ValidateRunSettings(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		if err := e.script.Validate(); err != nil {
			return nil, fmt.Errorf("invalid script: %w", err)
		}
		return e, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	script, err := CompileScript(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	e.script = script
	return e, nil
}

// Run executes the test and returns its results. Cancelling ctx aborts the
// virtual users; Stop ends the run gracefully.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()

	execConfig := executor.FromExecutionConfig(e.config.Name, e.config.Execution)
	exec, err := executor.CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		e.running = false
		e.mu.Unlock()
		return nil, err
	}
	e.executor = exec
	e.metricsEngine = metrics.NewEngine()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))

	transport := vhttp.NewTransport(e.config.Settings.MaxIdleConnsPerHost, e.config.Settings.InsecureSkipVerify)
	headers := make(map[string]string, len(e.config.Settings.Headers)+1)
	if e.config.Settings.UserAgent != "" {
		headers["User-Agent"] = e.config.Settings.UserAgent
	}
	for k, v := range e.config.Settings.Headers {
		headers[k] = v
	}

	scheduler, err := vu.NewScheduler(vu.Options{
		Script:      e.script,
		Params:      e.config.Params,
		ScriptInfo:  e.scriptInfo,
		Sink:        e.metricsEngine,
		Logger:      logger,
		Transport:   transport,
		BaseURL:     e.config.Settings.BaseURL,
		Timeout:     e.config.Settings.Timeout.GetDuration(config.DefaultTimeout),
		Headers:     headers,
		Credentials: e.credentials,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("test started",
		zap.String("name", e.config.Name),
		zap.String("executor", string(exec.Type())),
		zap.Int("vus", execConfig.MaxVUs()))

	runErr := exec.Run(ctx, scheduler)
	scheduler.Shutdown(execConfig.GracefulStop)

	snapshot := e.metricsEngine.GetSnapshot()
	thresholds := EvaluateThresholds(e.config.Thresholds, snapshot)

	result := &TestResult{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     time.Now(),
		Duration:    time.Since(e.startTime),
		Executor:    string(exec.Type()),
		Stats:       exec.GetStats(),
		Metrics:     snapshot,
		Passed:      runErr == nil && AllPassed(thresholds),
		Thresholds:  thresholds,
		Error:       runErr,
	}
	if runErr != nil {
		result.ErrorMessage = runErr.Error()
	}

	logger.Info("test finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("iterations", snapshot.Iterations.Total),
		zap.Bool("passed", result.Passed))

	return result, runErr
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetSnapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the run gracefully: running iterations get the graceful stop
// period to finish.
func (e *Engine) Stop() {
	e.mu.RLock()
	exec := e.executor
	running := e.running
	e.mu.RUnlock()

	if running && exec != nil {
		exec.Stop()
	}
}

// GetProgress returns the test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0.0
	}
	return e.executor.GetProgress()
}

// GetStats returns the executor statistics, nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.GetStats()
}
