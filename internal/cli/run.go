package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/engine"
	"github.com/wesleyorama2/vurun/internal/output"
)

// ErrThresholdsFailed is returned by the run command when the test ran but
// did not pass its thresholds.
var ErrThresholdsFailed = errors.New("thresholds failed")

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a test file",
		Long: `Run a load test. Execution settings from the file can be overridden
with flags or VURUN_VUS, VURUN_DURATION, VURUN_ITERATIONS and VURUN_EXECUTOR.

Ctrl-C stops the test gracefully: running iterations get the graceful stop
period to finish. A second Ctrl-C aborts immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "test file (YAML or JSON)")
	flags.String("executor", "", "override the executor type")
	flags.Int("vus", 0, "override the number of virtual users")
	flags.String("duration", "", "override the test duration, e.g. 30s or 5m")
	flags.Int64("iterations", 0, "override the iteration count")
	flags.StringP("out", "o", "", "write the result to a .json or .yaml file")
	flags.BoolP("quiet", "q", false, "only print PASSED or FAILED")
	flags.Bool("no-color", false, "disable colored output")
	for _, name := range []string{"executor", "vus", "duration", "iterations"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

func runTest(cmd *cobra.Command, v *viper.Viper) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return fmt.Errorf("--config is required")
	}
	outPath, _ := cmd.Flags().GetString("out")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg, err := readTestFile(path)
	if err != nil {
		return err
	}
	if err := applyOverrides(v, cfg); err != nil {
		return err
	}

	logger := initLogger(v, cfg.Logger)

	eng, err := engine.NewEngine(cfg, engine.WithScriptPath(path), engine.WithLogger(logger))
	if err != nil {
		return err
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:     cfg.Name,
		ExecutorType: cfg.Execution.Executor,
		Writer:       cmd.OutOrStdout(),
		Quiet:        quiet,
		NoColor:      noColor,
	})
	console.PrintHeader()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopOnSignal(ctx, eng, cancel, logger)

	done := make(chan struct{})
	var result *engine.TestResult
	var runErr error
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	reportProgress(done, eng, console, quiet)

	if result == nil {
		return runErr
	}
	console.PrintSummary(result)

	if outPath != "" {
		if err := output.WriteResultFile(outPath, result); err != nil {
			return err
		}
		logger.Info("Result written", zap.String("path", outPath))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if !result.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// readTestFile parses without validating so overrides can complete the
// execution section first. NewEngine validates.
func readTestFile(path string) (*config.TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return config.ParseConfig(data, path)
}

func applyOverrides(v *viper.Viper, cfg *config.TestConfig) error {
	if s := v.GetString("executor"); s != "" {
		cfg.Execution.Executor = s
	}
	if n := v.GetInt("vus"); n > 0 {
		cfg.Execution.VUs = n
	}
	if n := v.GetInt64("iterations"); n > 0 {
		cfg.Execution.Iterations = n
	}
	if s := v.GetString("duration"); s != "" {
		d, err := config.ParseDurationString(s)
		if err != nil {
			return fmt.Errorf("invalid --duration: %w", err)
		}
		cfg.Execution.Duration = config.Duration(d)
	}
	return nil
}

// stopOnSignal stops the engine gracefully on the first interrupt and
// cancels ctx, aborting every virtual user, on the second.
func stopOnSignal(ctx context.Context, eng *engine.Engine, abort context.CancelFunc, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Warn("Interrupted, stopping virtual users gracefully (interrupt again to abort)")
			eng.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			logger.Warn("Interrupted again, aborting")
			abort()
		case <-ctx.Done():
		}
	}()
}

func reportProgress(done <-chan struct{}, eng *engine.Engine, console *output.ConsoleOutput, quiet bool) {
	interval := time.Second
	if !console.IsTTY() {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			stats := output.StatsFromRun(eng.GetStats(), eng.GetMetrics(), eng.GetProgress())
			if console.IsTTY() {
				console.Update(stats)
			} else if !quiet {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}
