// Package output renders live progress and the final summary of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/vurun/internal/engine"
	"github.com/wesleyorama2/vurun/internal/executor"
	"github.com/wesleyorama2/vurun/internal/metrics"
)

// ANSI cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	ruleWidth      = 56
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	Iterations       int64
	FailedIterations int64
	IterationRate    float64

	Transactions       int64
	FailedTransactions int64
}

// FailRate returns the iteration failure ratio
func (s *LiveStats) FailRate() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return float64(s.FailedIterations) / float64(s.Iterations)
}

// ConsoleOutput manages console output during test execution.
type ConsoleOutput struct {
	testName     string
	executorType string
	writer       io.Writer
	isTTY        bool
	colors       *ColorScheme
	quiet        bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName     string
	ExecutorType string
	Writer       io.Writer
	Quiet        bool
	NoColor      bool
	ForceColors  bool
	ForceTTY     bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors:
		colors = ForceColorScheme()
	case isTTY && supportsColors():
		colors = ForceColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &ConsoleOutput{
		testName:     config.TestName,
		executorType: config.ExecutorType,
		writer:       config.Writer,
		isTTY:        isTTY,
		colors:       colors,
		quiet:        config.Quiet,
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return checkIsTerminal(f)
	}
	return false
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.rule()
	c.writeln(c.colors.Title.Sprintf("%s - Running%s", c.testName, executorInfo))
	c.rule()
	c.writeln("")
}

// Update redraws the live display. It is a no-op when not writing to a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status for logs and CI.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d/%d | Iterations: %d | Rate: %.1f/s | Failed: %d (%.1f%%)",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.Iterations,
		stats.IterationRate,
		stats.FailedIterations,
		stats.FailRate()*100))
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))

	failColor := c.colors.rate(stats.FailRate())
	return []string{
		fmt.Sprintf("Progress:     %s %s | %s",
			c.colors.Progress.Sprint(bar),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Dim.Sprint(timeInfo)),
		fmt.Sprintf("VUs:          %s / %d", c.colors.Value.Sprint(stats.ActiveVUs), stats.TargetVUs),
		fmt.Sprintf("Iterations:   %s (%s/s)",
			c.colors.Value.Sprint(formatNumber(stats.Iterations)),
			c.colors.Value.Sprintf("%.1f", stats.IterationRate)),
		fmt.Sprintf("Failed:       %s (%s)",
			failColor.Sprint(formatNumber(stats.FailedIterations)),
			failColor.Sprintf("%.1f%%", stats.FailRate()*100)),
		fmt.Sprintf("Transactions: %s, %s failed",
			c.colors.Value.Sprint(formatNumber(stats.Transactions)),
			formatNumber(stats.FailedTransactions)),
	}
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	c.clearLive()

	status := c.colors.Pass.Sprint("Completed " + SuccessIcon(true))
	if !result.Passed {
		status = c.colors.Fail.Sprint("Failed " + ErrorIcon(true))
	}

	c.writeln("")
	c.rule()
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.rule()
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	if result.Stats != nil && result.Stats.Aborted {
		c.writeln(c.colors.Warn.Sprint("Graceful stop expired, remaining virtual users were aborted"))
	}
	if result.ErrorMessage != "" {
		c.writeln(fmt.Sprintf("Error:         %s", c.colors.Fail.Sprint(result.ErrorMessage)))
	}

	if m := result.Metrics; m != nil {
		c.printIterations(m.Iterations)
		c.printTransactions(m)
		c.printDataPoints(m)
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			icon := c.colors.Pass.Sprint(SuccessIcon(true))
			if !t.Passed {
				icon = c.colors.Fail.Sprint(ErrorIcon(true))
			}
			line := fmt.Sprintf("  %s %s %s", icon, t.Metric, t.Expression)
			if t.Value != "" {
				line += fmt.Sprintf(" (actual: %s)", t.Value)
			} else if t.Message != "" {
				line += fmt.Sprintf(" (%s)", t.Message)
			}
			c.writeln(line)
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) printIterations(it metrics.IterationStats) {
	failColor := c.colors.rate(it.FailRate)
	c.writeln(fmt.Sprintf("Iterations:    %s (%s/s)",
		c.colors.Value.Sprint(formatNumber(it.Total)),
		c.colors.Value.Sprintf("%.1f", it.Rate)))
	c.writeln(fmt.Sprintf("Failed:        %s (%s)",
		failColor.Sprint(formatNumber(it.Failed)),
		failColor.Sprintf("%.1f%%", it.FailRate*100)))
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Iteration Duration:"))
	c.writeln(fmt.Sprintf("  Min: %s  Avg: %s  P95: %s  Max: %s",
		formatDurationShort(it.Duration.Min),
		formatDurationShort(it.Duration.Mean),
		formatDurationShort(it.Duration.P95),
		formatDurationShort(it.Duration.Max)))
	c.writeln("")
}

func (c *ConsoleOutput) printTransactions(m *metrics.Snapshot) {
	names := m.TransactionNames()
	if len(names) == 0 {
		return
	}

	width := len("Transaction")
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}

	c.writeln(c.colors.Label.Sprint("Transactions:"))
	c.writeln(c.colors.Dim.Sprintf("  %-*s %8s %8s %9s %9s %9s", width, "Transaction", "Passed", "Failed", "Avg", "P95", "Max"))
	for _, name := range names {
		tx := m.Transactions[name]
		failed := fmt.Sprintf("%8s", formatNumber(tx.Failed))
		if tx.Failed > 0 {
			failed = c.colors.rate(tx.FailRate).Sprint(failed)
		}
		c.writeln(fmt.Sprintf("  %-*s %8s %s %9s %9s %9s", width, name,
			formatNumber(tx.Passed),
			failed,
			formatDurationShort(tx.Duration.Mean),
			formatDurationShort(tx.Duration.P95),
			formatDurationShort(tx.Duration.Max)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printDataPoints(m *metrics.Snapshot) {
	if len(m.DataPoints) == 0 {
		return
	}

	c.writeln(c.colors.Label.Sprint("Data Points:"))
	for _, name := range sortedKeys(m.DataPoints) {
		dp := m.DataPoints[name]
		c.writeln(fmt.Sprintf("  %s: count=%d avg=%.2f min=%.2f max=%.2f last=%.2f",
			name, dp.Count, dp.Mean(), dp.Min, dp.Max, dp.Last))
	}
	c.writeln("")
}

func (c *ConsoleOutput) clearLive() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) rule() {
	c.writeln(c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth)))
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromRun builds LiveStats from the executor stats and a metrics snapshot.
// Either may be nil before the run starts.
func StatsFromRun(stats *executor.Stats, snapshot *metrics.Snapshot, progress float64) *LiveStats {
	live := &LiveStats{Progress: progress}
	if stats != nil {
		live.Elapsed = stats.Elapsed
		live.ActiveVUs = stats.ActiveVUs
		live.TargetVUs = stats.TargetVUs
		live.Iterations = stats.Iterations
		live.FailedIterations = stats.FailedIterations
		if s := stats.Elapsed.Seconds(); s > 0 {
			live.IterationRate = float64(stats.Iterations) / s
		}
	}
	if snapshot != nil {
		for _, tx := range snapshot.Transactions {
			live.Transactions += tx.Count()
			live.FailedTransactions += tx.Failed
		}
	}

	if progress > 0 && progress < 1 {
		live.Remaining = time.Duration(float64(live.Elapsed) * (1 - progress) / progress)
	} else if stats != nil && stats.TotalDuration > live.Elapsed {
		live.Remaining = stats.TotalDuration - live.Elapsed
	}
	return live
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
