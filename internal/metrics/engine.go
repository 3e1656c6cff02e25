package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/vurun/internal/transaction"
)

// Engine collects transaction timings, custom data points and iteration
// outcomes reported by virtual users.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms are guarded by a mutex, since HDR histograms are not
// thread-safe.
type Engine struct {
	// Per-transaction histograms and pass/fail counters
	transactions   map[string]*transactionRecorder
	transactionsMu sync.Mutex

	dataPoints   map[string]*DataPointStats
	dataPointsMu sync.Mutex

	// Iteration duration histogram
	iterationHist   *hdrhistogram.Histogram
	iterationHistMu sync.Mutex

	totalIterations  atomic.Int64
	failedIterations atomic.Int64

	activeVUs atomic.Int32

	startTime time.Time
	config    EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

type transactionRecorder struct {
	hist   *hdrhistogram.Histogram
	passed int64
	failed int64
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		transactions:  make(map[string]*transactionRecorder),
		dataPoints:    make(map[string]*DataPointStats),
		iterationHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		startTime:     time.Now(),
		config:        config,
	}
}

func (e *Engine) micros(d time.Duration) int64 {
	v := d.Microseconds()
	if v < e.config.HistogramMin {
		v = e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		v = e.config.HistogramMax
	}
	return v
}

// ReportTransaction records an ended transaction. It implements
// transaction.Reporter.
func (e *Engine) ReportTransaction(rec transaction.Record) {
	e.transactionsMu.Lock()
	defer e.transactionsMu.Unlock()

	tr, ok := e.transactions[rec.Name]
	if !ok {
		tr = &transactionRecorder{
			hist: hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
		}
		e.transactions[rec.Name] = tr
	}

	tr.hist.RecordValue(e.micros(rec.Duration))
	if rec.Status == transaction.Failed {
		tr.failed++
	} else {
		tr.passed++
	}
}

// RecordDataPoint records a custom numeric value
func (e *Engine) RecordDataPoint(name string, value float64) {
	e.dataPointsMu.Lock()
	defer e.dataPointsMu.Unlock()

	dp, ok := e.dataPoints[name]
	if !ok {
		dp = &DataPointStats{Min: math.Inf(1), Max: math.Inf(-1)}
		e.dataPoints[name] = dp
	}
	dp.Count++
	dp.Sum += value
	dp.Last = value
	dp.Min = math.Min(dp.Min, value)
	dp.Max = math.Max(dp.Max, value)
}

// RecordIteration records one finished virtual user iteration
func (e *Engine) RecordIteration(duration time.Duration, failed bool) {
	e.iterationHistMu.Lock()
	e.iterationHist.RecordValue(e.micros(duration))
	e.iterationHistMu.Unlock()

	e.totalIterations.Add(1)
	if failed {
		e.failedIterations.Add(1)
	}
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// GetTransactionStats returns per-transaction statistics.
func (e *Engine) GetTransactionStats() map[string]TransactionStats {
	e.transactionsMu.Lock()
	defer e.transactionsMu.Unlock()

	result := make(map[string]TransactionStats, len(e.transactions))
	for name, tr := range e.transactions {
		stats := TransactionStats{
			Name:     name,
			Passed:   tr.passed,
			Failed:   tr.failed,
			Duration: latencyStats(tr.hist),
		}
		if total := tr.passed + tr.failed; total > 0 {
			stats.FailRate = float64(tr.failed) / float64(total)
		}
		result[name] = stats
	}
	return result
}

// GetDataPointStats returns a copy of the custom data point aggregates
func (e *Engine) GetDataPointStats() map[string]DataPointStats {
	e.dataPointsMu.Lock()
	defer e.dataPointsMu.Unlock()

	result := make(map[string]DataPointStats, len(e.dataPoints))
	for name, dp := range e.dataPoints {
		result[name] = *dp
	}
	return result
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.iterationHistMu.Lock()
	iterLatency := latencyStats(e.iterationHist)
	e.iterationHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalIterations.Load()
	failed := e.failedIterations.Load()

	iterations := IterationStats{
		Total:    total,
		Failed:   failed,
		Duration: iterLatency,
	}
	if total > 0 {
		iterations.FailRate = float64(failed) / float64(total)
	}
	if elapsed.Seconds() > 0 {
		iterations.Rate = float64(total) / elapsed.Seconds()
	}

	return &Snapshot{
		Transactions: e.GetTransactionStats(),
		DataPoints:   e.GetDataPointStats(),
		Iterations:   iterations,
		ActiveVUs:    e.GetActiveVUs(),
		Elapsed:      elapsed,
		StartTime:    e.startTime,
		Timestamp:    time.Now(),
	}
}

// Reset resets all metrics to initial state.
func (e *Engine) Reset() {
	e.transactionsMu.Lock()
	e.transactions = make(map[string]*transactionRecorder)
	e.transactionsMu.Unlock()

	e.dataPointsMu.Lock()
	e.dataPoints = make(map[string]*DataPointStats)
	e.dataPointsMu.Unlock()

	e.iterationHistMu.Lock()
	e.iterationHist.Reset()
	e.iterationHistMu.Unlock()

	e.totalIterations.Store(0)
	e.failedIterations.Store(0)
	e.activeVUs.Store(0)
	e.startTime = time.Now()
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Transactions map[string]TransactionStats `json:"transactions"`
	DataPoints   map[string]DataPointStats   `json:"dataPoints"`
	Iterations   IterationStats              `json:"iterations"`
	ActiveVUs    int                         `json:"activeVUs"`
	Elapsed      time.Duration               `json:"elapsed"`
	StartTime    time.Time                   `json:"startTime"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// TransactionNames returns the transaction names in sorted order
func (s *Snapshot) TransactionNames() []string {
	names := make([]string, 0, len(s.Transactions))
	for name := range s.Transactions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransactionStats aggregates one named transaction
type TransactionStats struct {
	Name     string       `json:"name"`
	Passed   int64        `json:"passed"`
	Failed   int64        `json:"failed"`
	FailRate float64      `json:"failRate"`
	Duration LatencyStats `json:"duration"`
}

// Count returns the number of reports
func (s TransactionStats) Count() int64 {
	return s.Passed + s.Failed
}

// DataPointStats aggregates one custom data point
type DataPointStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

// Mean returns the arithmetic mean, zero when empty
func (s DataPointStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// IterationStats aggregates virtual user iterations
type IterationStats struct {
	Total    int64        `json:"total"`
	Failed   int64        `json:"failed"`
	FailRate float64      `json:"failRate"`
	Rate     float64      `json:"rate"`
	Duration LatencyStats `json:"duration"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
