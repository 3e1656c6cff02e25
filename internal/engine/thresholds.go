package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/metrics"
)

var thresholdRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// EvaluateThresholds checks every configured threshold against snapshot.
// Transactions are evaluated in name order, after the iteration thresholds.
func EvaluateThresholds(t *config.ThresholdsConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	if t == nil {
		return nil
	}

	var results []ThresholdResult
	for _, expr := range t.Iterations {
		results = append(results, evaluateIterationThreshold(expr, snapshot.Iterations))
	}

	names := make([]string, 0, len(t.Transactions))
	for name := range t.Transactions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stats, ok := snapshot.Transactions[name]
		for _, expr := range t.Transactions[name] {
			if !ok {
				results = append(results, ThresholdResult{
					Metric:     "transactions." + name,
					Expression: expr,
					Message:    fmt.Sprintf("no data for transaction %q", name),
				})
				continue
			}
			results = append(results, evaluateTransactionThreshold(name, expr, stats))
		}
	}
	return results
}

// AllPassed reports whether every threshold passed
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// evaluateTransactionThreshold evaluates expressions like "p95 < 500ms" or
// "failRate < 0.05" for one transaction.
func evaluateTransactionThreshold(name, expr string, stats metrics.TransactionStats) ThresholdResult {
	result := ThresholdResult{
		Metric:     "transactions." + name,
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	switch metric {
	case "failRate":
		return compareFloat(result, metric, op, valueStr, stats.FailRate)
	case "count":
		return compareFloat(result, metric, op, valueStr, float64(stats.Count()))
	}
	return compareLatency(result, metric, op, valueStr, stats.Duration)
}

// evaluateIterationThreshold evaluates expressions like "failRate < 0.1",
// "count > 100", "rate > 5" or "p95 < 2s" over all iterations.
func evaluateIterationThreshold(expr string, stats metrics.IterationStats) ThresholdResult {
	result := ThresholdResult{
		Metric:     "iterations",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	switch metric {
	case "failRate":
		return compareFloat(result, metric, op, valueStr, stats.FailRate)
	case "count":
		return compareFloat(result, metric, op, valueStr, float64(stats.Total))
	case "rate":
		return compareFloat(result, metric, op, valueStr, stats.Rate)
	}
	return compareLatency(result, metric, op, valueStr, stats.Duration)
}

func compareFloat(result ThresholdResult, metric, op, valueStr string, actual float64) ThresholdResult {
	thresholdValue, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = strconv.FormatFloat(actual, 'f', -1, 64)
	result.Passed = compareValues(actual, op, thresholdValue)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.4f, threshold: %s %.4f", metric, actual, op, thresholdValue)
	}
	return result
}

func compareLatency(result ThresholdResult, metric, op, valueStr string, stats metrics.LatencyStats) ThresholdResult {
	var actualValue time.Duration
	switch metric {
	case "min":
		actualValue = stats.Min
	case "max":
		actualValue = stats.Max
	case "avg", "med", "mean":
		actualValue = stats.Mean
	case "p50":
		actualValue = stats.P50
	case "p90":
		actualValue = stats.P90
	case "p95":
		actualValue = stats.P95
	case "p99":
		actualValue = stats.P99
	default:
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	thresholdValue, err := config.ParseDurationString(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actualValue.String()
	result.Passed = compareValues(float64(actualValue), op, float64(thresholdValue))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actualValue, op, thresholdValue)
	}
	return result
}

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdRe.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
