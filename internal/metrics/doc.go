// Package metrics aggregates the results virtual users report: transaction
// durations and outcomes, custom data points and iteration counts.
//
// Durations are kept in HDR histograms with microsecond resolution, so
// percentile queries are constant time regardless of sample count.
package metrics
