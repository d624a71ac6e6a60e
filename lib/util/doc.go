// Package util provides small concurrency and statistics helpers shared by the
// relay core, the statistics receiver and the benchmark harness.
//
// The package contains:
//   - mpsc: a lock-free Multi-Producer Single-Consumer queue used to hand latency
//     samples from the reactor goroutine to the aggregation goroutine without
//     ever blocking the producer
//   - statistics: summary statistics (min, max, mean, standard deviation and
//     percentiles) over a slice of observations
package util
