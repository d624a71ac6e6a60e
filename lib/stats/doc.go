// Package stats implements the latency sample sink of perfprox. The relay core
// pushes (start, end, category) samples into a Sink; the Receiver hands them
// over a lock-free queue to a single aggregation goroutine and exposes the
// aggregates over HTTP.
//
// Key Components:
//
//   - Category: the tag of a sample. ClientTurnaround and FullCycle are the two
//     latency intervals measured per request/response cycle, Connect, Close, Ok
//     and Error are emitted at session open, teardown, response delivery and on
//     failures.
//
//   - Clocksource: the monotonic nanosecond counter shared between the relay and
//     the receiver so that sample intervals are directly comparable.
//
//   - Receiver: implements Sink. Push never blocks the caller; samples are
//     aggregated into per-category go-metrics histograms (percentile snapshots)
//     and VictoriaMetrics histograms/counters (Prometheus exposition).
//
//   - HTTPServer: serves /metrics (Prometheus text), /stats (JSON percentiles
//     per category) and /healthz.
//
// Usage Example:
//
//	clock := stats.NewClocksource()
//	receiver := stats.NewReceiver(clock, stats.DefaultReservoirSize)
//	go receiver.Run(ctx)
//
//	receiver.Push(start, clock.Counter(), stats.FullCycle)
package stats
