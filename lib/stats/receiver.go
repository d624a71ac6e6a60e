package stats

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/brayniac/perfprox/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("stats")

const (
	// DefaultReservoirSize is the number of samples kept per category for percentiles
	DefaultReservoirSize = 16384

	// queueBuffer is the capacity of the channel between queue and aggregator
	queueBuffer = 4096
)

// --------------------------------------------------------------------------
// Per-category aggregate
// --------------------------------------------------------------------------

// aggregate holds every metric fed by one category
type aggregate struct {
	// go-metrics, used for /stats percentile snapshots
	latency gometrics.Histogram
	rate    gometrics.Meter

	// VictoriaMetrics, used for /metrics
	seconds *vm.Histogram
	total   *vm.Counter
}

// Snapshot is the aggregated view of one category. Latencies are in nanoseconds.
type Snapshot struct {
	Category string  `json:"category"`
	Count    int64   `json:"count"`
	Min      int64   `json:"min_ns"`
	Max      int64   `json:"max_ns"`
	Mean     float64 `json:"mean_ns"`
	P50      float64 `json:"p50_ns"`
	P90      float64 `json:"p90_ns"`
	P99      float64 `json:"p99_ns"`
	P999     float64 `json:"p999_ns"`
	Rate1    float64 `json:"rate1m"`
}

// --------------------------------------------------------------------------
// Receiver
// --------------------------------------------------------------------------

// Receiver is the Sink used by the proxy. Push only enqueues, Run aggregates.
type Receiver struct {
	clock          *Clocksource
	queue          *util.MPSC[Sample]
	reservoirSize  int
	registry       gometrics.Registry
	set            *vm.Set
	categories     *xsync.MapOf[Category, *aggregate]
	processed      atomic.Uint64
	inverted       atomic.Uint64
	activeSessions atomic.Int64
}

// NewReceiver creates a receiver sharing the given clock with the relay
func NewReceiver(clock *Clocksource, reservoirSize int) *Receiver {
	if reservoirSize <= 0 {
		reservoirSize = DefaultReservoirSize
	}

	r := &Receiver{
		clock:         clock,
		queue:         util.NewMPSC[Sample](queueBuffer),
		reservoirSize: reservoirSize,
		registry:      gometrics.NewRegistry(),
		set:           vm.NewSet(),
		categories:    xsync.NewMapOf[Category, *aggregate](),
	}

	r.set.NewGauge("perfprox_sessions_active", func() float64 {
		return float64(r.activeSessions.Load())
	})

	// create all categories up front so that /metrics lists them with zero values
	for _, c := range Categories {
		r.aggregateFor(c)
	}

	return r
}

// Clock returns the clocksource shared with the producers
func (r *Receiver) Clock() *Clocksource {
	return r.clock
}

// Push implements Sink. It never blocks; samples pushed after the receiver
// stopped are dropped.
func (r *Receiver) Push(start, end uint64, category Category) {
	r.queue.Push(Sample{Start: start, End: end, Category: category})
}

// Run aggregates samples until ctx is cancelled, then drains what is left
// in the queue and returns.
func (r *Receiver) Run(ctx context.Context) error {
	Logger.Infof("stats receiver started")

	go func() {
		<-ctx.Done()
		r.queue.Close()
	}()

	for sample := range r.queue.Recv() {
		r.record(sample)
	}

	Logger.Infof("stats receiver stopped after %d samples (%d dropped)", r.processed.Load(), r.queue.Rejected())
	return nil
}

// Processed returns the number of samples aggregated so far
func (r *Receiver) Processed() uint64 {
	return r.processed.Load()
}

// record folds one sample into its category
func (r *Receiver) record(s Sample) {
	if s.End < s.Start {
		r.inverted.Add(1)
		Logger.Warningf("dropping inverted %s sample start=%d end=%d", s.Category, s.Start, s.End)
		r.processed.Add(1)
		return
	}

	agg := r.aggregateFor(s.Category)
	d := s.Duration()

	agg.latency.Update(d.Nanoseconds())
	agg.rate.Mark(1)
	agg.seconds.Update(d.Seconds())
	agg.total.Inc()

	switch s.Category {
	case Connect:
		r.activeSessions.Add(1)
	case Close:
		r.activeSessions.Add(-1)
	}

	r.processed.Add(1)
}

// aggregateFor returns the aggregate of a category, creating it on first use
func (r *Receiver) aggregateFor(c Category) *aggregate {
	agg, _ := r.categories.LoadOrCompute(c, func() *aggregate {
		name := c.String()
		return &aggregate{
			latency: gometrics.GetOrRegisterHistogram(name+".latency", r.registry, gometrics.NewUniformSample(r.reservoirSize)),
			rate:    gometrics.GetOrRegisterMeter(name+".rate", r.registry),
			seconds: r.set.GetOrCreateHistogram(fmt.Sprintf(`perfprox_latency_seconds{category=%q}`, name)),
			total:   r.set.GetOrCreateCounter(fmt.Sprintf(`perfprox_samples_total{category=%q}`, name)),
		}
	})
	return agg
}

// Snapshot returns the aggregate of one category
func (r *Receiver) Snapshot(c Category) Snapshot {
	agg := r.aggregateFor(c)
	h := agg.latency.Snapshot()
	ps := h.Percentiles([]float64{0.5, 0.9, 0.99, 0.999})

	return Snapshot{
		Category: c.String(),
		Count:    h.Count(),
		Min:      h.Min(),
		Max:      h.Max(),
		Mean:     h.Mean(),
		P50:      ps[0],
		P90:      ps[1],
		P99:      ps[2],
		P999:     ps[3],
		Rate1:    agg.rate.Snapshot().Rate1(),
	}
}

// Snapshots returns the aggregates of all categories in exposition order
func (r *Receiver) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, r.Snapshot(c))
	}
	return out
}

// ActiveSessions returns opened minus closed sessions as seen by the receiver
func (r *Receiver) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// WritePrometheus writes the VictoriaMetrics set plus process metrics in
// Prometheus text format
func (r *Receiver) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
	vm.WriteProcessMetrics(w)
}

// WaitProcessed blocks until at least n samples were aggregated or the
// timeout expired. Returns false on timeout.
func (r *Receiver) WaitProcessed(n uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for r.processed.Load() < n {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
