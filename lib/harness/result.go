package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brayniac/perfprox/lib/util"
)

// ErrMismatch is returned when a response differs from what was expected
var ErrMismatch = errors.New("harness: response mismatch")

// Config describes a harness run
type Config struct {
	// Target is the address to dial, normally the proxy
	Target string
	// Messages are sent in order, one at a time, per round (echo mode only)
	Messages []string
	// Rounds is the number of times the script runs per connection
	Rounds int
	// Connections is the number of concurrent connections
	Connections int
	// Timeout bounds every single exchange
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	if c.Connections <= 0 {
		c.Connections = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Result summarizes a harness run
type Result struct {
	Exchanges int
	Elapsed   time.Duration
	RTT       util.Stats
}

func newResult(rtts []time.Duration, elapsed time.Duration) *Result {
	return &Result{
		Exchanges: len(rtts),
		Elapsed:   elapsed,
		RTT:       util.NewDurationStats(rtts),
	}
}

// Throughput returns exchanges per second
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Exchanges) / r.Elapsed.Seconds()
}

// String renders the result as a table
func (r *Result) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	sb.WriteString("\nRESULT\n")
	addField("Exchanges", fmt.Sprintf("%d", r.Exchanges))
	addField("Elapsed", r.Elapsed.String())
	addField("Throughput", fmt.Sprintf("%.2f ops/sec", r.Throughput()))

	sb.WriteString("\nROUND TRIP\n")
	addField("Min", time.Duration(r.RTT.Min).String())
	addField("Mean", time.Duration(r.RTT.Mean).String())
	addField("P50", time.Duration(r.RTT.P50).String())
	addField("P90", time.Duration(r.RTT.P90).String())
	addField("P99", time.Duration(r.RTT.P99).String())
	addField("P99.9", time.Duration(r.RTT.P999).String())
	addField("Max", time.Duration(r.RTT.Max).String())
	addField("Std Deviation", time.Duration(r.RTT.StdDeviation).String())

	return sb.String()
}
