package stats

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Categories
// --------------------------------------------------------------------------

// Category tags a sample. The labels of the two latency categories are opaque
// names for the intervals they cover, see ClientTurnaround and FullCycle.
type Category uint8

const (
	// ClientTurnaround covers response fully written to the client (t1) until the
	// next request was fully read from the client (t2)
	ClientTurnaround Category = iota
	// FullCycle covers response fully read from the backend (t0) until the next
	// request was fully written to the backend (t3)
	FullCycle
	// Connect covers accept until the backend dial completed
	Connect
	// Close covers the whole life of a session
	Close
	// Ok covers response read from the backend until it was delivered to the client
	Ok
	// Error marks a failed operation, start == end
	Error
)

// Categories lists every category in exposition order
var Categories = []Category{ClientTurnaround, FullCycle, Connect, Close, Ok, Error}

func (c Category) String() string {
	switch c {
	case ClientTurnaround:
		return "client_turnaround"
	case FullCycle:
		return "full_cycle"
	case Connect:
		return "connect"
	case Close:
		return "close"
	case Ok:
		return "ok"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// IsLatency reports whether the category is one of the two per-cycle latency intervals
func (c Category) IsLatency() bool {
	return c == ClientTurnaround || c == FullCycle
}

// --------------------------------------------------------------------------
// Samples and the sink interface
// --------------------------------------------------------------------------

// Sample is one measured interval. Start and End are Clocksource counter values.
type Sample struct {
	Start    uint64
	End      uint64
	Category Category
}

// Duration returns End - Start, or 0 if the sample is inverted
func (s Sample) Duration() time.Duration {
	if s.End < s.Start {
		return 0
	}
	return time.Duration(s.End - s.Start)
}

// Sink accepts latency samples. Implementations must not block the caller:
// Push is called from the reactor goroutine.
type Sink interface {
	Push(start, end uint64, category Category)
}

// --------------------------------------------------------------------------
// Clocksource
// --------------------------------------------------------------------------

// Clocksource is a monotonic nanosecond counter. Values from the same
// Clocksource are comparable, values from different ones are not.
type Clocksource struct {
	origin time.Time
}

// NewClocksource creates a Clocksource anchored at the current instant
func NewClocksource() *Clocksource {
	return &Clocksource{origin: time.Now()}
}

// Counter returns the nanoseconds elapsed since the Clocksource was created.
// It uses the monotonic clock reading and never returns 0, so 0 can mark an
// unset timestamp.
func (c *Clocksource) Counter() uint64 {
	return uint64(time.Since(c.origin)) + 1
}
