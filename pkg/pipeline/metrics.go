package pipeline

import (
	"sync/atomic"
)

// MetricsTracker receives execution outcome counters. The executor records
// exactly one of RecordSucceeded, RecordFailed or RecordUnexpectedFailure per
// execution; the watchdog records RecordOvertime.
type MetricsTracker interface {
	RecordSucceeded()
	RecordFailed()
	RecordUnexpectedFailure()
	RecordOvertime()
}

// Totals is a snapshot of the four outcome counters.
type Totals struct {
	Succeeded          int64
	Failed             int64
	UnexpectedFailures int64
	Overtime           int64
}

// CounterTracker is a thread-safe in-memory MetricsTracker.
type CounterTracker struct {
	succeeded  atomic.Int64
	failed     atomic.Int64
	unexpected atomic.Int64
	overtime   atomic.Int64
}

// NewCounterTracker creates an in-memory tracker.
func NewCounterTracker() *CounterTracker {
	return &CounterTracker{}
}

// RecordSucceeded records a successful execution.
func (c *CounterTracker) RecordSucceeded() { c.succeeded.Add(1) }

// RecordFailed records a controlled failure.
func (c *CounterTracker) RecordFailed() { c.failed.Add(1) }

// RecordUnexpectedFailure records an unexpected failure.
func (c *CounterTracker) RecordUnexpectedFailure() { c.unexpected.Add(1) }

// RecordOvertime records a document reported by the watchdog.
func (c *CounterTracker) RecordOvertime() { c.overtime.Add(1) }

// TotalSucceeded returns the number of successful executions.
func (c *CounterTracker) TotalSucceeded() int64 { return c.succeeded.Load() }

// TotalFailed returns the number of controlled failures.
func (c *CounterTracker) TotalFailed() int64 { return c.failed.Load() }

// TotalUnexpectedFailures returns the number of unexpected failures.
func (c *CounterTracker) TotalUnexpectedFailures() int64 { return c.unexpected.Load() }

// TotalOvertime returns the number of overtime reports.
func (c *CounterTracker) TotalOvertime() int64 { return c.overtime.Load() }

// Totals returns a snapshot of all counters. The snapshot is not atomic
// across counters.
func (c *CounterTracker) Totals() Totals {
	return Totals{
		Succeeded:          c.succeeded.Load(),
		Failed:             c.failed.Load(),
		UnexpectedFailures: c.unexpected.Load(),
		Overtime:           c.overtime.Load(),
	}
}

// Reset zeroes all counters.
func (c *CounterTracker) Reset() {
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.unexpected.Store(0)
	c.overtime.Store(0)
}

// Ensure CounterTracker implements MetricsTracker
var _ MetricsTracker = (*CounterTracker)(nil)

// NoOpTracker discards all counters.
type NoOpTracker struct{}

func (NoOpTracker) RecordSucceeded()         {}
func (NoOpTracker) RecordFailed()            {}
func (NoOpTracker) RecordUnexpectedFailure() {}
func (NoOpTracker) RecordOvertime()          {}

// Ensure NoOpTracker implements MetricsTracker
var _ MetricsTracker = NoOpTracker{}

// MultiTracker fans every record out to several trackers.
type MultiTracker []MetricsTracker

func (m MultiTracker) RecordSucceeded() {
	for _, t := range m {
		t.RecordSucceeded()
	}
}

func (m MultiTracker) RecordFailed() {
	for _, t := range m {
		t.RecordFailed()
	}
}

func (m MultiTracker) RecordUnexpectedFailure() {
	for _, t := range m {
		t.RecordUnexpectedFailure()
	}
}

func (m MultiTracker) RecordOvertime() {
	for _, t := range m {
		t.RecordOvertime()
	}
}
