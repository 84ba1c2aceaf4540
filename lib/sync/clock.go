package sync

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Logical Clock
// --------------------------------------------------------------------------

// LogicalClock is a strictly increasing counter of logical time. The zero
// value is ready to use and starts at time 0, so the first advance by one
// yields timestamp 1.
//
// Thread-safety: all methods are safe for concurrent use.
type LogicalClock struct {
	now atomic.Uint64
}

// NewLogicalClock creates a new clock at time 0.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{}
}

// Current returns the current logical time.
func (c *LogicalClock) Current() Timestamp {
	return Timestamp(c.now.Load())
}

// Advance moves the clock forward by delta and returns the new time.
// Advance(0) is a no-op that returns the current time.
func (c *LogicalClock) Advance(delta uint64) Timestamp {
	if delta == 0 {
		return c.Current()
	}
	return Timestamp(c.now.Add(delta))
}
