package sync

import (
	gosync "sync"
)

// --------------------------------------------------------------------------
// Consistency Window
// --------------------------------------------------------------------------

// ConsistencyWindow enforces bounded staleness for one direction: a new
// request may only be issued while it stays less than maxDelay ticks ahead
// of the oldest unacknowledged request of the same direction. A maxDelay of
// 0 forces fully synchronous operation, a negative maxDelay disables the
// bound entirely.
//
// Thread-safety: the window does not lock by itself. All methods must be
// called with the mutex backing the condition variable held; Admit releases
// it while blocked, like cond.Wait does.
type ConsistencyWindow struct {
	dir         Direction
	maxDelay    int
	outstanding *tsHeap
	cond        *gosync.Cond
}

// NewConsistencyWindow creates a window for dir with the bound disabled.
// The condition variable must be backed by the lock guarding all issuance.
func NewConsistencyWindow(dir Direction, cond *gosync.Cond) *ConsistencyWindow {
	return &ConsistencyWindow{
		dir:         dir,
		maxDelay:    InfiniteDelay,
		outstanding: newTSHeap(),
		cond:        cond,
	}
}

// Fits reports whether a request stamped with candidate would respect the
// bound right now.
func (w *ConsistencyWindow) Fits(candidate Timestamp) bool {
	if w.maxDelay < 0 {
		return true
	}
	oldest, ok := w.outstanding.min()
	if !ok {
		return true
	}
	return uint64(candidate-oldest) < uint64(w.maxDelay)
}

// Admit blocks until next() fits the window or cancelled() reports true.
// next is re-evaluated after every wake-up since the clock may have moved.
func (w *ConsistencyWindow) Admit(next func() Timestamp, cancelled func() bool) error {
	for {
		if cancelled() {
			return NewError(RetCodeClosed, "%s window closed", w.dir)
		}
		if w.Fits(next()) {
			return nil
		}
		w.cond.Wait()
	}
}

// Open records ts as outstanding. It must be called for every admitted
// request, with the same lock held as during Admit.
func (w *ConsistencyWindow) Open(ts Timestamp) {
	w.outstanding.add(ts)
}

// Acknowledge retires ts and wakes blocked admissions.
func (w *ConsistencyWindow) Acknowledge(ts Timestamp) {
	if w.outstanding.remove(ts) {
		w.cond.Broadcast()
	}
}

// SetMaxDelay changes the bound. Loosening it wakes blocked admissions.
func (w *ConsistencyWindow) SetMaxDelay(delay int) {
	w.maxDelay = delay
	w.cond.Broadcast()
}

// MaxDelay returns the current bound.
func (w *ConsistencyWindow) MaxDelay() int {
	return w.maxDelay
}

// Outstanding returns the number of unacknowledged timestamps.
func (w *ConsistencyWindow) Outstanding() int {
	return w.outstanding.Len()
}

// Oldest returns the oldest unacknowledged timestamp.
func (w *ConsistencyWindow) Oldest() (Timestamp, bool) {
	return w.outstanding.min()
}
