package sync

import (
	"sort"
	gosync "sync"
)

// --------------------------------------------------------------------------
// Future Pool
// --------------------------------------------------------------------------

// future is one pending result. The done channel is closed exactly once,
// after value has been written, so readers that observed the close may read
// value without further synchronization.
type future[V any] struct {
	done     chan struct{}
	value    V
	resolved bool
}

// FuturePool tracks per-timestamp results. A timestamp is registered at
// request issuance, resolved exactly once on completion, and can be awaited
// by any number of goroutines before or after resolution.
//
// Resolved entries are retained for late TryGet/Wait calls until Remove is
// called.
//
// Thread-safety: all methods are safe for concurrent use.
type FuturePool[V any] struct {
	mu      gosync.Mutex
	entries map[Timestamp]*future[V]
}

// NewFuturePool creates an empty pool.
func NewFuturePool[V any]() *FuturePool[V] {
	return &FuturePool[V]{entries: make(map[Timestamp]*future[V])}
}

// Register creates the pending entry for ts. Registering a timestamp twice
// returns RetCodeInternalError and leaves the existing entry untouched.
func (p *FuturePool[V]) Register(ts Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[ts]; ok {
		return NewError(RetCodeInternalError, "timestamp %d already registered", ts)
	}
	p.entries[ts] = &future[V]{done: make(chan struct{})}
	return nil
}

// Resolve completes the entry for ts with value and wakes all waiters.
// Resolving an unregistered timestamp returns RetCodeUnknownTimestamp,
// resolving a timestamp twice returns RetCodeDuplicateResolution.
func (p *FuturePool[V]) Resolve(ts Timestamp, value V) error {
	p.mu.Lock()

	f, ok := p.entries[ts]
	if !ok {
		p.mu.Unlock()
		return NewError(RetCodeUnknownTimestamp, "no future registered for timestamp %d", ts)
	}
	if f.resolved {
		p.mu.Unlock()
		return NewError(RetCodeDuplicateResolution, "timestamp %d resolved twice", ts)
	}

	f.value = value
	f.resolved = true
	p.mu.Unlock()

	close(f.done)
	return nil
}

// Wait blocks until the entry for ts is resolved and returns its value.
// Waiting on an unregistered timestamp fails with RetCodeUnknownTimestamp.
func (p *FuturePool[V]) Wait(ts Timestamp) (V, error) {
	p.mu.Lock()
	f, ok := p.entries[ts]
	p.mu.Unlock()

	if !ok {
		var zero V
		return zero, NewError(RetCodeUnknownTimestamp, "no future registered for timestamp %d", ts)
	}

	<-f.done
	return f.value, nil
}

// TryGet returns the resolved value for ts, if any. It never blocks.
func (p *FuturePool[V]) TryGet(ts Timestamp) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.entries[ts]
	if !ok || !f.resolved {
		var zero V
		return zero, false
	}
	return f.value, true
}

// Contains reports whether ts has a registered entry, resolved or not.
func (p *FuturePool[V]) Contains(ts Timestamp) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[ts]
	return ok
}

// DrainUpTo removes every resolved entry at or before ts and returns their
// values in timestamp order. Unresolved entries are left untouched.
func (p *FuturePool[V]) DrainUpTo(ts Timestamp) []V {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stamps []Timestamp
	for k, f := range p.entries {
		if k <= ts && f.resolved {
			stamps = append(stamps, k)
		}
	}
	if len(stamps) == 0 {
		return nil
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	values := make([]V, 0, len(stamps))
	for _, k := range stamps {
		values = append(values, p.entries[k].value)
		delete(p.entries, k)
	}
	return values
}

// Remove drops the entry for ts. It must only be called for resolved
// entries, otherwise waiters would block forever.
func (p *FuturePool[V]) Remove(ts Timestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.entries, ts)
}

// Len returns the number of entries, resolved or not.
func (p *FuturePool[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}
