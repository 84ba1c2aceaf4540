package sync

import (
	"container/heap"
)

// --------------------------------------------------------------------------
// Timestamp Heap
// --------------------------------------------------------------------------

// tsHeap is a min-heap of timestamps with a map index for O(log n) removal
// of arbitrary elements. It tracks the outstanding timestamps of one
// direction so that the oldest one can be read in O(1).
//
// Thread-safety: tsHeap is NOT safe for concurrent use. Callers must hold
// the container lock.
type tsHeap struct {
	items []Timestamp
	index map[Timestamp]int
}

func newTSHeap() *tsHeap {
	return &tsHeap{index: make(map[Timestamp]int)}
}

// --------------------------------------------------------------------------
// heap.Interface Implementation
// --------------------------------------------------------------------------

func (h *tsHeap) Len() int { return len(h.items) }

func (h *tsHeap) Less(i, j int) bool { return h.items[i] < h.items[j] }

func (h *tsHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i]] = i
	h.index[h.items[j]] = j
}

func (h *tsHeap) Push(x any) {
	ts := x.(Timestamp)
	h.index[ts] = len(h.items)
	h.items = append(h.items, ts)
}

func (h *tsHeap) Pop() any {
	old := h.items
	n := len(old)
	ts := old[n-1]
	h.items = old[:n-1]
	delete(h.index, ts)
	return ts
}

// --------------------------------------------------------------------------
// Heap Operations
// --------------------------------------------------------------------------

// add inserts ts into the heap. Adding a timestamp twice is a no-op.
func (h *tsHeap) add(ts Timestamp) {
	if _, ok := h.index[ts]; ok {
		return
	}
	heap.Push(h, ts)
}

// remove deletes ts from the heap and reports whether it was present.
func (h *tsHeap) remove(ts Timestamp) bool {
	i, ok := h.index[ts]
	if !ok {
		return false
	}
	heap.Remove(h, i)
	return true
}

// min returns the smallest timestamp without removing it.
func (h *tsHeap) min() (Timestamp, bool) {
	if len(h.items) == 0 {
		return 0, false
	}
	return h.items[0], true
}

// contains reports whether ts is in the heap.
func (h *tsHeap) contains(ts Timestamp) bool {
	_, ok := h.index[ts]
	return ok
}
