package sync

import (
	"math/rand"
	"testing"
)

func TestHeapAddAndMin(t *testing.T) {
	h := newTSHeap()

	if _, ok := h.min(); ok {
		t.Error("expected empty heap to have no minimum")
	}

	h.add(5)
	h.add(3)
	h.add(8)

	if min, ok := h.min(); !ok || min != 3 {
		t.Errorf("expected minimum 3, got %d (ok=%v)", min, ok)
	}
	if h.Len() != 3 {
		t.Errorf("expected 3 items, got %d", h.Len())
	}

	// duplicate adds are ignored
	h.add(3)
	if h.Len() != 3 {
		t.Errorf("expected duplicate add to be a no-op, got %d items", h.Len())
	}
}

func TestHeapRemove(t *testing.T) {
	h := newTSHeap()
	for _, ts := range []Timestamp{7, 2, 9, 4} {
		h.add(ts)
	}

	// removing a middle element keeps the heap consistent
	if !h.remove(4) {
		t.Error("expected remove of present element to succeed")
	}
	if h.remove(4) {
		t.Error("expected remove of absent element to fail")
	}
	if h.contains(4) {
		t.Error("expected 4 to be gone")
	}

	if min, ok := h.min(); !ok || min != 2 {
		t.Errorf("expected minimum 2, got %d", min)
	}

	// removing the minimum promotes the next smallest
	h.remove(2)
	if min, ok := h.min(); !ok || min != 7 {
		t.Errorf("expected minimum 7, got %d", min)
	}
}

func TestHeapOrderedDrain(t *testing.T) {
	h := newTSHeap()

	perm := rand.Perm(100)
	for _, v := range perm {
		h.add(Timestamp(v + 1))
	}

	var prev Timestamp
	for h.Len() > 0 {
		min, ok := h.min()
		if !ok {
			t.Fatal("expected a minimum on a non-empty heap")
		}
		if min <= prev {
			t.Fatalf("expected strictly increasing drain, got %d after %d", min, prev)
		}
		prev = min
		h.remove(min)
	}
}
