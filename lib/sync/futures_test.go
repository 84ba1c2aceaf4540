package sync

import (
	gosync "sync"
	"testing"
	"time"
)

func TestFuturePoolResolveBeforeWait(t *testing.T) {
	p := NewFuturePool[error]()

	if err := p.Register(7); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if err := p.Resolve(7, nil); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}

	// waiting after resolution returns immediately
	val, err := p.Wait(7)
	if err != nil {
		t.Fatalf("failed to wait: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil result, got %v", val)
	}
}

func TestFuturePoolWaitBeforeResolve(t *testing.T) {
	p := NewFuturePool[error]()

	if err := p.Register(3); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	want := NewError(RetCodeHandlerFailure, "boom")

	results := make(chan error, 2)
	var wg gosync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			val, err := p.Wait(3)
			if err != nil {
				t.Errorf("failed to wait: %v", err)
				return
			}
			results <- val
		}()
	}

	// give the waiters time to block
	time.Sleep(10 * time.Millisecond)
	if err := p.Resolve(3, want); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	wg.Wait()
	close(results)

	count := 0
	for val := range results {
		if val != want {
			t.Errorf("expected %v, got %v", want, val)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 waiters to return, got %d", count)
	}
}

func TestFuturePoolDuplicateResolution(t *testing.T) {
	p := NewFuturePool[error]()

	p.Register(1)
	if err := p.Resolve(1, nil); err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}

	err := p.Resolve(1, nil)
	if err == nil {
		t.Fatal("expected second resolution to fail")
	}
	if e, ok := AsError(err); !ok || e.Code != RetCodeDuplicateResolution {
		t.Errorf("expected duplicate resolution error, got %v", err)
	}
}

func TestFuturePoolUnknownTimestamp(t *testing.T) {
	p := NewFuturePool[error]()

	if err := p.Resolve(99, nil); err == nil {
		t.Error("expected resolving an unregistered timestamp to fail")
	} else if e, ok := AsError(err); !ok || e.Code != RetCodeUnknownTimestamp {
		t.Errorf("expected unknown timestamp error, got %v", err)
	}

	if _, err := p.Wait(99); err == nil {
		t.Error("expected waiting on an unregistered timestamp to fail")
	}
}

func TestFuturePoolDoubleRegister(t *testing.T) {
	p := NewFuturePool[error]()

	if err := p.Register(5); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := p.Register(5); err == nil {
		t.Error("expected second register to fail")
	}
}

func TestFuturePoolTryGet(t *testing.T) {
	p := NewFuturePool[error]()
	p.Register(4)

	if _, ok := p.TryGet(4); ok {
		t.Error("expected TryGet on unresolved entry to report false")
	}
	if _, ok := p.TryGet(42); ok {
		t.Error("expected TryGet on unknown timestamp to report false")
	}

	want := NewError(RetCodeHandlerFailure, "late")
	p.Resolve(4, want)

	val, ok := p.TryGet(4)
	if !ok {
		t.Fatal("expected TryGet after resolution to report true")
	}
	if val != want {
		t.Errorf("expected %v, got %v", want, val)
	}
}

func TestFuturePoolDrainUpTo(t *testing.T) {
	p := NewFuturePool[error]()

	for ts := Timestamp(1); ts <= 5; ts++ {
		p.Register(ts)
	}
	p.Resolve(1, nil)
	p.Resolve(2, NewError(RetCodeHandlerFailure, "two"))
	p.Resolve(4, nil)
	// 3 and 5 stay unresolved

	vals := p.DrainUpTo(4)
	if len(vals) != 3 {
		t.Fatalf("expected 3 drained results, got %d", len(vals))
	}
	// results come back in timestamp order
	if vals[0] != nil || vals[1] == nil || vals[2] != nil {
		t.Errorf("unexpected drain order: %v", vals)
	}

	// drained entries are gone, unresolved ones remain
	if _, ok := p.TryGet(2); ok {
		t.Error("expected drained entry to be removed")
	}
	if !p.Contains(3) || !p.Contains(5) {
		t.Error("expected unresolved entries to survive the drain")
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 remaining entries, got %d", p.Len())
	}

	if got := p.DrainUpTo(4); got != nil {
		t.Errorf("expected second drain to return nothing, got %v", got)
	}
}

func TestFuturePoolRemove(t *testing.T) {
	p := NewFuturePool[error]()
	p.Register(9)
	p.Resolve(9, nil)
	p.Remove(9)

	if p.Contains(9) {
		t.Error("expected entry to be removed")
	}
	if _, err := p.Wait(9); err == nil {
		t.Error("expected wait after removal to fail")
	}
}
