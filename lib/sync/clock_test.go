package sync

import (
	gosync "sync"
	"testing"
)

func TestClockStartsAtZero(t *testing.T) {
	c := NewLogicalClock()

	if got := c.Current(); got != 0 {
		t.Errorf("expected fresh clock at 0, got %d", got)
	}
	if got := c.Advance(1); got != 1 {
		t.Errorf("expected first advance to yield 1, got %d", got)
	}
}

func TestClockAdvance(t *testing.T) {
	c := NewLogicalClock()

	if got := c.Advance(5); got != 5 {
		t.Errorf("expected 5 after advance by 5, got %d", got)
	}
	if got := c.Advance(0); got != 5 {
		t.Errorf("expected advance by 0 to be a no-op, got %d", got)
	}
	if got := c.Current(); got != 5 {
		t.Errorf("expected current time 5, got %d", got)
	}
}

func TestClockConcurrentAdvance(t *testing.T) {
	c := NewLogicalClock()

	const goroutines = 8
	const advancesPerGoroutine = 1000

	var wg gosync.WaitGroup
	wg.Add(goroutines)

	seen := make([]map[Timestamp]bool, goroutines)
	for g := 0; g < goroutines; g++ {
		seen[g] = make(map[Timestamp]bool, advancesPerGoroutine)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < advancesPerGoroutine; i++ {
				seen[g][c.Advance(1)] = true
			}
		}(g)
	}
	wg.Wait()

	// every advance must have produced a distinct timestamp
	all := make(map[Timestamp]bool)
	for g := 0; g < goroutines; g++ {
		for ts := range seen[g] {
			if all[ts] {
				t.Fatalf("timestamp %d handed out twice", ts)
			}
			all[ts] = true
		}
	}

	if got := c.Current(); got != goroutines*advancesPerGoroutine {
		t.Errorf("expected clock at %d, got %d", goroutines*advancesPerGoroutine, got)
	}
}
