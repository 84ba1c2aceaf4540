package testing

import (
	gosync "sync"
	"sync/atomic"
	"testing"

	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/sync"
)

// ClusterFactory builds a cluster for one test. The factory fills in the
// storage discipline and the handler, the suite chooses everything else.
type ClusterFactory func(t testing.TB, cfg ClusterConfig) *Cluster[float64]

// RunKVClusterTests runs the behavior suite against a cluster factory. The
// factory is expected to wire an additive handler (push accumulates, pull
// reads) such as kv.SumHandle.
func RunKVClusterTests(t *testing.T, name string, factory ClusterFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PushPull", func(t *testing.T) {
			testPushPull(t, factory)
		})

		t.Run("Accumulate", func(t *testing.T) {
			testAccumulate(t, factory)
		})

		t.Run("MultiServerScatter", func(t *testing.T) {
			testMultiServerScatter(t, factory)
		})

		t.Run("ValueLength", func(t *testing.T) {
			testValueLength(t, factory)
		})

		t.Run("WaitAndCallback", func(t *testing.T) {
			testWaitAndCallback(t, factory)
		})

		t.Run("PullUntouchedKeys", func(t *testing.T) {
			testPullUntouchedKeys(t, factory)
		})

		t.Run("InvalidRequests", func(t *testing.T) {
			testInvalidRequests(t, factory)
		})

		t.Run("ConcurrentPushes", func(t *testing.T) {
			testConcurrentPushes(t, factory)
		})

		t.Run("CloseRejectsRequests", func(t *testing.T) {
			testCloseRejectsRequests(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func smallCluster(t testing.TB, factory ClusterFactory, servers int, keys ...uint64) *Cluster[float64] {
	t.Helper()
	return factory(t, ClusterConfig{
		Servers: servers,
		Shard: kv.Config{
			Range:     mail.KeyRange{Begin: 0, End: 30},
			BatchKeys: keys,
		},
	})
}

func mustPush(t *testing.T, c *Cluster[float64], keys []uint64, vals []float64) sync.Timestamp {
	t.Helper()
	ts, err := c.Cache.Push(keys, vals, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	return ts
}

func mustPull(t *testing.T, c *Cluster[float64], keys []uint64, vals []float64) {
	t.Helper()
	ts, err := c.Cache.Pull(keys, vals, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if err := c.Cache.Wait(ts); err != nil {
		t.Fatalf("wait for pull %d failed: %v", ts, err)
	}
}

func expectVals(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPushPull(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 1, 2, 4, 6)

	keys := []uint64{2, 4, 6}
	mustPush(t, c, keys, []float64{1.5, 2.5, 3.5})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	got := make([]float64, 3)
	mustPull(t, c, keys, got)
	expectVals(t, got, []float64{1.5, 2.5, 3.5})
}

func testAccumulate(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 1, 1, 3)

	keys := []uint64{1, 3}
	mustPush(t, c, keys, []float64{1, 2})
	mustPush(t, c, keys, []float64{10, 20})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	got := make([]float64, 2)
	mustPull(t, c, keys, got)
	expectVals(t, got, []float64{11, 22})
}

// Keys spread over three server ranges must come back reassembled in
// request order, regardless of which server answered which part.
func testMultiServerScatter(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 3, 5, 7, 15, 25)

	keys := []uint64{5, 7, 15, 25}
	mustPush(t, c, keys, []float64{50, 70, 150, 250})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	got := make([]float64, 4)
	mustPull(t, c, keys, got)
	expectVals(t, got, []float64{50, 70, 150, 250})

	// a subset touching only the outer servers
	got = make([]float64, 2)
	mustPull(t, c, []uint64{7, 25}, got)
	expectVals(t, got, []float64{70, 250})
}

func testValueLength(t *testing.T, factory ClusterFactory) {
	c := factory(t, ClusterConfig{
		Servers: 3,
		Shard: kv.Config{
			ValLen:    2,
			Range:     mail.KeyRange{Begin: 0, End: 30},
			BatchKeys: []uint64{1, 13, 28},
		},
	})

	keys := []uint64{1, 13, 28}
	mustPush(t, c, keys, []float64{1.1, 1.2, 13.1, 13.2, 28.1, 28.2})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	got := make([]float64, 6)
	mustPull(t, c, keys, got)
	expectVals(t, got, []float64{1.1, 1.2, 13.1, 13.2, 28.1, 28.2})
}

func testWaitAndCallback(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 2, 3, 17)

	var calls atomic.Int32
	done := make(chan error, 1)
	_, err := c.Cache.Push([]uint64{3, 17}, []float64{1, 1}, kv.SyncOpts{
		Callback: func(err error) {
			calls.Add(1)
			done <- err
		},
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if cbErr := <-done; cbErr != nil {
		t.Errorf("expected callback with nil error, got %v", cbErr)
	}

	// the callback consumed the result, the barrier must still pass
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Errorf("expected nil from Wait after callback, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly one callback invocation, got %d", n)
	}
}

func testPullUntouchedKeys(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 2, 4, 21)

	got := []float64{99, 99}
	mustPull(t, c, []uint64{4, 21}, got)
	expectVals(t, got, []float64{0, 0})
}

func testInvalidRequests(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 1, 2, 4)

	if _, err := c.Cache.Push(nil, []float64{1}, kv.SyncOpts{}); err == nil {
		t.Errorf("expected error for push without keys")
	}
	if _, err := c.Cache.Push([]uint64{2, 4}, []float64{1, 2, 3}, kv.SyncOpts{}); err == nil {
		t.Errorf("expected error for values not a multiple of keys")
	}
	if _, err := c.Cache.Push([]uint64{4, 2}, []float64{1, 2}, kv.SyncOpts{}); err == nil {
		t.Errorf("expected error for unsorted keys")
	}
	if _, err := c.Cache.Pull([]uint64{2, 2}, make([]float64, 2), kv.SyncOpts{}); err == nil {
		t.Errorf("expected error for duplicate keys")
	}

	// the shard must stay usable after rejected requests
	mustPush(t, c, []uint64{2}, []float64{1})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Errorf("expected nil from Wait, got %v", err)
	}
}

func testConcurrentPushes(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 3, 2, 14, 26)

	const (
		workers = 8
		rounds  = 25
	)

	var wg gosync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if _, err := c.Cache.Push([]uint64{2, 14, 26}, []float64{1, 1, 1}, kv.SyncOpts{}); err != nil {
					t.Errorf("push failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	got := make([]float64, 3)
	mustPull(t, c, []uint64{2, 14, 26}, got)
	want := float64(workers * rounds)
	expectVals(t, got, []float64{want, want, want})
}

func testCloseRejectsRequests(t *testing.T, factory ClusterFactory) {
	c := smallCluster(t, factory, 1, 5)

	mustPush(t, c, []uint64{5}, []float64{1})
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	c.Cache.Close()

	if _, err := c.Cache.Push([]uint64{5}, []float64{1}, kv.SyncOpts{}); err == nil {
		t.Errorf("expected error for push on closed cache")
	}
	if err := c.Cache.Wait(sync.CurTime); err == nil {
		t.Errorf("expected error for wait on closed cache")
	}
}
