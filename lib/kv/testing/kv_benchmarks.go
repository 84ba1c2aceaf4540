package testing

import (
	"testing"

	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/sync"
)

// RunKVClusterBenchmarks runs all benchmarks for a key/value shard
// implementation against an in-process cluster.
func RunKVClusterBenchmarks(b *testing.B, name string, factory ClusterFactory) {
	b.Run(name+"/Push", func(b *testing.B) {
		benchmarkPush(b, factory)
	})

	b.Run(name+"/PushWait", func(b *testing.B) {
		benchmarkPushWait(b, factory)
	})

	b.Run(name+"/Pull", func(b *testing.B) {
		benchmarkPull(b, factory)
	})

	b.Run(name+"/MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory)
	})
}

func benchCluster(b *testing.B, factory ClusterFactory) *Cluster[float64] {
	b.Helper()
	return factory(b, ClusterConfig{
		Servers: 3,
		Shard: kv.Config{
			Range:     mail.KeyRange{Begin: 0, End: 30},
			BatchKeys: []uint64{2, 14, 26},
		},
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Push without waiting on every request
func benchmarkPush(b *testing.B, factory ClusterFactory) {
	c := benchCluster(b, factory)

	keys := []uint64{2, 14, 26}
	vals := []float64{1, 1, 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Cache.Push(keys, vals, kv.SyncOpts{}); err != nil {
			b.Fatalf("push failed: %v", err)
		}
		// bound the number of in-flight results
		if i%128 == 127 {
			if err := c.Cache.Wait(sync.CurTime); err != nil {
				b.Fatalf("wait failed: %v", err)
			}
		}
	}
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		b.Fatalf("wait failed: %v", err)
	}
}

// Benchmark for the full synchronous push round trip
func benchmarkPushWait(b *testing.B, factory ClusterFactory) {
	c := benchCluster(b, factory)

	keys := []uint64{2, 14, 26}
	vals := []float64{1, 1, 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ts, err := c.Cache.Push(keys, vals, kv.SyncOpts{})
		if err != nil {
			b.Fatalf("push failed: %v", err)
		}
		if err := c.Cache.Wait(ts); err != nil {
			b.Fatalf("wait failed: %v", err)
		}
	}
}

// Benchmark for the full synchronous pull round trip
func benchmarkPull(b *testing.B, factory ClusterFactory) {
	c := benchCluster(b, factory)

	keys := []uint64{2, 14, 26}
	if _, err := c.Cache.Push(keys, []float64{1, 2, 3}, kv.SyncOpts{}); err != nil {
		b.Fatalf("push failed: %v", err)
	}
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		b.Fatalf("wait failed: %v", err)
	}

	dst := make([]float64, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ts, err := c.Cache.Pull(keys, dst, kv.SyncOpts{})
		if err != nil {
			b.Fatalf("pull failed: %v", err)
		}
		if err := c.Cache.Wait(ts); err != nil {
			b.Fatalf("wait failed: %v", err)
		}
	}
}

// Benchmark for alternating pushes and pulls
func benchmarkMixedUsage(b *testing.B, factory ClusterFactory) {
	c := benchCluster(b, factory)

	keys := []uint64{2, 14, 26}
	vals := []float64{1, 1, 1}
	dst := make([]float64, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%4 == 3 {
			ts, err := c.Cache.Pull(keys, dst, kv.SyncOpts{})
			if err != nil {
				b.Fatalf("pull failed: %v", err)
			}
			if err := c.Cache.Wait(ts); err != nil {
				b.Fatalf("wait failed: %v", err)
			}
			continue
		}
		if _, err := c.Cache.Push(keys, vals, kv.SyncOpts{}); err != nil {
			b.Fatalf("push failed: %v", err)
		}
	}
	if err := c.Cache.Wait(sync.CurTime); err != nil {
		b.Fatalf("wait failed: %v", err)
	}
}
