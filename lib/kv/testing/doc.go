// Package testing provides standardised tests and benchmarks for key/value
// shard implementations built on the kv package.
//
// The package contains:
//   - cluster: An in-process cluster harness that wires one worker cache to a
//     group of server stores without a network transport
//   - testing: A behavior suite covering the push/pull/wait contract
//   - benchmark: Performance tests for measuring request throughput
//
// Example usage:
//
//	// Creating a factory function for your configuration
//	factory := func(t testing.TB, cfg kvtesting.ClusterConfig) *kvtesting.Cluster[float64] {
//		cfg.Shard.Type = kv.StoreOnline
//		return kvtesting.NewCluster[float64](t, cfg, func() kv.IHandle[float64] {
//			return kv.SumHandle[float64]{}
//		})
//	}
//
//	// Running the standard test suite
//	kvtesting.RunKVClusterTests(t, "Online", factory)
//
//	// Running performance benchmarks
//	kvtesting.RunKVClusterBenchmarks(b, "Online", factory)
package testing
