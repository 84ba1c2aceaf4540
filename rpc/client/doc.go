// Package client implements the worker side of the parameter server's RPC
// system. It provides a connector that carries container mails over the
// transport layer and factories for remote-backed shard caches.
//
// The package focuses on:
//   - Transparent remote access to server shards through kv.IKVCache
//   - Integration with the transport and serialization layers
//   - Conversion of transport failures into error replies so requests
//     always resolve
//
// Key Components:
//
//   - Connector: Implements the sync.ISender interface over an RPC client
//     transport. Requests are addressed to the server that owns the
//     destination shard, replies are routed back to the bound container.
//     One connector serves any number of shards.
//
//   - NewKVCache: Factory function that creates a worker-side cache bound to
//     the connector. All pushes and pulls of the cache are answered by the
//     remote servers.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Name:          "w1",
//	  Servers:       []string{"s1=localhost:5000", "s2=localhost:5001"},
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    ConnectionsPerEndpoint: 1,
//	    RetryCount:             3,
//	  },
//	}
//
//	// Create the connector
//	conn, _ := client.NewConnector(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer conn.Close()
//
//	// Create a cache for shard 1 and synchronize
//	cache, _ := client.NewKVCache[float64](1, "weights", conn)
//	ts, _ := cache.Push([]uint64{1, 2, 3}, []float64{0.1, 0.2, 0.3}, kv.SyncOpts{})
//	cache.Wait(ts)
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing
//     ConnectionsPerEndpoint can improve throughput by allowing parallel
//     requests.
//
//   - For small messages, a single connection per endpoint is often more
//     efficient due to reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary
//     serializer provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The connector and all caches created through it are thread-safe and can
//	be used concurrently from multiple goroutines without additional
//	synchronization.
package client
