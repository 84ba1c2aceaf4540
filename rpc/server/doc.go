// Package server implements the server side of the parameter server's RPC
// system. It hosts any number of key/value shards over this server's slice
// of the key space and routes incoming worker requests to them.
//
// The package focuses on:
//   - Server-side handling of push and pull requests against kv.IKVStore shards
//   - Deterministic key range assignment derived from the topology
//   - Flexible shard configuration (storage discipline, value type, handler)
//   - Prometheus metrics and pprof on a dedicated endpoint
//
// Key Components:
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
//   - replyRouter: Implements the sync.ISender interface by handing replies
//     back to the transport worker waiting on the matching request.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  Name:    "s1",
//	  Servers: []string{"s1=0.0.0.0:8080"},
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: "online", DType: "float32"},
//	    {ShardID: 200, Type: "batch", DType: "float64", BatchKeys: "0-999", Handle: "assign"},
//	  },
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Transport: common.ServerTransportConfig{
//	    Endpoint: "0.0.0.0:8080",
//	  },
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Start the server
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shards come in two storage disciplines, which can be mixed within a single
// server:
//
//   - online: A keyed table with lazily initialized entries, suitable for
//     sparse models where the key set is not known up front.
//
//   - batch: A dense array over a fixed key set declared in the
//     configuration, suitable for dense models. Only the keys owned by this
//     server are materialized.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently. The Serve method is not thread-safe and should be called
//	only once.
package server
