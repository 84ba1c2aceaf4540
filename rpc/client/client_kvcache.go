package client

import (
	"github.com/Ambier/parameter-server/lib/kv"
)

// NewKVCache creates a worker-side cache for one shard whose pushes and pulls
// are answered by the remote servers reachable through the connector.
// The function takes a shard ID, a shard name and a connected connector.
// It returns a kv.IKVCache and an error
func NewKVCache[V kv.Value](shardID uint64, name string, conn *Connector) (kv.IKVCache[V], error) {
	// Create the cache on top of the connector's topology, the connector
	// itself acts as the sender
	cache, err := kv.NewKVCache[V](shardID, name, conn.Topology(), conn)
	if err != nil {
		return nil, err
	}

	// Register the cache so replies find their way back to it
	conn.Bind(cache.Container())

	// Return the cache
	return cache, nil
}
