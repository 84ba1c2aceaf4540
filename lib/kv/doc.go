// Package kv provides the typed key/value facades on top of the
// synchronization core: IKVCache for workers and IKVStore for servers.
//
// The package focuses on:
//
//   - Typed access: callers work with []uint64 keys and typed value slices
//     (float32/float64/int32/int64); the facades encode values into the
//     opaque mail payload and back
//   - Cardinality: len(vals) is always a positive multiple of len(keys),
//     the per-key block size (vlen) is derived per request
//   - Storage disciplines: online stores keep a keyed table with lazy
//     initialization and per-key handler calls, batch stores keep a dense
//     array over a fixed key set with aligned-block handler calls
//   - User handlers: IHandle plugs the application's init/push/pull logic
//     into a server shard (see SumHandle and AssignHandle for ready-made
//     implementations)
//
// Thread Safety:
//
// All facades are safe for concurrent use. Online stores serialize per-key
// updates through their concurrent table, batch stores guard the dense
// array with a single read/write lock.
package kv
