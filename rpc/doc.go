// Package rpc provides a comprehensive framework for remote procedure calls
// in the distributed parameter server. It acts as the communication layer
// between workers and servers, enabling push and pull operations across
// network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the server and client configuration structures and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Mail serialization with multiple format options (Binary, JSON, GOB)
//     for converting between mail.Mail objects and byte arrays.
//
//   - client: The worker-side connector that turns a local kv.IKVCache into a
//     remote view of the server shards, allowing applications to interact with
//     remote shards transparently.
//
//   - server: RPC server components that handle incoming requests against the
//     kv.IKVStore shards of this node.
package rpc
