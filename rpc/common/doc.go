// Package common provides configuration and utilities shared across the RPC
// layer of the parameter server. It defines the configuration structures of
// servers and workers plus the helpers that interpret them.
//
// The package focuses on:
//   - Configuration structures for client and server components
//   - Deployment membership parsing and topology construction
//   - Custom logging implementation with consistent formatting
//
// Key Components:
//
//   - ServerConfig: Comprehensive configuration for server nodes, including
//     the hosted shards, deployment membership, network configuration and
//     transport tuning. Topology derives the node membership view from it.
//
//   - ClientConfig: Configuration for worker nodes, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - ServerShard: Declaration of one key/value shard (storage discipline,
//     element type, values per key, update rule).
//
//   - ParseServers / ParseKeySpec: Parsers for the "name=addr" member entries
//     and the key set specifications used in shard declarations.
//
//   - Logger: Custom logging implementation built on Dragonboat's logger
//     facade, providing consistent formatting across the application.
package common
