// Package http implements an HTTP-based transport layer for RPC communication
// in the parameter server system. It provides concrete implementations
// of the transport interfaces defined in the parent package, enabling communication
// between clients and servers over HTTP.
//
// The package focuses on:
//   - Client-side HTTP transport for sending RPC requests to servers
//   - Server-side HTTP transport for receiving and handling RPC requests
//   - Addressed sends to a specific server endpoint
//   - Request routing based on container IDs
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport interface, managing
//     connections to server endpoints, handling request routing, and implementing
//     retry mechanisms. Every request names its target server since each server
//     owns a fixed slice of the key space.
//
//   - httpServerTransport: Implements IRPCServerTransport interface, setting up
//     an HTTP server that routes incoming requests to the appropriate handler
//     based on the container ID specified in the URL path.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently, requests
//	to the same endpoint share the pooled connections of the http.Client.
//
// This implementation offers several advantages:
//   - Simple integration with existing HTTP infrastructure
//   - Straightforward error handling and retry mechanisms
//   - Logging middleware for request monitoring
package http
