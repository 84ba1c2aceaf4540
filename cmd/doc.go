// Package cmd implements the command-line interface for the pserver
// distributed parameter server. It provides a hierarchical command structure
// with operations for running server nodes and interacting with them as a
// worker.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a parameter server node
//   - work: Commands for worker operations (push, pull, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See pserver -help for a list of all commands.
package cmd
