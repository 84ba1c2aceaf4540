// Package node defines the identity model of a deployment: node IDs, roles,
// node groups and the static membership view (Topology) shared by all
// components.
//
// Membership is fixed at startup. Every process is configured with the same
// ordered server list and derives identical node IDs via HashName, so no
// coordination protocol is required to agree on the topology.
package node
