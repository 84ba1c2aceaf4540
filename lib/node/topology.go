package node

import (
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// Topology is the immutable membership view of a deployment. It is built once
// at startup and shared read-only between all components, so all methods are
// safe for concurrent use without locking.
type Topology struct {
	self    Node
	nodes   map[ID]Node
	workers []ID
	servers []ID
	all     []ID
}

// NewTopology creates a topology from the local node and its peers. The local
// node is part of the membership and must not appear again in peers. Node IDs
// must be unique across the deployment.
func NewTopology(self Node, peers []Node) (*Topology, error) {
	if self.ID == 0 {
		return nil, fmt.Errorf("local node has no id")
	}

	t := &Topology{
		self:  self,
		nodes: make(map[ID]Node, len(peers)+1),
	}

	for _, n := range append([]Node{self}, peers...) {
		if n.ID == 0 {
			return nil, fmt.Errorf("node %q has no id", n.Addr)
		}
		if _, ok := t.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %d", n.ID)
		}
		t.nodes[n.ID] = n

		switch n.Role {
		case RoleWorker:
			t.workers = append(t.workers, n.ID)
		case RoleServer:
			t.servers = append(t.servers, n.ID)
		case RoleScheduler:
			// coordination-only, not part of worker/server groups
		default:
			return nil, fmt.Errorf("node %d has unknown role", n.ID)
		}
		t.all = append(t.all, n.ID)
	}

	// group orders are part of the shared view (e.g. for key range
	// assignment), so they must not depend on insertion order
	sort.Slice(t.workers, func(i, j int) bool { return t.workers[i] < t.workers[j] })
	sort.Slice(t.servers, func(i, j int) bool { return t.servers[i] < t.servers[j] })
	sort.Slice(t.all, func(i, j int) bool { return t.all[i] < t.all[j] })

	return t, nil
}

// Self returns the local node.
func (t *Topology) Self() Node {
	return t.self
}

// Lookup returns the node with the given id.
func (t *Topology) Lookup(id ID) (Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Resolve expands a group into the sorted list of member IDs.
// The returned slice is a copy and may be modified by the caller.
func (t *Topology) Resolve(g Group) []ID {
	var src []ID
	switch g {
	case GroupServers:
		src = t.servers
	case GroupWorkers:
		src = t.workers
	case GroupAll:
		src = t.all
	}

	ids := make([]ID, len(src))
	copy(ids, src)
	return ids
}

// NumServers returns the number of server nodes.
func (t *Topology) NumServers() int {
	return len(t.servers)
}

// NumWorkers returns the number of worker nodes.
func (t *Topology) NumWorkers() int {
	return len(t.workers)
}

// ServerIndex returns the position of id within the sorted server group.
// The position is stable across all nodes of the deployment and is used to
// assign key ranges to servers.
func (t *Topology) ServerIndex(id ID) (int, bool) {
	for i, s := range t.servers {
		if s == id {
			return i, true
		}
	}
	return 0, false
}

func (t *Topology) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("self=%s", t.self))
	for _, id := range t.all {
		if id == t.self.ID {
			continue
		}
		sb.WriteString(fmt.Sprintf(" peer=%s", t.nodes[id]))
	}
	return sb.String()
}
