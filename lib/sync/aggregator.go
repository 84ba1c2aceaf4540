package sync

import (
	gosync "sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Ambier/parameter-server/lib/node"
)

// --------------------------------------------------------------------------
// Ack Aggregator
// --------------------------------------------------------------------------

// ackEntry is the reply set of one timestamp. Nodes are only ever added
// until the entry is deleted, so IsSuccessful is monotonic per entry.
type ackEntry struct {
	mu    gosync.Mutex
	nodes map[node.ID]struct{}
}

// AckAggregator collects, per timestamp, the set of nodes that have replied,
// and decides when a request has been answered by a full node group.
// Duplicate replies from the same node are idempotent.
//
// Thread-safety: all methods are safe for concurrent use. Operations on
// different timestamps do not contend.
type AckAggregator struct {
	topo    *node.Topology
	entries *xsync.MapOf[Timestamp, *ackEntry]
}

// NewAckAggregator creates an aggregator resolving groups against topo.
func NewAckAggregator(topo *node.Topology) *AckAggregator {
	return &AckAggregator{
		topo:    topo,
		entries: xsync.NewMapOf[Timestamp, *ackEntry](),
	}
}

// Insert records that id has replied for ts. Inserting the same node twice
// has no further effect.
func (a *AckAggregator) Insert(ts Timestamp, id node.ID) {
	e, _ := a.entries.LoadOrCompute(ts, func() *ackEntry {
		return &ackEntry{nodes: make(map[node.ID]struct{})}
	})

	e.mu.Lock()
	e.nodes[id] = struct{}{}
	e.mu.Unlock()
}

// IsSuccessful reports whether every member of group has replied for ts.
// Once true it stays true until the entry is deleted.
func (a *AckAggregator) IsSuccessful(ts Timestamp, group node.Group) bool {
	members := a.topo.Resolve(group)
	if len(members) == 0 {
		return true
	}

	e, ok := a.entries.Load(ts)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.nodes) < len(members) {
		return false
	}
	for _, id := range members {
		if _, ok := e.nodes[id]; !ok {
			return false
		}
	}
	return true
}

// Count returns the number of distinct nodes that have replied for ts.
func (a *AckAggregator) Count(ts Timestamp) int {
	e, ok := a.entries.Load(ts)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

// Delete drops the reply set of ts. Deleting an absent timestamp is a no-op.
func (a *AckAggregator) Delete(ts Timestamp) {
	a.entries.Delete(ts)
}

// Len returns the number of timestamps with at least one recorded reply.
func (a *AckAggregator) Len() int {
	return a.entries.Size()
}
