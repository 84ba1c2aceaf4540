package testing

import (
	"fmt"
	gosync "sync"
	"testing"

	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// Loopback Network
// --------------------------------------------------------------------------

// localNet routes mails between the containers of one in-process cluster.
type localNet struct {
	mu     gosync.Mutex
	routes map[node.ID]sync.IContainer
}

func newLocalNet() *localNet {
	return &localNet{routes: make(map[node.ID]sync.IContainer)}
}

func (n *localNet) bind(id node.ID, c sync.IContainer) {
	n.mu.Lock()
	n.routes[id] = c
	n.mu.Unlock()
}

func (n *localNet) lookup(id node.ID) (sync.IContainer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.routes[id]
	return c, ok
}

// sender returns the ISender of one node. Delivery calls Accept on the
// target container directly, which mirrors the real transport's threading:
// requests are queued for the target's processing loop, replies are handled
// on the delivering goroutine.
func (n *localNet) sender(self node.ID, topo *node.Topology) sync.ISender {
	return &localSender{net: n, self: self, topo: topo}
}

type localSender struct {
	net  *localNet
	self node.ID
	topo *node.Topology
}

func (s *localSender) Send(to node.ID, m *mail.Mail) error {
	target, ok := s.net.lookup(to)
	if !ok {
		return sync.NewError(sync.RetCodeInternalError, "no route to node %d", to)
	}
	target.Accept(m)
	s.notifySent(m)
	return nil
}

func (s *localSender) SendGroup(group node.Group, m *mail.Mail) error {
	for _, id := range s.topo.Resolve(group) {
		target, ok := s.net.lookup(id)
		if !ok {
			return sync.NewError(sync.RetCodeInternalError, "no route to node %d", id)
		}
		target.Accept(m)
	}
	s.notifySent(m)
	return nil
}

func (s *localSender) notifySent(m *mail.Mail) {
	if m.Head.Flags.IsReply() {
		return
	}
	if origin, ok := s.net.lookup(s.self); ok {
		origin.Notify(&m.Head)
	}
}

// --------------------------------------------------------------------------
// Cluster Harness
// --------------------------------------------------------------------------

// ClusterConfig describes the in-process cluster to build.
type ClusterConfig struct {
	// Servers is the number of server nodes. The key range is divided
	// evenly between them in node order.
	Servers int
	// Shard is the store configuration applied to every server; the Range
	// and BatchKeys fields are sliced per server.
	Shard kv.Config
}

// Cluster is one worker cache wired to a group of server stores.
type Cluster[V kv.Value] struct {
	Cache  kv.IKVCache[V]
	Stores []kv.IKVStore[V]
	Topo   *node.Topology
}

const clusterShardID = 100

// NewCluster builds an in-process cluster with one worker and the given
// number of servers. handle creates the user handler of each server.
func NewCluster[V kv.Value](t testing.TB, cfg ClusterConfig, handle func() kv.IHandle[V]) *Cluster[V] {
	t.Helper()

	if cfg.Servers <= 0 {
		cfg.Servers = 1
	}
	if cfg.Shard.Range.Size() == 0 {
		cfg.Shard.Range = mail.WholeRange()
	}

	worker := node.Node{ID: 1, Role: node.RoleWorker}
	serverNodes := make([]node.Node, cfg.Servers)
	for i := range serverNodes {
		serverNodes[i] = node.Node{ID: node.ID(10 * (i + 1)), Role: node.RoleServer}
	}

	net := newLocalNet()
	parts := cfg.Shard.Range.EvenDivide(cfg.Servers)

	cluster := &Cluster[V]{}
	for i, sn := range serverNodes {
		peers := []node.Node{worker}
		for j, other := range serverNodes {
			if j != i {
				peers = append(peers, other)
			}
		}
		topo, err := node.NewTopology(sn, peers)
		if err != nil {
			t.Fatalf("failed to create server topology: %v", err)
		}

		shard := cfg.Shard
		shard.Range = parts[i]
		if shard.Type == kv.StoreBatch {
			shard.BatchKeys = keysInRange(cfg.Shard.BatchKeys, parts[i])
			if len(shard.BatchKeys) == 0 {
				t.Fatalf("no batch keys fall into server range %s, choose keys covering every range", parts[i])
			}
		}

		store, err := kv.NewKVStore[V](clusterShardID, fmt.Sprintf("server-%d", i), shard, handle(), topo, net.sender(sn.ID, topo))
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		net.bind(sn.ID, store.Container())
		cluster.Stores = append(cluster.Stores, store)
	}

	topo, err := node.NewTopology(worker, serverNodes)
	if err != nil {
		t.Fatalf("failed to create worker topology: %v", err)
	}
	cluster.Topo = topo

	cache, err := kv.NewKVCache[V](clusterShardID, "worker", topo, net.sender(worker.ID, topo))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	net.bind(worker.ID, cache.Container())
	cluster.Cache = cache

	t.Cleanup(cluster.Close)
	return cluster
}

// Close shuts down the worker and all servers.
func (c *Cluster[V]) Close() {
	c.Cache.Close()
	for _, s := range c.Stores {
		s.Close()
	}
}

func keysInRange(keys []uint64, r mail.KeyRange) []uint64 {
	var out []uint64
	for _, k := range keys {
		if r.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}
