package sync

import (
	gosync "sync"
	"testing"

	"github.com/Ambier/parameter-server/lib/node"
)

func newAggTopology(t *testing.T) *node.Topology {
	t.Helper()

	topo, err := node.NewTopology(
		node.Node{ID: 1, Role: node.RoleWorker},
		[]node.Node{
			{ID: 10, Role: node.RoleServer},
			{ID: 20, Role: node.RoleServer},
			{ID: 30, Role: node.RoleServer},
		},
	)
	if err != nil {
		t.Fatalf("failed to create topology: %v", err)
	}
	return topo
}

func TestAggregatorCollectsGroup(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	a.Insert(1, 10)
	if a.IsSuccessful(1, node.GroupServers) {
		t.Error("expected one of three replies to be insufficient")
	}
	if got := a.Count(1); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}

	a.Insert(1, 20)
	a.Insert(1, 30)
	if !a.IsSuccessful(1, node.GroupServers) {
		t.Error("expected full server group to complete the timestamp")
	}
}

func TestAggregatorIdempotentInsert(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	for i := 0; i < 5; i++ {
		a.Insert(2, 10)
	}
	if got := a.Count(2); got != 1 {
		t.Errorf("expected duplicate inserts to count once, got %d", got)
	}
	if a.IsSuccessful(2, node.GroupServers) {
		t.Error("expected repeated replies from one node to be insufficient")
	}
}

func TestAggregatorMonotonicSuccess(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	a.Insert(3, 10)
	a.Insert(3, 20)
	a.Insert(3, 30)

	// once successful, extra inserts must not flip the result
	for i := 0; i < 3; i++ {
		if !a.IsSuccessful(3, node.GroupServers) {
			t.Fatal("expected success to be stable")
		}
		a.Insert(3, 10)
	}
}

func TestAggregatorDelete(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	a.Insert(4, 10)
	a.Delete(4)

	if got := a.Count(4); got != 0 {
		t.Errorf("expected count 0 after delete, got %d", got)
	}
	if a.Len() != 0 {
		t.Errorf("expected no entries after delete, got %d", a.Len())
	}

	// deleting an absent timestamp is a no-op
	a.Delete(4)
}

func TestAggregatorUnknownTimestamp(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	if a.IsSuccessful(42, node.GroupServers) {
		t.Error("expected unknown timestamp not to be successful")
	}
}

func TestAggregatorWorkerGroup(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	// the worker group consists of the single local node
	a.Insert(5, 1)
	if !a.IsSuccessful(5, node.GroupWorkers) {
		t.Error("expected single worker reply to complete the worker group")
	}
	if a.IsSuccessful(5, node.GroupServers) {
		t.Error("expected server group to be incomplete")
	}
}

func TestAggregatorConcurrentInserts(t *testing.T) {
	a := NewAckAggregator(newAggTopology(t))

	var wg gosync.WaitGroup
	for _, id := range []node.ID{10, 20, 30} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id node.ID) {
				defer wg.Done()
				a.Insert(6, id)
			}(id)
		}
	}
	wg.Wait()

	if got := a.Count(6); got != 3 {
		t.Errorf("expected 3 distinct nodes, got %d", got)
	}
	if !a.IsSuccessful(6, node.GroupServers) {
		t.Error("expected concurrent inserts to complete the group")
	}
}
