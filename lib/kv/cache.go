package kv

import (
	gosync "sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// KV Cache (worker facade)
// --------------------------------------------------------------------------

// pullScatter is the per-pull bookkeeping needed to place reply values into
// the caller's destination buffer. Servers answer with disjoint key subsets,
// so concurrent scatters write disjoint regions of dest.
type pullScatter[V Value] struct {
	vlen int
	pos  map[uint64]int // key -> position in request order
	dest []V
}

// kvCache implements IKVCache. It doubles as the container's data handler:
// outgoing payloads are validated in GetLocalData, incoming pull replies are
// scattered in MergeRemoteData.
type kvCache[V Value] struct {
	box   sync.IContainer
	pulls *xsync.MapOf[uint64, *pullScatter[V]]

	mu     gosync.Mutex
	userFn sync.AggregatorFunc
}

// NewKVCache creates the worker facade of shard id. The sender delivers
// requests to the server group.
func NewKVCache[V Value](id uint64, name string, topo *node.Topology, sender sync.ISender) (IKVCache[V], error) {
	c := &kvCache[V]{
		pulls: xsync.NewMapOf[uint64, *pullScatter[V]](),
	}

	box, err := sync.NewContainer(id, name, mail.WholeRange(), topo, sender, c)
	if err != nil {
		return nil, err
	}
	c.box = box

	// completed pulls no longer need their scatter record; the user's
	// completion observer (if any) runs afterwards
	box.SetAggregatorFunc(func(dir sync.Direction, ts sync.Timestamp) {
		if dir == sync.DirPull {
			c.pulls.Delete(uint64(ts))
		}
		c.mu.Lock()
		fn := c.userFn
		c.mu.Unlock()
		if fn != nil {
			fn(dir, ts)
		}
	})

	return c, nil
}

// checkRequest validates the facade-level cardinality contract.
func checkRequest[V Value](keys []uint64, vals []V) error {
	if len(keys) == 0 {
		return sync.NewError(sync.RetCodeInvalidRequest, "no keys")
	}
	if len(vals) == 0 || len(vals)%len(keys) != 0 {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"%d values are not a positive multiple of %d keys", len(vals), len(keys))
	}
	return nil
}

// Interface Methods (docu see IKVCache)

func (c *kvCache[V]) Push(keys []uint64, vals []V, opts SyncOpts) (sync.Timestamp, error) {
	if err := checkRequest(keys, vals); err != nil {
		return 0, err
	}

	sendKeys := keys
	if !opts.ZeroCopy {
		sendKeys = make([]uint64, len(keys))
		copy(sendKeys, keys)
	}

	return c.box.Push(&sync.Request{
		Keys: sendKeys,
		// values are encoded exactly once at issuance; with ZeroCopy the
		// encoder reads the caller's live slice
		Vals:     EncodeVals(vals),
		Deps:     opts.Deps,
		Callback: opts.Callback,
	})
}

func (c *kvCache[V]) Pull(keys []uint64, vals []V, opts SyncOpts) (sync.Timestamp, error) {
	if err := checkRequest(keys, vals); err != nil {
		return 0, err
	}

	sendKeys := keys
	if !opts.ZeroCopy {
		sendKeys = make([]uint64, len(keys))
		copy(sendKeys, keys)
	}

	sc := &pullScatter[V]{
		vlen: len(vals) / len(keys),
		pos:  make(map[uint64]int, len(keys)),
		dest: vals,
	}
	for i, k := range keys {
		sc.pos[k] = i
	}

	return c.box.Pull(&sync.Request{
		Keys: sendKeys,
		Deps: opts.Deps,
		// the scatter record must be findable before the first reply can
		// possibly arrive
		OnStamp: func(ts sync.Timestamp) {
			c.pulls.Store(uint64(ts), sc)
		},
		Callback: opts.Callback,
	})
}

func (c *kvCache[V]) Wait(ts sync.Timestamp) error {
	return c.box.Wait(ts)
}

func (c *kvCache[V]) IncrClock(delta uint64) sync.Timestamp {
	return c.box.IncrClock(delta)
}

func (c *kvCache[V]) SetMaxDelay(pushDelay, pullDelay int) {
	c.box.SetMaxDelay(pushDelay, pullDelay)
}

func (c *kvCache[V]) SetMaxPushDelay(delay int) {
	c.box.SetMaxPushDelay(delay)
}

func (c *kvCache[V]) SetMaxPullDelay(delay int) {
	c.box.SetMaxPullDelay(delay)
}

func (c *kvCache[V]) SetAggregator(group node.Group) {
	c.box.SetAggregator(group)
}

func (c *kvCache[V]) SetRecvFunc(fn sync.RecvFunc) {
	c.box.SetRecvFunc(fn)
}

func (c *kvCache[V]) SetAggregatorFunc(fn sync.AggregatorFunc) {
	// the container-level observer slot is taken by the scatter cleanup,
	// user observers are chained behind it
	c.mu.Lock()
	c.userFn = fn
	c.mu.Unlock()
}

func (c *kvCache[V]) SetSendFunc(fn sync.SendFunc) {
	c.box.SetSendFunc(fn)
}

func (c *kvCache[V]) Container() sync.IContainer {
	return c.box
}

func (c *kvCache[V]) Close() {
	c.box.Close()
	c.pulls.Clear()
}

// --------------------------------------------------------------------------
// Data Handler (container boundary)
// --------------------------------------------------------------------------

// Interface Methods (docu see sync.IDataHandler)

func (c *kvCache[V]) GetLocalData(m *mail.Mail) error {
	// outgoing requests carry their payload already; pushes must have one
	if m.Head.Flags.Has(mail.FlagPush) && len(m.Vals) == 0 {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"push %d has no payload", m.Head.Time)
	}
	return nil
}

func (c *kvCache[V]) MergeRemoteData(m *mail.Mail) error {
	// push acknowledgements carry no payload
	if !m.Head.Flags.Has(mail.FlagPull) {
		return nil
	}
	// a server owning none of the requested keys answers with an empty set
	if len(m.Keys) == 0 {
		return nil
	}

	sc, ok := c.pulls.Load(m.Head.Time)
	if !ok {
		return sync.NewError(sync.RetCodeUnknownTimestamp,
			"no pull registered for timestamp %d", m.Head.Time)
	}

	recvVals, err := DecodeAll[V](m.Vals)
	if err != nil {
		return err
	}
	if len(recvVals) != len(m.Keys)*sc.vlen {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"pull reply with %d values for %d keys (vlen %d)", len(recvVals), len(m.Keys), sc.vlen)
	}

	for i, k := range m.Keys {
		base, ok := sc.pos[k]
		if !ok {
			return sync.NewError(sync.RetCodeInvalidRequest,
				"pull reply contains unrequested key %d", k)
		}
		copy(sc.dest[base*sc.vlen:(base+1)*sc.vlen], recvVals[i*sc.vlen:(i+1)*sc.vlen])
	}
	return nil
}
