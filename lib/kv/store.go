package kv

import (
	gosync "sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// Store Configuration
// --------------------------------------------------------------------------

// Config describes one server-side shard.
type Config struct {
	// Type selects the storage discipline.
	Type StoreType

	// ValLen is the number of values per key. Defaults to 1.
	ValLen int

	// BatchKeys is the fixed, sorted key set of a batch store. Ignored for
	// online stores.
	BatchKeys []uint64

	// Range is the key range this server owns. The zero value means the
	// whole key space.
	Range mail.KeyRange
}

// --------------------------------------------------------------------------
// KV Store (server facade)
// --------------------------------------------------------------------------

// kvStore implements IKVStore and the container's data handler: incoming
// pushes are merged in MergeRemoteData, pull replies are produced in
// GetLocalData. Keys outside the owned range are filtered out.
type kvStore[V Value] struct {
	box    sync.IContainer
	handle IHandle[V]
	vlen   int
	rng    mail.KeyRange

	// batch storage: a dense array over the fixed key set
	bmu   gosync.RWMutex
	batch bool
	keys  []uint64
	kpos  map[uint64]int
	dense []V

	// online storage: a keyed table with per-key atomic updates
	table *xsync.MapOf[uint64, []V]
}

// NewKVStore creates the server facade of shard id with the given storage
// discipline and user handler. Batch stores are initialized eagerly via
// HandleInit, online stores initialize keys on first touch.
func NewKVStore[V Value](id uint64, name string, cfg Config, handle IHandle[V], topo *node.Topology, sender sync.ISender) (IKVStore[V], error) {
	if handle == nil {
		return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: no handler", name)
	}
	if cfg.ValLen < 0 {
		return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: negative value length", name)
	}
	if cfg.ValLen == 0 {
		cfg.ValLen = 1
	}
	if cfg.Range.Size() == 0 {
		cfg.Range = mail.WholeRange()
	}

	s := &kvStore[V]{
		handle: handle,
		vlen:   cfg.ValLen,
		rng:    cfg.Range,
	}

	switch cfg.Type {
	case StoreBatch:
		if len(cfg.BatchKeys) == 0 {
			return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: batch store without keys", name)
		}
		s.batch = true
		s.keys = make([]uint64, len(cfg.BatchKeys))
		copy(s.keys, cfg.BatchKeys)
		s.kpos = make(map[uint64]int, len(s.keys))
		for i, k := range s.keys {
			if i > 0 && s.keys[i-1] >= k {
				return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: batch keys must be sorted and unique", name)
			}
			if !s.rng.Contains(k) {
				return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: batch key %d outside range %s", name, k, s.rng)
			}
			s.kpos[k] = i
		}
		s.dense = make([]V, len(s.keys)*s.vlen)
		if err := handle.HandleInit(s.keys, s.dense); err != nil {
			return nil, sync.NewError(sync.RetCodeHandlerFailure, "store %q: init: %v", name, err)
		}

	case StoreOnline:
		s.table = xsync.NewMapOf[uint64, []V]()

	default:
		return nil, sync.NewError(sync.RetCodeInvalidRequest, "store %q: unknown store type", name)
	}

	box, err := sync.NewContainer(id, name, s.rng, topo, sender, s)
	if err != nil {
		return nil, err
	}
	s.box = box

	return s, nil
}

// Interface Methods (docu see IKVStore)

func (s *kvStore[V]) Container() sync.IContainer {
	return s.box
}

func (s *kvStore[V]) Range() mail.KeyRange {
	return s.rng
}

func (s *kvStore[V]) Len() int {
	if s.batch {
		return len(s.keys)
	}
	return s.table.Size()
}

func (s *kvStore[V]) Close() {
	s.box.Close()
}

// --------------------------------------------------------------------------
// Data Handler (container boundary)
// --------------------------------------------------------------------------

// ownedSubset returns the indices of the requested keys this store serves.
func (s *kvStore[V]) ownedSubset(keys []uint64) []int {
	idx := make([]int, 0, len(keys))
	for i, k := range keys {
		if s.rng.Contains(k) {
			idx = append(idx, i)
		}
	}
	return idx
}

// MergeRemoteData folds an incoming push request into the stored values.
func (s *kvStore[V]) MergeRemoteData(m *mail.Mail) error {
	if m.Head.Flags.IsReply() {
		// acknowledgements of this store's own requests carry no payload
		return nil
	}
	if len(m.Keys) == 0 {
		return sync.NewError(sync.RetCodeInvalidRequest, "push %d without keys", m.Head.Time)
	}

	recvVals, err := DecodeAll[V](m.Vals)
	if err != nil {
		return err
	}
	if len(recvVals) != len(m.Keys)*s.vlen {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"push %d with %d values for %d keys (vlen %d)", m.Head.Time, len(recvVals), len(m.Keys), s.vlen)
	}

	idx := s.ownedSubset(m.Keys)
	if len(idx) == 0 {
		return nil
	}

	if s.batch {
		return s.mergeBatch(m.Keys, recvVals, idx)
	}
	return s.mergeOnline(m.Keys, recvVals, idx)
}

func (s *kvStore[V]) mergeBatch(keys []uint64, recvVals []V, idx []int) error {
	s.bmu.Lock()
	defer s.bmu.Unlock()

	// fast path: the push covers exactly the full fixed key set, the
	// handler sees the stored array directly
	if len(idx) == len(keys) && len(keys) == len(s.keys) && keys[0] == s.keys[0] && keys[len(keys)-1] == s.keys[len(s.keys)-1] {
		aligned := true
		for i, k := range keys {
			if s.keys[i] != k {
				aligned = false
				break
			}
		}
		if aligned {
			return s.handle.HandlePush(keys, recvVals, s.dense)
		}
	}

	// gather the touched blocks, run the handler on the aligned view and
	// scatter the result back
	subKeys := make([]uint64, len(idx))
	subVals := make([]V, len(idx)*s.vlen)
	myView := make([]V, len(idx)*s.vlen)
	for o, i := range idx {
		k := keys[i]
		p, ok := s.kpos[k]
		if !ok {
			return sync.NewError(sync.RetCodeInvalidRequest, "key %d is not part of the batch key set", k)
		}
		subKeys[o] = k
		copy(subVals[o*s.vlen:(o+1)*s.vlen], recvVals[i*s.vlen:(i+1)*s.vlen])
		copy(myView[o*s.vlen:(o+1)*s.vlen], s.dense[p*s.vlen:(p+1)*s.vlen])
	}

	if err := s.handle.HandlePush(subKeys, subVals, myView); err != nil {
		return err
	}

	for o, k := range subKeys {
		p := s.kpos[k]
		copy(s.dense[p*s.vlen:(p+1)*s.vlen], myView[o*s.vlen:(o+1)*s.vlen])
	}
	return nil
}

func (s *kvStore[V]) mergeOnline(keys []uint64, recvVals []V, idx []int) error {
	var handleErr error
	for _, i := range idx {
		k := keys[i]
		seg := recvVals[i*s.vlen : (i+1)*s.vlen]

		s.table.Compute(k, func(cur []V, loaded bool) ([]V, bool) {
			if !loaded {
				cur = make([]V, s.vlen)
				if err := s.handle.HandleInit([]uint64{k}, cur); err != nil {
					handleErr = err
					return nil, true
				}
			}
			if err := s.handle.HandlePush([]uint64{k}, seg, cur); err != nil {
				handleErr = err
			}
			return cur, false
		})

		if handleErr != nil {
			return handleErr
		}
	}
	return nil
}

// GetLocalData answers a pull request: the owned subset of the requested
// keys is kept in m.Keys and their values are encoded into m.Vals.
func (s *kvStore[V]) GetLocalData(m *mail.Mail) error {
	if m.Head.Flags.IsRequest() {
		// this store's own outgoing requests carry their payload already
		return nil
	}
	if len(m.Keys) == 0 {
		return sync.NewError(sync.RetCodeInvalidRequest, "pull %d without keys", m.Head.Time)
	}

	idx := s.ownedSubset(m.Keys)
	subKeys := make([]uint64, len(idx))
	for o, i := range idx {
		subKeys[o] = m.Keys[i]
	}

	var sendVals []V
	var err error
	if s.batch {
		sendVals, err = s.pullBatch(subKeys)
	} else {
		sendVals, err = s.pullOnline(subKeys)
	}
	if err != nil {
		return err
	}

	m.Keys = subKeys
	m.Vals = EncodeVals(sendVals)
	return nil
}

func (s *kvStore[V]) pullBatch(subKeys []uint64) ([]V, error) {
	s.bmu.RLock()
	defer s.bmu.RUnlock()

	sendVals := make([]V, len(subKeys)*s.vlen)

	// fast path: the pull covers exactly the full fixed key set
	if len(subKeys) == len(s.keys) {
		aligned := true
		for i, k := range subKeys {
			if s.keys[i] != k {
				aligned = false
				break
			}
		}
		if aligned {
			if err := s.handle.HandlePull(subKeys, s.dense, sendVals); err != nil {
				return nil, err
			}
			return sendVals, nil
		}
	}

	myView := make([]V, len(subKeys)*s.vlen)
	for o, k := range subKeys {
		p, ok := s.kpos[k]
		if !ok {
			return nil, sync.NewError(sync.RetCodeInvalidRequest, "key %d is not part of the batch key set", k)
		}
		copy(myView[o*s.vlen:(o+1)*s.vlen], s.dense[p*s.vlen:(p+1)*s.vlen])
	}

	if err := s.handle.HandlePull(subKeys, myView, sendVals); err != nil {
		return nil, err
	}
	return sendVals, nil
}

func (s *kvStore[V]) pullOnline(subKeys []uint64) ([]V, error) {
	sendVals := make([]V, len(subKeys)*s.vlen)

	var handleErr error
	for o, k := range subKeys {
		seg := sendVals[o*s.vlen : (o+1)*s.vlen]

		// Compute serializes the read with concurrent per-key merges
		s.table.Compute(k, func(cur []V, loaded bool) ([]V, bool) {
			if !loaded {
				cur = make([]V, s.vlen)
				if err := s.handle.HandleInit([]uint64{k}, cur); err != nil {
					handleErr = err
					return nil, true
				}
			}
			if err := s.handle.HandlePull([]uint64{k}, cur, seg); err != nil {
				handleErr = err
			}
			return cur, false
		})

		if handleErr != nil {
			return nil, handleErr
		}
	}
	return sendVals, nil
}
