package kv

import (
	"fmt"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// Value Types
// --------------------------------------------------------------------------

// Value enumerates the element types a key/value shard can carry.
type Value interface {
	float32 | float64 | int32 | int64
}

// --------------------------------------------------------------------------
// Store Types
// --------------------------------------------------------------------------

// StoreType selects the server-side storage discipline.
type StoreType uint8

const (
	// StoreOnline keeps a keyed table with lazily initialized entries.
	// Handlers run per key.
	StoreOnline StoreType = iota
	// StoreBatch keeps a dense array over a fixed key set. Handlers run on
	// aligned blocks.
	StoreBatch
)

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	switch t {
	case StoreOnline:
		return "online"
	case StoreBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ParseStoreType parses the string representation of a StoreType.
func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "online":
		return StoreOnline, nil
	case "batch":
		return StoreBatch, nil
	default:
		return 0, fmt.Errorf("unknown store type: %s (supported: online, batch)", s)
	}
}

// --------------------------------------------------------------------------
// User Handler
// --------------------------------------------------------------------------

// IHandle is the user-defined data plane of a server shard. The store calls
// it with aligned key/value views; vlen values per key throughout.
//
// For online stores the handler runs once per key, for batch stores once per
// aligned block.
type IHandle[V Value] interface {
	// HandleInit initializes the values of freshly allocated keys.
	HandleInit(keys []uint64, vals []V) error

	// HandlePush folds received values into the stored ones. recvVals and
	// myVals are aligned to recvKeys; myVals is updated in place.
	HandlePush(recvKeys []uint64, recvVals []V, myVals []V) error

	// HandlePull produces the values sent back for a pull. sendVals is the
	// output buffer aligned to sendKeys; myVals holds the stored values.
	HandlePull(sendKeys []uint64, myVals []V, sendVals []V) error
}

// --------------------------------------------------------------------------
// Synchronization Options
// --------------------------------------------------------------------------

// SyncOpts tunes a single Push or Pull call.
type SyncOpts struct {
	// Deps lists timestamps that must complete before this request is
	// dispatched.
	Deps []sync.Timestamp

	// Callback, if set, receives the request's result exactly once and
	// consumes it: a request delivered via callback is not reported by a
	// later Wait.
	Callback func(err error)

	// ZeroCopy lets the request reference the caller's key slice directly
	// instead of copying it. The caller must keep the slice valid and
	// unmodified until the request completes. Pull destination buffers are
	// always written in place, independent of this flag.
	ZeroCopy bool
}

// --------------------------------------------------------------------------
// Facade Interfaces
// --------------------------------------------------------------------------

// IKVCache is the worker-side facade of one shard. Typed key/value calls are
// translated into container requests; all calls return a timestamp that can
// be awaited or used as a dependency.
//
// Thread-safety: all methods are safe for concurrent use.
type IKVCache[V Value] interface {
	// Push sends vals (len(vals) a multiple of len(keys)) to the owning
	// servers. Non-blocking apart from consistency window admission.
	Push(keys []uint64, vals []V, opts SyncOpts) (sync.Timestamp, error)

	// Pull requests the values for keys and scatters the replies into vals
	// in request order. vals is written in place once replies arrive; it
	// must stay valid until the returned timestamp completes.
	Pull(keys []uint64, vals []V, opts SyncOpts) (sync.Timestamp, error)

	// Wait blocks until every request issued at or before ts has completed
	// and reports the first unconsumed failure among them.
	Wait(ts sync.Timestamp) error

	// IncrClock advances the shard's logical clock without issuing a
	// request.
	IncrClock(delta uint64) sync.Timestamp

	// SetMaxDelay sets both staleness bounds in one call.
	SetMaxDelay(pushDelay, pullDelay int)

	// SetMaxPushDelay bounds push staleness (see sync.ConsistencyWindow).
	SetMaxPushDelay(delay int)

	// SetMaxPullDelay bounds pull staleness.
	SetMaxPullDelay(delay int)

	// SetAggregator sets the node group that must acknowledge requests.
	SetAggregator(group node.Group)

	// SetRecvFunc installs an observer for incoming mails.
	SetRecvFunc(fn sync.RecvFunc)

	// SetAggregatorFunc installs an observer for completed requests.
	SetAggregatorFunc(fn sync.AggregatorFunc)

	// SetSendFunc installs an observer for outgoing mails.
	SetSendFunc(fn sync.SendFunc)

	// Container exposes the underlying synchronization container, e.g. for
	// binding it to a transport connector.
	Container() sync.IContainer

	// Close shuts the facade and its container down.
	Close()
}

// IKVStore is the server-side facade of one shard: storage for the owned
// key range plus the container answering requests against it.
//
// Thread-safety: all methods are safe for concurrent use.
type IKVStore[V Value] interface {
	// Container exposes the underlying synchronization container.
	Container() sync.IContainer

	// Range returns the key range this store serves.
	Range() mail.KeyRange

	// Len returns the number of keys currently held.
	Len() int

	// Close shuts the facade and its container down.
	Close()
}
