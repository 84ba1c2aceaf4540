// Package sync implements the synchronization core of the parameter server:
// per-shard containers that assign logical timestamps to push/pull requests,
// enforce bounded staleness, aggregate per-node acknowledgements and resolve
// request futures.
//
// The package focuses on:
//
//   - Timing: a strictly increasing logical clock per container; every
//     request is stamped exactly once (LogicalClock)
//   - Bounded staleness: a new request may only run a configurable number of
//     ticks ahead of the oldest unacknowledged request of its direction
//     (ConsistencyWindow)
//   - Completion tracking: a request completes when every node of its
//     aggregation group has replied (AckAggregator), resolving a
//     per-timestamp future (FuturePool)
//   - Decoupling: fresh requests from the transport are queued in a
//     lock-free mailbox and processed by a single loop, so Accept never
//     blocks on the data plane (Mailbox)
//
// Key Components:
//
//   - IContainer: the per-shard core combining all of the above. Workers use
//     Push/Pull/Wait, the transport feeds it via Accept/Notify
//   - IDataHandler: the container's boundary to the data plane. The
//     container owns timing and bookkeeping, the handler owns the payload
//   - ISender: the container's boundary to the transport
//
// Thread Safety:
//
// All exported types are safe for concurrent use unless their documentation
// states otherwise. A container serializes issuance and completion under a
// single internal lock; the lock is never held while a handler runs, a mail
// is sent or a caller is suspended.
package sync
