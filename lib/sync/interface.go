package sync

import (
	"fmt"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
)

// --------------------------------------------------------------------------
// Basic Types
// --------------------------------------------------------------------------

// Timestamp is a logical point in time assigned by a container's clock.
// Timestamps start at 1 and are strictly increasing per container.
type Timestamp uint64

// CurTime is a sentinel accepted by Wait. It stands for the current clock
// value at the time of the call.
const CurTime = Timestamp(^uint64(0))

// InfiniteDelay disables a consistency window. Any negative delay does.
const InfiniteDelay = -1

// Direction distinguishes the two request kinds a container issues.
type Direction uint8

const (
	// DirPush marks requests that deliver data to the owning servers.
	DirPush Direction = iota
	// DirPull marks requests that fetch data from the owning servers.
	DirPull
)

// String returns the string representation of a Direction.
func (d Direction) String() string {
	switch d {
	case DirPush:
		return "push"
	case DirPull:
		return "pull"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Error Definition
// --------------------------------------------------------------------------

// RetCode classifies the errors of the sync layer.
type RetCode int

const (
	// RetCodeSuccess indicates the operation completed successfully.
	RetCodeSuccess RetCode = iota
	// RetCodeInvalidRequest indicates a malformed request (empty keys,
	// mismatched value cardinality, a dependency on a future timestamp).
	// It is returned synchronously to the caller.
	RetCodeInvalidRequest
	// RetCodeDuplicateResolution indicates a timestamp was resolved twice.
	// This is a fatal programming error.
	RetCodeDuplicateResolution
	// RetCodeUnknownTimestamp indicates a mail or lookup referenced a
	// timestamp with no pending record. Such mails are dropped.
	RetCodeUnknownTimestamp
	// RetCodeHandlerFailure indicates a handler callback returned an error.
	// The failure resolves the request's future.
	RetCodeHandlerFailure
	// RetCodeClosed indicates the container was closed.
	RetCodeClosed
	// RetCodeInternalError indicates an unexpected internal condition.
	RetCodeInternalError
)

// String returns the string representation of a RetCode.
func (c RetCode) String() string {
	switch c {
	case RetCodeSuccess:
		return "success"
	case RetCodeInvalidRequest:
		return "invalid request"
	case RetCodeDuplicateResolution:
		return "duplicate resolution"
	case RetCodeUnknownTimestamp:
		return "unknown timestamp"
	case RetCodeHandlerFailure:
		return "handler failure"
	case RetCodeClosed:
		return "closed"
	case RetCodeInternalError:
		return "internal error"
	default:
		return fmt.Sprintf("ret code %d", int(c))
	}
}

// Error is the error type of the sync layer.
type Error struct {
	Code RetCode
	Msg  string
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, format string, a ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, a...)}
}

// AsError returns err as *Error if it is one.
func AsError(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// ISender delivers mails to other nodes. Implementations enqueue the mail for
// asynchronous delivery and return quickly. An error indicates a local
// failure (e.g. serialization); delivery itself is not awaited.
type ISender interface {
	// Send delivers m to a single node.
	Send(to node.ID, m *mail.Mail) error

	// SendGroup delivers m to every member of the group.
	SendGroup(group node.Group, m *mail.Mail) error
}

// IDataHandler is the container's boundary to the data plane. The container
// owns timing and bookkeeping, the handler owns the payload.
//
// Handlers must not call back into the container from within these methods.
type IDataHandler interface {
	// GetLocalData fills the payload of an outgoing mail. On the issuing
	// side m already carries the request's keys and values and the handler
	// may validate or replace them. On the answering side m carries the
	// requested keys and the handler supplies the owned subset with values.
	GetLocalData(m *mail.Mail) error

	// MergeRemoteData folds an incoming payload into local state. On the
	// answering side m is a fresh push request. On the issuing side m is a
	// reply (push acknowledgements carry no payload, pull replies carry the
	// values to scatter into the caller's buffer).
	MergeRemoteData(m *mail.Mail) error
}

// --------------------------------------------------------------------------
// Request Definition
// --------------------------------------------------------------------------

// Request describes one push or pull a caller hands to a container. The
// container assigns the timestamp; everything else is provided up front.
type Request struct {
	// Keys is the sorted list of keys the request touches.
	Keys []uint64

	// Vals is the encoded value payload for pushes. Pulls leave it nil.
	Vals []byte

	// Deps lists timestamps that must be acknowledged before this request
	// is dispatched. Dependencies on already-completed timestamps are
	// satisfied immediately.
	Deps []Timestamp

	// OnStamp, if set, is invoked exactly once with the assigned timestamp,
	// after the request is registered but before it is dispatched. Callers
	// use it to file timestamp-keyed state (e.g. a pull destination buffer).
	OnStamp func(ts Timestamp)

	// Callback, if set, is invoked exactly once when the request completes,
	// with nil on success or the failure that resolved it. It runs on the
	// goroutine delivering the final reply and must not block.
	Callback func(err error)
}

// --------------------------------------------------------------------------
// Hook Types
// --------------------------------------------------------------------------

// RecvFunc observes every mail accepted by a container, before processing.
type RecvFunc func(m *mail.Mail)

// AggregatorFunc observes every request reaching full acknowledgement.
type AggregatorFunc func(dir Direction, ts Timestamp)

// SendFunc observes every mail a container hands to its sender.
type SendFunc func(m *mail.Mail)

// --------------------------------------------------------------------------
// Container Interface
// --------------------------------------------------------------------------

// Stats is a point-in-time snapshot of a container's progress.
type Stats struct {
	// Clock is the current logical time.
	Clock Timestamp
	// PendingPush is the number of pushes not yet fully acknowledged.
	PendingPush int
	// PendingPull is the number of pulls not yet fully acknowledged.
	PendingPull int
	// Accepted counts all mails handed to Accept since creation.
	Accepted uint64
}

// IContainer is the synchronization core of one key/value shard. It assigns
// timestamps, enforces bounded staleness, tracks acknowledgements and bridges
// between the caller, the data handler and the transport.
//
// Thread-safety: all methods are safe for concurrent use.
type IContainer interface {
	// ID returns the container's deployment-wide identifier.
	ID() uint64

	// Range returns the key range this container serves.
	Range() mail.KeyRange

	// Push issues a push request and returns its timestamp. The call blocks
	// while the push consistency window is full or dependencies are
	// outstanding, but never waits for the request's own acknowledgements.
	Push(req *Request) (Timestamp, error)

	// Pull issues a pull request and returns its timestamp. Blocking
	// behavior matches Push, governed by the pull consistency window.
	Pull(req *Request) (Timestamp, error)

	// Wait blocks until every push and pull issued at or before ts has
	// completed. The sentinel CurTime waits for everything issued so far.
	Wait(ts Timestamp) error

	// TryGetResult reports whether the request issued at ts has completed,
	// and if so with which result. It never blocks.
	TryGetResult(ts Timestamp) (err error, done bool)

	// Accept ingests a mail from the transport. Replies are matched against
	// pending requests on the calling goroutine; fresh requests are queued
	// for the container's processing loop. Accept never blocks on the data
	// plane.
	Accept(m *mail.Mail)

	// Notify records that the transport has physically sent the request
	// issued at the header's timestamp. Unknown timestamps are ignored.
	Notify(h *mail.Header)

	// IncrClock advances the logical clock by delta without issuing a
	// request and returns the new time.
	IncrClock(delta uint64) Timestamp

	// SetMaxDelay sets both direction bounds in one call.
	SetMaxDelay(pushDelay, pullDelay int)

	// SetMaxPushDelay bounds how far a new push may run ahead of the oldest
	// unacknowledged push. Negative delays disable the bound.
	SetMaxPushDelay(delay int)

	// SetMaxPullDelay bounds how far a new pull may run ahead of the oldest
	// unacknowledged pull. Negative delays disable the bound.
	SetMaxPullDelay(delay int)

	// SetAggregator sets the node group whose full acknowledgement completes
	// subsequently issued requests.
	SetAggregator(group node.Group)

	// SetRecvFunc installs an observer for accepted mails.
	SetRecvFunc(fn RecvFunc)

	// SetAggregatorFunc installs an observer for completed requests.
	SetAggregatorFunc(fn AggregatorFunc)

	// SetSendFunc installs an observer for outgoing mails.
	SetSendFunc(fn SendFunc)

	// Stats returns a snapshot of the container's progress.
	Stats() Stats

	// Close shuts the container down. Blocked admissions and waits return
	// RetCodeClosed; subsequent requests are rejected.
	Close()
}
