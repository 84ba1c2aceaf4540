package sync

import (
	gosync "sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
)

var Logger = logger.GetLogger("sync")

// --------------------------------------------------------------------------
// Request Lifecycle
// --------------------------------------------------------------------------

// reqState tracks how far a pending request has progressed. The states are
// bookkeeping only; completion is driven by the acknowledgement set.
type reqState uint8

const (
	// stateCreated: issued but not yet handed to the transport.
	stateCreated reqState = iota
	// stateSent: the transport confirmed physical send via Notify.
	stateSent
	// statePartiallyAcked: at least one node replied, the group is not
	// complete yet.
	statePartiallyAcked
)

// pendingReq is the container-side record of one in-flight request. It is
// created at issuance and removed at completion; a timestamp without a
// record is either unissued or done.
type pendingReq struct {
	ts    Timestamp
	dir   Direction
	state reqState
	group node.Group
	req   *Request
	err   error // first failure observed, becomes the future's result
}

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

// container implements IContainer. A single mutex serializes issuance,
// completion and all clock movement; one condition variable backs both the
// consistency windows and the Wait barrier. The lock is never held across
// handler calls, sends or suspensions.
type container struct {
	id      uint64
	name    string
	rng     mail.KeyRange
	topo    *node.Topology
	sender  ISender
	handler IDataHandler

	mu      gosync.Mutex
	cond    *gosync.Cond
	closed  bool
	clock   *LogicalClock
	pending map[Timestamp]*pendingReq
	pushWin *ConsistencyWindow
	pullWin *ConsistencyWindow
	group   node.Group

	recvFn RecvFunc
	aggFn  AggregatorFunc
	sendFn SendFunc

	pushPool *FuturePool[error]
	pullPool *FuturePool[error]
	agg      *AckAggregator
	inbox    *Mailbox
	loop     gosync.WaitGroup

	accepted atomic.Uint64
}

// NewContainer creates a container for the key range rng and starts its
// processing loop. The sender delivers outgoing mails, the handler owns the
// data plane. Aggregation defaults to the server group, both consistency
// windows start disabled.
func NewContainer(id uint64, name string, rng mail.KeyRange, topo *node.Topology, sender ISender, handler IDataHandler) (IContainer, error) {
	if topo == nil {
		return nil, NewError(RetCodeInvalidRequest, "container %q: no topology", name)
	}
	if sender == nil {
		return nil, NewError(RetCodeInvalidRequest, "container %q: no sender", name)
	}
	if handler == nil {
		return nil, NewError(RetCodeInvalidRequest, "container %q: no data handler", name)
	}
	if !rng.Valid() {
		return nil, NewError(RetCodeInvalidRequest, "container %q: invalid range %s", name, rng)
	}

	c := &container{
		id:       id,
		name:     name,
		rng:      rng,
		topo:     topo,
		sender:   sender,
		handler:  handler,
		clock:    NewLogicalClock(),
		pending:  make(map[Timestamp]*pendingReq),
		group:    node.GroupServers,
		pushPool: NewFuturePool[error](),
		pullPool: NewFuturePool[error](),
		agg:      NewAckAggregator(topo),
		inbox:    NewMailbox(),
	}
	c.cond = gosync.NewCond(&c.mu)
	c.pushWin = NewConsistencyWindow(DirPush, c.cond)
	c.pullWin = NewConsistencyWindow(DirPull, c.cond)

	c.loop.Add(1)
	go c.serveLoop()

	return c, nil
}

func (c *container) ID() uint64 {
	return c.id
}

func (c *container) Range() mail.KeyRange {
	return c.rng
}

func (c *container) window(dir Direction) *ConsistencyWindow {
	if dir == DirPush {
		return c.pushWin
	}
	return c.pullWin
}

func (c *container) pool(dir Direction) *FuturePool[error] {
	if dir == DirPush {
		return c.pushPool
	}
	return c.pullPool
}

// --------------------------------------------------------------------------
// Request Issuance
// --------------------------------------------------------------------------

// Interface Methods (docu see IContainer)

func (c *container) Push(req *Request) (Timestamp, error) {
	return c.issue(DirPush, req)
}

func (c *container) Pull(req *Request) (Timestamp, error) {
	return c.issue(DirPull, req)
}

// issue runs the full issuance sequence: validate, admit against the
// direction's window, stamp, register, satisfy dependencies, build the
// outgoing mail and dispatch it. Admission, stamping and registration happen
// atomically under the container lock; everything after runs without it.
func (c *container) issue(dir Direction, req *Request) (Timestamp, error) {
	if req == nil || len(req.Keys) == 0 {
		return 0, NewError(RetCodeInvalidRequest, "container %q: %s without keys", c.name, dir)
	}
	for i := 1; i < len(req.Keys); i++ {
		if req.Keys[i-1] >= req.Keys[i] {
			return 0, NewError(RetCodeInvalidRequest, "container %q: keys must be sorted and unique", c.name)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, NewError(RetCodeClosed, "container %q closed", c.name)
	}

	// dependencies must reference already-issued timestamps
	for _, dep := range req.Deps {
		if dep == 0 || dep > c.clock.Current() {
			c.mu.Unlock()
			return 0, NewError(RetCodeInvalidRequest,
				"container %q: dependency %d was never issued", c.name, dep)
		}
	}

	w := c.window(dir)
	if err := w.Admit(
		func() Timestamp { return c.clock.Current() + 1 },
		func() bool { return c.closed },
	); err != nil {
		c.mu.Unlock()
		return 0, err
	}

	ts := c.clock.Advance(1)
	w.Open(ts)
	rec := &pendingReq{ts: ts, dir: dir, state: stateCreated, group: c.group, req: req}
	c.pending[ts] = rec
	expect := c.topo.Resolve(rec.group)
	if err := c.pool(dir).Register(ts); err != nil {
		// timestamps are unique, a collision means the clock went backwards
		Logger.Panicf("container %q: %v", c.name, err)
	}
	c.mu.Unlock()

	if req.OnStamp != nil {
		req.OnStamp(ts)
	}

	// dependencies are awaited without the lock so acknowledgements can
	// flow in meanwhile
	for _, dep := range req.Deps {
		c.awaitDep(dep)
	}

	var m *mail.Mail
	self := c.topo.Self().ID
	if dir == DirPush {
		m = mail.NewPushRequest(c.id, uint64(ts), self, req.Keys, req.Vals)
	} else {
		m = mail.NewPullRequest(c.id, uint64(ts), self, req.Keys)
	}

	if err := c.handler.GetLocalData(m); err != nil {
		c.completeLocal(rec, NewError(RetCodeHandlerFailure,
			"get local data for %s %d: %v", dir, ts, err))
		return ts, nil
	}

	c.mu.Lock()
	sendFn := c.sendFn
	c.mu.Unlock()
	if sendFn != nil {
		sendFn(m)
	}

	if err := c.sender.SendGroup(rec.group, m); err != nil {
		c.completeLocal(rec, NewError(RetCodeInternalError,
			"send %s %d: %v", dir, ts, err))
		return ts, nil
	}

	if len(expect) == 0 {
		// nobody will ever reply
		c.completeLocal(rec, nil)
	}

	return ts, nil
}

// awaitDep blocks until dep has completed. Dependencies that are no longer
// pending are satisfied immediately.
func (c *container) awaitDep(dep Timestamp) {
	c.mu.Lock()
	rec, ok := c.pending[dep]
	if !ok {
		c.mu.Unlock()
		return
	}
	dir := rec.dir
	c.mu.Unlock()

	// the future outlives the pending record, a failed lookup means the
	// dependency completed and its result was already consumed
	_, _ = c.pool(dir).Wait(dep)
}

// --------------------------------------------------------------------------
// Mail Ingestion
// --------------------------------------------------------------------------

// Interface Methods (docu see IContainer)

func (c *container) Accept(m *mail.Mail) {
	if m == nil {
		return
	}
	c.accepted.Add(1)

	c.mu.Lock()
	recvFn := c.recvFn
	c.mu.Unlock()
	if recvFn != nil {
		recvFn(m)
	}

	if m.Head.Flags.IsReply() {
		c.acceptReply(m)
		return
	}

	if !c.inbox.Push(m) {
		Logger.Warningf("container %q: dropping %s, mailbox closed", c.name, m)
	}
}

// acceptReply matches a reply against its pending request, folds the payload
// into local state and completes the request once the full group has
// answered. Runs on the transport goroutine that delivered the reply.
func (c *container) acceptReply(m *mail.Mail) {
	ts := Timestamp(m.Head.Time)
	dir := DirPush
	if m.Head.Flags.Has(mail.FlagPull) {
		dir = DirPull
	}

	c.mu.Lock()
	rec, ok := c.pending[ts]
	if !ok || rec.dir != dir {
		c.mu.Unlock()
		Logger.Warningf("container %q: dropping reply for unknown timestamp %d from node %d",
			c.name, ts, m.Head.Sender)
		return
	}
	rec.state = statePartiallyAcked
	c.mu.Unlock()

	var failure error
	if m.Head.Flags.Has(mail.FlagOK) {
		if err := c.handler.MergeRemoteData(m); err != nil {
			failure = NewError(RetCodeHandlerFailure,
				"merge reply for %s %d: %v", dir, ts, err)
		}
	} else {
		failure = NewError(RetCodeHandlerFailure,
			"%s %d failed on node %d: %s", dir, ts, m.Head.Sender, m.Err)
	}
	if failure != nil {
		c.mu.Lock()
		if rec.err == nil {
			rec.err = failure
		}
		c.mu.Unlock()
	}

	c.agg.Insert(ts, m.Head.Sender)
	done := c.agg.IsSuccessful(ts, rec.group)

	c.mu.Lock()
	if _, still := c.pending[ts]; !still {
		// a concurrent reply completed the request while we were merging
		c.mu.Unlock()
		c.agg.Delete(ts)
		return
	}
	if !done {
		c.mu.Unlock()
		return
	}
	delete(c.pending, ts)
	result := rec.err
	c.window(dir).Acknowledge(ts)
	c.cond.Broadcast()
	aggFn := c.aggFn
	c.mu.Unlock()

	c.agg.Delete(ts)
	c.finish(dir, rec, result, aggFn)
}

// completeLocal finishes a request that will not (or can not) be answered by
// the group: local handler failure, send failure or an empty expected set.
func (c *container) completeLocal(rec *pendingReq, result error) {
	c.mu.Lock()
	if _, still := c.pending[rec.ts]; !still {
		c.mu.Unlock()
		return
	}
	delete(c.pending, rec.ts)
	c.window(rec.dir).Acknowledge(rec.ts)
	c.cond.Broadcast()
	aggFn := c.aggFn
	c.mu.Unlock()

	c.agg.Delete(rec.ts)
	c.finish(rec.dir, rec, result, aggFn)
}

// finish resolves the future, delivers the callback and runs the completion
// hook. Must be called exactly once per request; the pending-map removal
// under the lock guarantees a single caller.
func (c *container) finish(dir Direction, rec *pendingReq, result error, aggFn AggregatorFunc) {
	if err := c.pool(dir).Resolve(rec.ts, result); err != nil {
		if e, ok := AsError(err); ok && e.Code == RetCodeDuplicateResolution {
			Logger.Panicf("container %q: timestamp %d resolved twice", c.name, rec.ts)
		}
		Logger.Errorf("container %q: resolving %s %d: %v", c.name, dir, rec.ts, err)
	}

	if rec.req.Callback != nil {
		rec.req.Callback(result)
		// the callback consumed the result
		c.pool(dir).Remove(rec.ts)
	}

	if aggFn != nil {
		aggFn(dir, rec.ts)
	}
}

// --------------------------------------------------------------------------
// Server Processing Loop
// --------------------------------------------------------------------------

// serveLoop drains the mailbox and answers fresh requests. It is the single
// consumer of the inbox and exits once the mailbox is closed and drained.
func (c *container) serveLoop() {
	defer c.loop.Done()
	for m := range c.inbox.Recv() {
		c.process(m)
	}
}

// process answers one fresh request: pushes are merged into local state and
// acknowledged, pulls are answered with the locally owned values.
func (c *container) process(m *mail.Mail) {
	self := c.topo.Self().ID
	var reply *mail.Mail

	switch {
	case m.Head.Flags.Has(mail.FlagPush):
		if err := c.handler.MergeRemoteData(m); err != nil {
			Logger.Warningf("container %q: merging push %d from node %d: %v",
				c.name, m.Head.Time, m.Head.Sender, err)
			reply = mail.NewErrorReply(&m.Head, self, err)
		} else {
			reply = mail.NewPushAck(&m.Head, self, c.rng)
		}

	case m.Head.Flags.Has(mail.FlagPull):
		out := mail.NewPullReply(&m.Head, self, c.rng, m.Keys, nil)
		if err := c.handler.GetLocalData(out); err != nil {
			Logger.Warningf("container %q: answering pull %d from node %d: %v",
				c.name, m.Head.Time, m.Head.Sender, err)
			reply = mail.NewErrorReply(&m.Head, self, err)
		} else {
			reply = out
		}

	default:
		Logger.Warningf("container %q: dropping mail with flags %s", c.name, m.Head.Flags)
		return
	}

	c.mu.Lock()
	sendFn := c.sendFn
	c.mu.Unlock()
	if sendFn != nil {
		sendFn(reply)
	}

	if err := c.sender.Send(m.Head.Sender, reply); err != nil {
		Logger.Errorf("container %q: sending reply for timestamp %d to node %d: %v",
			c.name, m.Head.Time, m.Head.Sender, err)
	}
}

// --------------------------------------------------------------------------
// Progress and Bookkeeping
// --------------------------------------------------------------------------

// Interface Methods (docu see IContainer)

func (c *container) Notify(h *mail.Header) {
	if h == nil || h.Flags.IsReply() {
		return
	}
	ts := Timestamp(h.Time)

	c.mu.Lock()
	if rec, ok := c.pending[ts]; ok && rec.state == stateCreated {
		rec.state = stateSent
	}
	c.mu.Unlock()
}

func (c *container) Wait(ts Timestamp) error {
	c.mu.Lock()
	if ts == CurTime {
		ts = c.clock.Current()
	}
	for c.hasPendingUpTo(ts) {
		if c.closed {
			c.mu.Unlock()
			return NewError(RetCodeClosed, "container %q closed", c.name)
		}
		c.cond.Wait()
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return NewError(RetCodeClosed, "container %q closed", c.name)
	}

	// the barrier consumes retained results up to ts and reports the first
	// failure among them
	for _, err := range c.pushPool.DrainUpTo(ts) {
		if err != nil {
			return err
		}
	}
	for _, err := range c.pullPool.DrainUpTo(ts) {
		if err != nil {
			return err
		}
	}
	return nil
}

// hasPendingUpTo reports whether any request stamped at or before ts is
// still pending. Caller must hold the lock.
func (c *container) hasPendingUpTo(ts Timestamp) bool {
	for k := range c.pending {
		if k <= ts {
			return true
		}
	}
	return false
}

func (c *container) TryGetResult(ts Timestamp) (error, bool) {
	c.mu.Lock()
	if _, isPending := c.pending[ts]; isPending {
		c.mu.Unlock()
		return nil, false
	}
	if ts == 0 || ts > c.clock.Current() {
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	if err, ok := c.pushPool.TryGet(ts); ok {
		return err, true
	}
	if err, ok := c.pullPool.TryGet(ts); ok {
		return err, true
	}
	// completed, but the result was already consumed by a callback or a
	// Wait barrier
	return nil, true
}

func (c *container) IncrClock(delta uint64) Timestamp {
	c.mu.Lock()
	ts := c.clock.Advance(delta)
	c.mu.Unlock()
	return ts
}

func (c *container) SetMaxDelay(pushDelay, pullDelay int) {
	c.mu.Lock()
	c.pushWin.SetMaxDelay(pushDelay)
	c.pullWin.SetMaxDelay(pullDelay)
	c.mu.Unlock()
}

func (c *container) SetMaxPushDelay(delay int) {
	c.mu.Lock()
	c.pushWin.SetMaxDelay(delay)
	c.mu.Unlock()
}

func (c *container) SetMaxPullDelay(delay int) {
	c.mu.Lock()
	c.pullWin.SetMaxDelay(delay)
	c.mu.Unlock()
}

func (c *container) SetAggregator(group node.Group) {
	c.mu.Lock()
	c.group = group
	c.mu.Unlock()
}

func (c *container) SetRecvFunc(fn RecvFunc) {
	c.mu.Lock()
	c.recvFn = fn
	c.mu.Unlock()
}

func (c *container) SetAggregatorFunc(fn AggregatorFunc) {
	c.mu.Lock()
	c.aggFn = fn
	c.mu.Unlock()
}

func (c *container) SetSendFunc(fn SendFunc) {
	c.mu.Lock()
	c.sendFn = fn
	c.mu.Unlock()
}

func (c *container) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Clock:    c.clock.Current(),
		Accepted: c.accepted.Load(),
	}
	for _, rec := range c.pending {
		if rec.dir == DirPush {
			s.PendingPush++
		} else {
			s.PendingPull++
		}
	}
	c.mu.Unlock()
	return s
}

func (c *container) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	// drain pending requests so blocked callers observe the shutdown
	drained := make([]*pendingReq, 0, len(c.pending))
	for ts, rec := range c.pending {
		drained = append(drained, rec)
		delete(c.pending, ts)
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	c.inbox.Close()
	c.loop.Wait()

	for _, rec := range drained {
		c.agg.Delete(rec.ts)
		c.finish(rec.dir, rec, NewError(RetCodeClosed, "container %q closed", c.name), nil)
	}
}
