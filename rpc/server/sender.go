package server

import (
	"fmt"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/puzpuzpuz/xsync/v3"
)

// pendingKey identifies one request in flight: the container it belongs to,
// the worker that sent it and its timestamp.
type pendingKey struct {
	container uint64
	node      node.ID
	time      uint64
}

// replyRouter implements the sync.ISender interface for the server side.
// Server containers answer every request with exactly one reply, so instead
// of opening connections of our own the reply is handed to the transport
// worker that is still waiting on the request's channel.
type replyRouter struct {
	pending *xsync.MapOf[pendingKey, chan *mail.Mail]
}

func newReplyRouter() *replyRouter {
	return &replyRouter{
		pending: xsync.NewMapOf[pendingKey, chan *mail.Mail](),
	}
}

// expect registers interest in the reply for the given request header and
// returns the channel it will be delivered on.
func (r *replyRouter) expect(h *mail.Header) chan *mail.Mail {
	ch := make(chan *mail.Mail, 1)
	r.pending.Store(pendingKey{h.Container, h.Sender, h.Time}, ch)
	return ch
}

// forget drops the interest registered by expect. Safe to call after the
// reply was delivered.
func (r *replyRouter) forget(h *mail.Header) {
	r.pending.Delete(pendingKey{h.Container, h.Sender, h.Time})
}

// --------------------------------------------------------------------------
// Interface Methods (docu see sync.ISender)
// --------------------------------------------------------------------------

func (r *replyRouter) Send(to node.ID, m *mail.Mail) error {
	if !m.Head.Flags.IsReply() {
		return fmt.Errorf("server containers only send replies, got %s", m.Head.Flags)
	}

	// Replies echo the timestamp of their request
	ch, ok := r.pending.LoadAndDelete(pendingKey{m.Head.Container, to, m.Head.Time})
	if !ok {
		return fmt.Errorf("no waiting request for timestamp %d from node %d", m.Head.Time, to)
	}

	// The channel is buffered, the send never blocks
	ch <- m
	return nil
}

func (r *replyRouter) SendGroup(group node.Group, _ *mail.Mail) error {
	return fmt.Errorf("group sends to %s are not supported on the server side", group)
}
