package server

import (
	"testing"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
)

func TestReplyRouter(t *testing.T) {
	router := newReplyRouter()

	req := mail.NewPushRequest(7, 42, 11, []uint64{1}, []byte{0, 0, 0, 0})

	t.Run("DeliverReply", func(t *testing.T) {
		ch := router.expect(&req.Head)
		reply := mail.NewPushAck(&req.Head, 20, mail.KeyRange{Begin: 0, End: 100})

		if err := router.Send(11, reply); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		select {
		case got := <-ch:
			if got != reply {
				t.Error("delivered mail is not the sent reply")
			}
		default:
			t.Fatal("no reply delivered")
		}
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		reply := mail.NewPushAck(&req.Head, 20, mail.KeyRange{})
		if err := router.Send(11, reply); err == nil {
			t.Error("expected an error for a reply without a waiting request")
		}
	})

	t.Run("RejectsRequests", func(t *testing.T) {
		router.expect(&req.Head)
		defer router.forget(&req.Head)
		if err := router.Send(11, req); err == nil {
			t.Error("expected an error for a non-reply mail")
		}
	})

	t.Run("RejectsGroupSends", func(t *testing.T) {
		reply := mail.NewPushAck(&req.Head, 20, mail.KeyRange{})
		if err := router.SendGroup(node.GroupWorkers, reply); err == nil {
			t.Error("expected an error for a group send")
		}
	})

	t.Run("Forget", func(t *testing.T) {
		router.expect(&req.Head)
		router.forget(&req.Head)
		reply := mail.NewPushAck(&req.Head, 20, mail.KeyRange{})
		if err := router.Send(11, reply); err == nil {
			t.Error("expected an error after the request was forgotten")
		}
	})
}
