package sync

import (
	"runtime"
	gosync "sync"
	"sync/atomic"

	"github.com/Ambier/parameter-server/lib/mail"
)

// --------------------------------------------------------------------------
// Mailbox
// --------------------------------------------------------------------------

// mailNode is a single element of the mailbox's linked list.
type mailNode struct {
	m    *mail.Mail
	next atomic.Pointer[mailNode]
}

// Mailbox is the unbounded inbound queue of a container. Transport
// goroutines push fresh requests concurrently without locking; a single
// consumer (the container's processing loop) drains them via Recv. This
// keeps Accept non-blocking regardless of how slow the data plane is.
//
// Producers append via atomic compare-and-swap on a linked list with a
// sentinel head. Under concurrent pushes the exact ordering is determined
// by which producer completes its swap first.
type Mailbox struct {
	head     atomic.Pointer[mailNode]
	tail     atomic.Pointer[mailNode]
	out      chan *mail.Mail
	consumer gosync.WaitGroup
	closed   atomic.Bool

	// Condition variable for efficient waiting
	mu   gosync.Mutex
	cond *gosync.Cond
}

// NewMailbox creates a mailbox and starts its consumer.
func NewMailbox() *Mailbox {
	// sentinel node so producers never contend with an empty list
	sentinel := &mailNode{}

	b := &Mailbox{
		out: make(chan *mail.Mail),
	}
	b.cond = gosync.NewCond(&b.mu)

	b.head.Store(sentinel)
	b.tail.Store(sentinel)

	b.consumer.Add(1)
	go b.consume()

	return b
}

// Push enqueues a mail. Returns true if the mail was enqueued, or false if
// the mailbox is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Mailbox) Push(m *mail.Mail) bool {

	if m == nil {
		return false
	}

	if b.closed.Load() {
		return false
	}

	newNode := &mailNode{m: m}

	var tailNode *mailNode
	var backoff uint8 = 0

	for {
		tailNode = b.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail.
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				b.tail.CompareAndSwap(tailNode, newNode)

				// Signal the consumer that new data is available
				b.cond.Signal()

				return true
			}
		} else {
			// help update the tail pointer if another producer has already
			// appended a node but hasn't updated the tail yet
			b.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff to handle contention:
		  - At low contention (<10 retries): spin to avoid scheduling overhead
		  - At higher contention: yield so other goroutines make progress
		  - Backoff grows exponentially to avoid all producers retrying at once
		*/

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume continuously moves mails from the linked list to the output
// channel and frees the consumed nodes.
func (b *Mailbox) consume() {
	defer b.consumer.Done()
	defer close(b.out)

	for {
		hasItems := false

		for {
			head := b.head.Load()
			next := head.next.Load()

			if next == nil {
				break // no more items available
			}

			hasItems = true

			// capture value before updating pointers
			m := next.m

			// move head pointer (free up memory)
			b.head.Store(next)

			b.out <- m

			// help go gc - safe to clear after sending
			next.m = nil
		}

		// Exit if closed and no more items
		if !hasItems && b.closed.Load() {
			return
		}

		// If no items were processed, wait for signal
		if !hasItems {
			b.mu.Lock()
			// Double-check condition after acquiring lock
			head := b.head.Load()
			if head.next.Load() == nil && !b.closed.Load() {
				b.cond.Wait()
			}
			b.mu.Unlock()
		}
	}
}

// Recv returns the receive-only channel the consumer loop drains.
// The channel is closed after Close once all queued mails were delivered.
func (b *Mailbox) Recv() <-chan *mail.Mail {
	return b.out
}

// Close closes the mailbox, preventing further pushes.
// Mails already queued are still delivered to the consumer.
func (b *Mailbox) Close() {
	b.closed.Store(true)

	// Wake up the consumer if it's waiting
	b.cond.Signal()
}

// IsClosed returns true if the mailbox is closed.
func (b *Mailbox) IsClosed() bool {
	return b.closed.Load()
}

// Len returns an approximate count of queued mails.
// This is O(n) and should only be used for debugging.
func (b *Mailbox) Len() int {
	count := 0
	current := b.head.Load()

	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}

	return count
}
