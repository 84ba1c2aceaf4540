package sync

import (
	"runtime"
	gosync "sync"
	"testing"
	"time"

	"github.com/Ambier/parameter-server/lib/mail"
)

func testMail(ts uint64) *mail.Mail {
	return mail.NewPushRequest(1, ts, 42, []uint64{ts}, []byte{0x01})
}

// TestMailboxBasicOperations tests basic push and consume functionality
func TestMailboxBasicOperations(t *testing.T) {
	b := NewMailbox()
	defer b.Close()

	// Push 10 mails
	for i := 0; i < 10; i++ {
		if !b.Push(testMail(uint64(i))) {
			t.Fatalf("Failed to push mail %d", i)
		}
	}

	// Consume 10 mails
	for i := 0; i < 10; i++ {
		select {
		case m := <-b.Recv():
			if m.Head.Time != uint64(i) {
				t.Errorf("Expected mail %d, got %d", i, m.Head.Time)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for mail %d", i)
		}
	}

	// Make sure the mailbox is empty
	select {
	case m := <-b.Recv():
		t.Errorf("Mailbox should be empty, but got %v", m)
	case <-time.After(10 * time.Millisecond):
		// Expected timeout, mailbox is empty
	}
}

// TestMailboxConcurrentProducers verifies the mailbox works correctly with
// multiple producers
func TestMailboxConcurrentProducers(t *testing.T) {
	b := NewMailbox()
	defer b.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	var mu gosync.Mutex
	received := make(map[uint64]bool)

	done := make(chan struct{})
	receivedCount := 0

	go func() {
		defer close(done)

		for receivedCount < totalItems {
			select {
			case m := <-b.Recv():
				if m == nil {
					t.Errorf("Received nil mail")
					return
				}

				mu.Lock()
				if received[m.Head.Time] {
					t.Errorf("Duplicate mail received: %d", m.Head.Time)
				}
				received[m.Head.Time] = true
				receivedCount++
				mu.Unlock()
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for mails, received %d of %d", receivedCount, totalItems)
				return
			}
		}
	}()

	var wg gosync.WaitGroup
	wg.Add(numProducers)

	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()

			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				if !b.Push(testMail(uint64(base + i))) {
					t.Errorf("Producer %d failed to push mail %d", producerID, i)
				}

				// Add some randomness to producer timing
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()

	select {
	case <-done:
		// Consumer finished
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if receivedCount != totalItems {
		t.Errorf("Expected %d mails, got %d", totalItems, receivedCount)
	}
}

// TestMailboxClose verifies closing behavior
func TestMailboxClose(t *testing.T) {
	b := NewMailbox()

	// Push some mails
	for i := 0; i < 5; i++ {
		b.Push(testMail(uint64(i)))
	}

	b.Close()

	// Verify we can't push after closing
	if b.Push(testMail(100)) {
		t.Error("Should not be able to push after mailbox is closed")
	}
	if !b.IsClosed() {
		t.Error("Expected mailbox to report closed")
	}

	// Verify we can still read existing mails
	for i := 0; i < 5; i++ {
		select {
		case m := <-b.Recv():
			if m.Head.Time != uint64(i) {
				t.Errorf("Expected mail %d, got %d", i, m.Head.Time)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for mail %d after close", i)
		}
	}

	// Verify the channel is closed after reading all mails
	if _, ok := <-b.Recv(); ok {
		t.Error("Channel should be closed but is still open")
	}
}

// TestMailboxSingleProducerOrdering tests that a single producer's mails are
// received in order
func TestMailboxSingleProducerOrdering(t *testing.T) {
	b := NewMailbox()
	defer b.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			b.Push(testMail(uint64(i)))
		}
	}()

	var prev int64 = -1
	outOfOrderCount := 0

	for i := 0; i < itemCount; i++ {
		select {
		case m := <-b.Recv():
			current := int64(m.Head.Time)
			if current < prev {
				outOfOrderCount++
			}
			prev = current
		case <-time.After(1 * time.Second):
			t.Fatalf("Timeout waiting for mail %d", i)
		}
	}

	if outOfOrderCount > 0 {
		t.Errorf("Found %d mails out of order with single producer", outOfOrderCount)
	}
}

// BenchmarkMailboxSingleProducer benchmarks the mailbox with a single producer
func BenchmarkMailboxSingleProducer(b *testing.B) {
	box := NewMailbox()
	defer box.Close()

	go func() {
		for range box.Recv() {
			// Just consume
		}
	}()

	m := testMail(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		box.Push(m)
	}
}

// BenchmarkMailboxMultiProducer benchmarks the mailbox with multiple producers
func BenchmarkMailboxMultiProducer(b *testing.B) {
	box := NewMailbox()
	defer box.Close()

	go func() {
		for range box.Recv() {
			// Just consume
		}
	}()

	m := testMail(1)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			box.Push(m)
		}
	})
}
