package kv

import (
	gosync "sync"
	"testing"
	"time"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
)

// recordingHandle is an additive handler that records every invocation.
type recordingHandle struct {
	mu gosync.Mutex

	initKeys [][]uint64
	initErr  error

	pushKeys  [][]uint64
	pushVals  [][]float64
	pushMyPtr []*float64
	pushMyLen []int
	pushErr   error

	pullKeys  [][]uint64
	pullMyPtr []*float64
}

func (h *recordingHandle) HandleInit(keys []uint64, vals []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initKeys = append(h.initKeys, append([]uint64(nil), keys...))
	if h.initErr != nil {
		return h.initErr
	}
	for i := range vals {
		vals[i] = 0
	}
	return nil
}

func (h *recordingHandle) HandlePush(recvKeys []uint64, recvVals []float64, myVals []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushKeys = append(h.pushKeys, append([]uint64(nil), recvKeys...))
	h.pushVals = append(h.pushVals, append([]float64(nil), recvVals...))
	h.pushMyPtr = append(h.pushMyPtr, &myVals[0])
	h.pushMyLen = append(h.pushMyLen, len(myVals))
	if h.pushErr != nil {
		return h.pushErr
	}
	for i := range recvVals {
		myVals[i] += recvVals[i]
	}
	return nil
}

func (h *recordingHandle) HandlePull(sendKeys []uint64, myVals []float64, sendVals []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pullKeys = append(h.pullKeys, append([]uint64(nil), sendKeys...))
	h.pullMyPtr = append(h.pullMyPtr, &myVals[0])
	copy(sendVals, myVals)
	return nil
}

// newServerTopology builds the view of server 10 with worker 1.
func newServerTopology(t *testing.T) *node.Topology {
	t.Helper()
	topo, err := node.NewTopology(
		node.Node{ID: 10, Role: node.RoleServer},
		[]node.Node{{ID: 1, Role: node.RoleWorker}},
	)
	if err != nil {
		t.Fatalf("failed to create topology: %v", err)
	}
	return topo
}

func newTestStore(t *testing.T, cfg Config, handle IHandle[float64]) (IKVStore[float64], *captureSender) {
	t.Helper()
	snd := &captureSender{}
	store, err := NewKVStore[float64](testShardID, "test-store", cfg, handle, newServerTopology(t), snd)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(store.Close)
	return store, snd
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func expectKeys(t *testing.T, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, got)
		}
	}
}

func TestNewKVStoreValidation(t *testing.T) {
	topo := newServerTopology(t)
	snd := &captureSender{}

	t.Run("NilHandler", func(t *testing.T) {
		_, err := NewKVStore[float64](1, "s", Config{}, nil, topo, snd)
		expectCode(t, err, sync.RetCodeInvalidRequest)
	})

	t.Run("BatchWithoutKeys", func(t *testing.T) {
		_, err := NewKVStore[float64](1, "s", Config{Type: StoreBatch}, &recordingHandle{}, topo, snd)
		expectCode(t, err, sync.RetCodeInvalidRequest)
	})

	t.Run("UnsortedBatchKeys", func(t *testing.T) {
		cfg := Config{Type: StoreBatch, BatchKeys: []uint64{3, 1}}
		_, err := NewKVStore[float64](1, "s", cfg, &recordingHandle{}, topo, snd)
		expectCode(t, err, sync.RetCodeInvalidRequest)
	})

	t.Run("BatchKeyOutsideRange", func(t *testing.T) {
		cfg := Config{Type: StoreBatch, BatchKeys: []uint64{1, 30}, Range: mail.KeyRange{Begin: 0, End: 10}}
		_, err := NewKVStore[float64](1, "s", cfg, &recordingHandle{}, topo, snd)
		expectCode(t, err, sync.RetCodeInvalidRequest)
	})

	t.Run("InitFailure", func(t *testing.T) {
		cfg := Config{Type: StoreBatch, BatchKeys: []uint64{1, 3}}
		handle := &recordingHandle{initErr: sync.NewError(sync.RetCodeInternalError, "boom")}
		_, err := NewKVStore[float64](1, "s", cfg, handle, topo, snd)
		expectCode(t, err, sync.RetCodeHandlerFailure)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := NewKVStore[float64](1, "s", Config{Type: StoreType(9)}, &recordingHandle{}, topo, snd)
		expectCode(t, err, sync.RetCodeInvalidRequest)
	})
}

// A push covering the full fixed key set must reach the handler unchanged
// and operate on the stored array directly, without a gather/scatter copy.
func TestKVStoreBatchPassthrough(t *testing.T) {
	handle := &recordingHandle{}
	store, _ := newTestStore(t, Config{
		Type:      StoreBatch,
		ValLen:    2,
		BatchKeys: []uint64{1, 3},
		Range:     mail.KeyRange{Begin: 0, End: 10},
	}, handle)
	handler := store.(sync.IDataHandler)

	if store.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", store.Len())
	}
	if len(handle.initKeys) != 1 {
		t.Fatalf("expected one eager init, got %d", len(handle.initKeys))
	}
	expectKeys(t, handle.initKeys[0], []uint64{1, 3})

	push := mail.NewPushRequest(testShardID, 5, 1, []uint64{1, 3},
		EncodeVals([]float64{1.1, 1.2, 3.1, 3.2}))
	if err := handler.MergeRemoteData(push); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if len(handle.pushKeys) != 1 {
		t.Fatalf("expected one push invocation, got %d", len(handle.pushKeys))
	}
	expectKeys(t, handle.pushKeys[0], []uint64{1, 3})
	wantVals := []float64{1.1, 1.2, 3.1, 3.2}
	for i, v := range handle.pushVals[0] {
		if v != wantVals[i] {
			t.Errorf("push value %d: expected %v, got %v", i, wantVals[i], v)
		}
	}
	if handle.pushMyLen[0] != 4 {
		t.Errorf("expected the handler to see the full stored array, got len %d", handle.pushMyLen[0])
	}

	head := mail.Header{Container: testShardID, Time: 6, Sender: 1, Flags: mail.FlagPull}
	out := mail.NewPullReply(&head, 10, store.Range(), []uint64{1, 3}, nil)
	if err := handler.GetLocalData(out); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	expectKeys(t, out.Keys, []uint64{1, 3})
	got, err := DecodeAll[float64](out.Vals)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	for i, v := range got {
		if v != wantVals[i] {
			t.Errorf("pulled value %d: expected %v, got %v", i, wantVals[i], v)
		}
	}

	// both aligned calls must have operated on the same backing array
	if handle.pullMyPtr[0] != handle.pushMyPtr[0] {
		t.Errorf("expected aligned push and pull to share the stored array")
	}
}

func TestKVStoreBatchPartialPush(t *testing.T) {
	handle := &recordingHandle{}
	store, _ := newTestStore(t, Config{
		Type:      StoreBatch,
		ValLen:    2,
		BatchKeys: []uint64{1, 3},
		Range:     mail.KeyRange{Begin: 0, End: 10},
	}, handle)
	handler := store.(sync.IDataHandler)

	push := mail.NewPushRequest(testShardID, 5, 1, []uint64{3}, EncodeVals([]float64{10, 20}))
	if err := handler.MergeRemoteData(push); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	// the handler saw only the touched block, as a gathered copy
	expectKeys(t, handle.pushKeys[0], []uint64{3})
	if handle.pushMyLen[0] != 2 {
		t.Errorf("expected a gathered view of len 2, got %d", handle.pushMyLen[0])
	}

	head := mail.Header{Container: testShardID, Time: 6, Sender: 1, Flags: mail.FlagPull}
	out := mail.NewPullReply(&head, 10, store.Range(), []uint64{1, 3}, nil)
	if err := handler.GetLocalData(out); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	got, err := DecodeAll[float64](out.Vals)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	want := []float64{0, 0, 10, 20}
	for i, v := range got {
		if v != want[i] {
			t.Errorf("pulled value %d: expected %v, got %v", i, want[i], v)
		}
	}
}

func TestKVStoreBatchRejects(t *testing.T) {
	store, _ := newTestStore(t, Config{
		Type:      StoreBatch,
		BatchKeys: []uint64{1, 3},
		Range:     mail.KeyRange{Begin: 0, End: 10},
	}, &recordingHandle{})
	handler := store.(sync.IDataHandler)

	t.Run("KeyNotInBatchSet", func(t *testing.T) {
		push := mail.NewPushRequest(testShardID, 5, 1, []uint64{5}, EncodeVals([]float64{1}))
		expectCode(t, handler.MergeRemoteData(push), sync.RetCodeInvalidRequest)
	})

	t.Run("ValueCountMismatch", func(t *testing.T) {
		push := mail.NewPushRequest(testShardID, 5, 1, []uint64{1}, EncodeVals([]float64{1, 2, 3}))
		expectCode(t, handler.MergeRemoteData(push), sync.RetCodeInvalidRequest)
	})

	t.Run("NoKeys", func(t *testing.T) {
		push := mail.NewPushRequest(testShardID, 5, 1, nil, EncodeVals([]float64{1}))
		expectCode(t, handler.MergeRemoteData(push), sync.RetCodeInvalidRequest)
	})

	t.Run("CorruptPayload", func(t *testing.T) {
		push := mail.NewPushRequest(testShardID, 5, 1, []uint64{1}, []byte{1, 2, 3})
		if err := handler.MergeRemoteData(push); err == nil {
			t.Errorf("expected error for payload not divisible by the value width")
		}
	})
}

func TestKVStoreOnlineLazyInit(t *testing.T) {
	handle := &recordingHandle{}
	store, _ := newTestStore(t, Config{
		Type:  StoreOnline,
		Range: mail.KeyRange{Begin: 0, End: 100},
	}, handle)
	handler := store.(sync.IDataHandler)

	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d keys", store.Len())
	}

	push := mail.NewPushRequest(testShardID, 5, 1, []uint64{42}, EncodeVals([]float64{7}))
	if err := handler.MergeRemoteData(push); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 key after push, got %d", store.Len())
	}
	if len(handle.initKeys) != 1 {
		t.Fatalf("expected one lazy init, got %d", len(handle.initKeys))
	}
	expectKeys(t, handle.initKeys[0], []uint64{42})

	// pulling an untouched key initializes it as well
	head := mail.Header{Container: testShardID, Time: 6, Sender: 1, Flags: mail.FlagPull}
	out := mail.NewPullReply(&head, 10, store.Range(), []uint64{41, 42}, nil)
	if err := handler.GetLocalData(out); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	got, err := DecodeAll[float64](out.Vals)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if got[0] != 0 || got[1] != 7 {
		t.Errorf("expected [0 7], got %v", got)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 keys after pull, got %d", store.Len())
	}
}

func TestKVStoreOnlineInitFailure(t *testing.T) {
	handle := &recordingHandle{initErr: sync.NewError(sync.RetCodeInternalError, "boom")}
	store, _ := newTestStore(t, Config{Type: StoreOnline}, handle)
	handler := store.(sync.IDataHandler)

	push := mail.NewPushRequest(testShardID, 5, 1, []uint64{42}, EncodeVals([]float64{7}))
	if err := handler.MergeRemoteData(push); err == nil {
		t.Errorf("expected init failure to surface")
	}
	if store.Len() != 0 {
		t.Errorf("expected no keys after failed init, got %d", store.Len())
	}
}

// Keys outside the owned range are filtered, not rejected.
func TestKVStoreRangeFilter(t *testing.T) {
	handle := &recordingHandle{}
	store, _ := newTestStore(t, Config{
		Type:  StoreOnline,
		Range: mail.KeyRange{Begin: 10, End: 20},
	}, handle)
	handler := store.(sync.IDataHandler)

	push := mail.NewPushRequest(testShardID, 5, 1, []uint64{5, 12, 25}, EncodeVals([]float64{1, 2, 3}))
	if err := handler.MergeRemoteData(push); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(handle.pushKeys) != 1 {
		t.Fatalf("expected one push invocation, got %d", len(handle.pushKeys))
	}
	expectKeys(t, handle.pushKeys[0], []uint64{12})
	if handle.pushVals[0][0] != 2 {
		t.Errorf("expected the owned value 2, got %v", handle.pushVals[0][0])
	}

	// a push entirely outside the range is a no-op, not an error
	outside := mail.NewPushRequest(testShardID, 6, 1, []uint64{5, 25}, EncodeVals([]float64{1, 3}))
	if err := handler.MergeRemoteData(outside); err != nil {
		t.Errorf("expected nil for push outside the range, got %v", err)
	}

	head := mail.Header{Container: testShardID, Time: 7, Sender: 1, Flags: mail.FlagPull}
	out := mail.NewPullReply(&head, 10, store.Range(), []uint64{5, 12}, nil)
	if err := handler.GetLocalData(out); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	expectKeys(t, out.Keys, []uint64{12})
	got, err := DecodeAll[float64](out.Vals)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("expected [2], got %v", got)
	}
}

// Requests accepted by the container are answered through the sender.
func TestKVStoreThroughContainer(t *testing.T) {
	store, snd := newTestStore(t, Config{
		Type:      StoreBatch,
		BatchKeys: []uint64{1, 3},
		Range:     mail.KeyRange{Begin: 0, End: 10},
	}, &recordingHandle{})
	box := store.Container()

	box.Accept(mail.NewPushRequest(testShardID, 9, 1, []uint64{1, 3}, EncodeVals([]float64{2, 4})))
	waitFor(t, "push ack", func() bool { return snd.count() == 1 })

	ack := snd.last(t)
	if !ack.Head.Flags.IsReply() || !ack.Head.Flags.Has(mail.FlagOK) || !ack.Head.Flags.Has(mail.FlagPush) {
		t.Errorf("expected a push ack, got flags %s", ack.Head.Flags)
	}
	if ack.Head.Time != 9 {
		t.Errorf("expected the ack to echo timestamp 9, got %d", ack.Head.Time)
	}
	if ack.Head.Sender != 10 {
		t.Errorf("expected the ack to be sent as node 10, got %d", ack.Head.Sender)
	}

	box.Accept(mail.NewPullRequest(testShardID, 10, 1, []uint64{1, 3}))
	waitFor(t, "pull reply", func() bool { return snd.count() == 2 })

	reply := snd.last(t)
	if !reply.Head.Flags.IsReply() || !reply.Head.Flags.Has(mail.FlagOK) || !reply.Head.Flags.Has(mail.FlagPull) {
		t.Errorf("expected a pull reply, got flags %s", reply.Head.Flags)
	}
	expectKeys(t, reply.Keys, []uint64{1, 3})
	got, err := DecodeAll[float64](reply.Vals)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if got[0] != 2 || got[1] != 4 {
		t.Errorf("expected [2 4], got %v", got)
	}

	// a push touching a key outside the batch set fails with an error reply
	box.Accept(mail.NewPushRequest(testShardID, 11, 1, []uint64{5}, EncodeVals([]float64{1})))
	waitFor(t, "error reply", func() bool { return snd.count() == 3 })

	fail := snd.last(t)
	if !fail.Head.Flags.IsReply() || fail.Head.Flags.Has(mail.FlagOK) {
		t.Errorf("expected an error reply, got flags %s", fail.Head.Flags)
	}
	if fail.Err == "" {
		t.Errorf("expected the error reply to carry a message")
	}
	if fail.Head.Time != 11 {
		t.Errorf("expected the error reply to echo timestamp 11, got %d", fail.Head.Time)
	}
}
