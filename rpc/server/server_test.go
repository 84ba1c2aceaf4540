package server_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/lib/sync"
	"github.com/Ambier/parameter-server/rpc/client"
	"github.com/Ambier/parameter-server/rpc/common"
	"github.com/Ambier/parameter-server/rpc/serializer"
	"github.com/Ambier/parameter-server/rpc/server"
	"github.com/Ambier/parameter-server/rpc/transport/unix"
)

// startServer boots a single-server cluster on a unix socket and blocks
// until the socket is accepting connections.
func startServer(t *testing.T, shards []common.ServerShard) (socket string, stop func()) {
	t.Helper()

	socket = filepath.Join(t.TempDir(), "ps.sock")
	config := common.ServerConfig{
		Name:          "s1",
		Servers:       []string{"s1=" + socket},
		Shards:        shards,
		TimeoutSecond: 5,
		LogLevel:      "warning",
		Transport: common.ServerTransportConfig{
			Endpoint: socket,
		},
	}

	s := server.NewRPCServer(config, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve()
	}()

	// Wait for the socket file to appear
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case err := <-errCh:
			t.Fatalf("server failed to start: %v", err)
		default:
		}
		if _, err := os.Stat(socket); err == nil {
			return socket, s.Close
		}
		if time.Now().After(deadline) {
			t.Fatal("server socket did not appear")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// connect creates a connector to the given socket
func connect(t *testing.T, socket string) *client.Connector {
	t.Helper()

	config := common.ClientConfig{
		Name:          "w1",
		Servers:       []string{"s1=" + socket},
		TimeoutSecond: 5,
		LogLevel:      "warning",
		Transport: common.ClientTransportConfig{
			ConnectionsPerEndpoint: 1,
			RetryCount:             3,
		},
	}

	conn, err := client.NewConnector(config, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func TestServerPushPull(t *testing.T) {
	socket, stop := startServer(t, []common.ServerShard{
		{ShardID: 1, Type: "online", DType: "float32"},
	})
	defer stop()

	conn := connect(t, socket)
	defer conn.Close()

	cache, err := client.NewKVCache[float32](1, "weights", conn)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer cache.Close()

	keys := []uint64{1, 2, 3}

	// First push initializes the keys on the server
	ts, err := cache.Push(keys, []float32{1.5, 2.5, 3.5}, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := cache.Wait(ts); err != nil {
		t.Fatalf("waiting for push failed: %v", err)
	}

	// Pull must observe the pushed values
	got := make([]float32, len(keys))
	ts, err = cache.Pull(keys, got, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if err := cache.Wait(ts); err != nil {
		t.Fatalf("waiting for pull failed: %v", err)
	}
	for i, want := range []float32{1.5, 2.5, 3.5} {
		if got[i] != want {
			t.Errorf("key %d: got %v, want %v", keys[i], got[i], want)
		}
	}

	// A second push accumulates
	ts, err = cache.Push(keys, []float32{1, 1, 1}, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("second push failed: %v", err)
	}
	ts, err = cache.Pull(keys, got, kv.SyncOpts{Deps: []sync.Timestamp{ts}})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if err := cache.Wait(ts); err != nil {
		t.Fatalf("waiting for second pull failed: %v", err)
	}
	for i, want := range []float32{2.5, 3.5, 4.5} {
		if got[i] != want {
			t.Errorf("key %d after second push: got %v, want %v", keys[i], got[i], want)
		}
	}
}

func TestServerMultipleShards(t *testing.T) {
	socket, stop := startServer(t, []common.ServerShard{
		{ShardID: 1, Type: "online", DType: "float32"},
		{ShardID: 2, Type: "batch", DType: "float64", BatchKeys: "0-9", Handle: "assign"},
	})
	defer stop()

	conn := connect(t, socket)
	defer conn.Close()

	weights, err := client.NewKVCache[float32](1, "weights", conn)
	if err != nil {
		t.Fatalf("failed to create weights cache: %v", err)
	}
	defer weights.Close()

	embeddings, err := client.NewKVCache[float64](2, "embeddings", conn)
	if err != nil {
		t.Fatalf("failed to create embeddings cache: %v", err)
	}
	defer embeddings.Close()

	t.Run("OnlineShard", func(t *testing.T) {
		keys := []uint64{10, 20}
		ts, err := weights.Push(keys, []float32{0.5, 1.5}, kv.SyncOpts{})
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		got := make([]float32, 2)
		ts, err = weights.Pull(keys, got, kv.SyncOpts{Deps: []sync.Timestamp{ts}})
		if err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		if err := weights.Wait(ts); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
		if got[0] != 0.5 || got[1] != 1.5 {
			t.Errorf("got %v, want [0.5 1.5]", got)
		}
	})

	t.Run("BatchShard", func(t *testing.T) {
		keys := make([]uint64, 10)
		vals := make([]float64, 10)
		for i := range keys {
			keys[i] = uint64(i)
			vals[i] = float64(i) * 1.5
		}

		ts, err := embeddings.Push(keys, vals, kv.SyncOpts{})
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		got := make([]float64, 10)
		ts, err = embeddings.Pull(keys, got, kv.SyncOpts{Deps: []sync.Timestamp{ts}})
		if err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		if err := embeddings.Wait(ts); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
		for i := range got {
			if got[i] != vals[i] {
				t.Errorf("key %d: got %v, want %v", keys[i], got[i], vals[i])
			}
		}
	})
}

func TestServerUnknownShard(t *testing.T) {
	socket, stop := startServer(t, []common.ServerShard{
		{ShardID: 1, Type: "online", DType: "float32"},
	})
	defer stop()

	conn := connect(t, socket)
	defer conn.Close()

	// Shard 99 is not configured on the server
	cache, err := client.NewKVCache[float32](99, "missing", conn)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer cache.Close()

	ts, err := cache.Push([]uint64{1}, []float32{1}, kv.SyncOpts{})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := cache.Wait(ts); err == nil {
		t.Error("expected an error for a push to an unknown shard")
	}
}
