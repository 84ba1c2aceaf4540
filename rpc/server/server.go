package server

import (
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Ambier/parameter-server/lib/kv"
	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
	"github.com/Ambier/parameter-server/rpc/common"
	"github.com/Ambier/parameter-server/rpc/serializer"
	"github.com/Ambier/parameter-server/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	_ "net/http/pprof"
)

var Logger = logger.GetLogger("rpc")

// serverShard is one shard served by this RPC server. It bundles the
// container answering requests with the facade owning the storage and the
// shard's metric handles.
type serverShard struct {
	box      sync.IContainer
	closer   interface{ Close() }
	requests *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	// Create shards map
	shardMap := xsync.NewMapOf[uint64, serverShard]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     shardMap,
		router:     newReplyRouter(),
		timeout:    time.Duration(config.TimeoutSecond) * time.Second,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	router     *replyRouter
	self       node.ID
	rng        mail.KeyRange
	timeout    time.Duration
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(containerID uint64, req []byte) []byte {
		var msg mail.Mail
		var resp *mail.Mail

		// Decode the request
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			// Without a valid header there is no reply to address, the
			// client resolves the request when the empty frame fails to
			// decode there
			Logger.Errorf("Failed to deserialize request for container %d: %v", containerID, err)
			return nil
		}

		// Get appropriate shard
		shard, ok := s.shards.Load(containerID)

		// Case shard does not exist -> error reply
		if !ok {
			resp = mail.NewErrorReply(&msg.Head, s.self, fmt.Errorf("container %d not found", containerID))
		} else {
			shard.requests.Inc()
			start := time.Now()

			// Register for the reply before the container sees the request
			ch := s.router.expect(&msg.Head)
			defer s.router.forget(&msg.Head)

			// Hand the request to the container, the reply arrives on ch
			shard.box.Accept(&msg)

			var timeoutCh <-chan time.Time
			if s.timeout > 0 {
				timeoutCh = time.After(s.timeout)
			}

			select {
			case resp = <-ch:
			case <-timeoutCh:
				resp = mail.NewErrorReply(&msg.Head, s.self, fmt.Errorf("no reply within %s", s.timeout))
			}

			shard.duration.UpdateDuration(start)
			if resp.Err != "" {
				shard.errors.Inc()
			}
		}

		// Encode the result
		val, err := s.serializer.Serialize(resp)
		if err != nil {
			Logger.Errorf("Failed to serialize reply for container %d: %v", containerID, err)
			return nil
		}
		return val
	})
}

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config.LogLevel)

	// Resolve the cluster topology and our own place in it
	topo, err := s.config.Topology()
	if err != nil {
		return err
	}
	s.self = topo.Self().ID

	// Every server owns an equal slice of the key space, assigned in server
	// id order. All nodes derive the same assignment from the topology.
	idx, ok := topo.ServerIndex(s.self)
	if !ok {
		return fmt.Errorf("server %q is not part of the server group", s.config.Name)
	}
	s.rng = mail.WholeRange().EvenDivide(topo.NumServers())[idx]
	Logger.Infof("Server %q owns key range %s", s.config.Name, s.rng)

	// CREATE SHARDS

	/*
		Note: A single RPC server serves any number of shards. Each shard is
		one key/value store over this server's slice of the key space, with
		its own storage discipline, value type and merge handler. The
		following loop creates all shards and stores them for the RPC server.
	*/

	for _, shardConfig := range s.config.Shards {
		if _, taken := s.shards.Load(shardConfig.ShardID); taken {
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}

		shard, err := s.newShard(shardConfig, topo)
		if err != nil {
			return err
		}

		s.shards.Store(shardConfig.ShardID, shard)
		Logger.Infof("created %s store for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	Logger.Infof("parameter server setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// newShard builds one serverShard from its configuration entry, dispatching
// on the configured value type.
func (s *rpcServer) newShard(cfg common.ServerShard, topo *node.Topology) (serverShard, error) {
	switch cfg.DType {
	case "", "float32":
		return newShard[float32](cfg, s.rng, topo, s.router)
	case "float64":
		return newShard[float64](cfg, s.rng, topo, s.router)
	case "int32":
		return newShard[int32](cfg, s.rng, topo, s.router)
	case "int64":
		return newShard[int64](cfg, s.rng, topo, s.router)
	default:
		return serverShard{}, fmt.Errorf("unknown dtype: %s (supported: float32, float64, int32, int64)", cfg.DType)
	}
}

func newShard[V kv.Value](cfg common.ServerShard, rng mail.KeyRange, topo *node.Topology, router *replyRouter) (serverShard, error) {
	storeType, err := kv.ParseStoreType(cfg.Type)
	if err != nil {
		return serverShard{}, err
	}

	// For batch shards only the keys this server owns are materialized
	batchKeys, err := common.ParseKeySpec(cfg.BatchKeys)
	if err != nil {
		return serverShard{}, fmt.Errorf("shard %d: %v", cfg.ShardID, err)
	}
	if storeType == kv.StoreBatch {
		owned := make([]uint64, 0, len(batchKeys))
		for _, k := range batchKeys {
			if rng.Contains(k) {
				owned = append(owned, k)
			}
		}
		if len(owned) == 0 {
			return serverShard{}, fmt.Errorf("shard %d: no batch keys fall into range %s", cfg.ShardID, rng)
		}
		batchKeys = owned
	}

	var handle kv.IHandle[V]
	switch cfg.Handle {
	case "", "sum":
		handle = kv.SumHandle[V]{}
	case "assign":
		handle = kv.AssignHandle[V]{}
	default:
		return serverShard{}, fmt.Errorf("unknown handle: %s (supported: sum, assign)", cfg.Handle)
	}

	store, err := kv.NewKVStore[V](cfg.ShardID, fmt.Sprintf("shard-%d", cfg.ShardID), kv.Config{
		Type:      storeType,
		ValLen:    cfg.ValLen,
		BatchKeys: batchKeys,
		Range:     rng,
	}, handle, topo, router)
	if err != nil {
		return serverShard{}, err
	}

	// gauges sample the container's progress snapshot on scrape
	box := store.Container()
	metrics.GetOrCreateGauge(fmt.Sprintf(`ps_shard_clock{shard="%d"}`, cfg.ShardID), func() float64 {
		return float64(box.Stats().Clock)
	})
	metrics.GetOrCreateGauge(fmt.Sprintf(`ps_shard_accepted_total{shard="%d"}`, cfg.ShardID), func() float64 {
		return float64(box.Stats().Accepted)
	})

	return serverShard{
		box:      box,
		closer:   store,
		requests: metrics.GetOrCreateCounter(fmt.Sprintf(`ps_requests_total{shard="%d"}`, cfg.ShardID)),
		errors:   metrics.GetOrCreateCounter(fmt.Sprintf(`ps_request_errors_total{shard="%d"}`, cfg.ShardID)),
		duration: metrics.GetOrCreateHistogram(fmt.Sprintf(`ps_request_duration_seconds{shard="%d"}`, cfg.ShardID)),
	}, nil
}

// startMetricsServer exposes Prometheus metrics and pprof on the configured
// endpoint. Disabled if no endpoint is set.
func (s *rpcServer) startMetricsServer() {
	if s.config.MetricsEndpoint == "" {
		return
	}

	http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	go func() {
		Logger.Infof("Starting metrics server on %s", s.config.MetricsEndpoint)
		Logger.Infof("%v", http.ListenAndServe(s.config.MetricsEndpoint, nil))
	}()
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	s.startMetricsServer()
	return s.transport.Listen(s.config)
}

// Close shuts all shard containers down. Incoming requests are answered
// with an error reply afterwards.
func (s *rpcServer) Close() {
	s.shards.Range(func(id uint64, shard serverShard) bool {
		shard.closer.Close()
		s.shards.Delete(id)
		return true
	})
}
