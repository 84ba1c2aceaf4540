package serve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/Ambier/parameter-server/cmd/util"
	"github.com/Ambier/parameter-server/rpc/common"
	"github.com/Ambier/parameter-server/rpc/serializer"
	"github.com/Ambier/parameter-server/rpc/server"
	"github.com/Ambier/parameter-server/rpc/transport"
	"github.com/Ambier/parameter-server/rpc/transport/http"
	"github.com/Ambier/parameter-server/rpc/transport/tcp"
	"github.com/Ambier/parameter-server/rpc/transport/unix"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a parameter server node",
		Long:    `Start a parameter server node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is PS_<flag> (e.g. PS_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The name of this server. It must appear in the servers list, the node ID and the owned slice of the key space are derived from it"))

	key = "servers"
	ServeCmd.PersistentFlags().String(key, "s1=0.0.0.0:8080", cmdUtil.WrapString("All parameter servers as a comma-separated list of name=addr entries. The key space is divided evenly between them, so every node must use the same list"))

	key = "shards"
	ServeCmd.PersistentFlags().String(key, "1=online", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE[:DTYPE[:HANDLE[:VALLEN]]] where TYPE is online or batch(KEYS) with |-separated key ranges, DTYPE is one of float32, float64, int32, int64 and HANDLE is sum or assign. Example: '1=online,2=batch(0-999|2000):float64:assign:8'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for answering a single request"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the transport will listen (e.g. 0.0.0.0:8080, /tmp/ps.sock, ...)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address for the prometheus metrics and pprof endpoint (e.g. 0.0.0.0:6060). Disabled if empty"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("The level at which logs will be output (debug, info, warn, error)"))

	key = "max-workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Maximum number of requests handled concurrently per connection (ignored for http)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the pooled read buffers of the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for accepted connections (only for tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for accepted connections (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time for accepted connections (in seconds, only for tcp)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse shards
	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Name = viper.GetString("name")
	serveCmdConfig.Servers = strings.Split(viper.GetString("servers"), ",")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:          viper.GetString("endpoint"),
		MaxWorkersPerConn: viper.GetInt("max-workers-per-conn"),
		BufferSize:        viper.GetInt("buffer-size") * 1024,
		SocketConfig: common.SocketConfig{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if serveCmdConfig.Name == "" {
		return fmt.Errorf("a server name is required (--name)")
	}

	return nil
}

// parseShards parses the comma-separated shard list. Each entry has the form
// ID=TYPE[:DTYPE[:HANDLE[:VALLEN]]], a batch TYPE carries its key set in
// parentheses with | separating the ranges (e.g. batch(0-999|2000-2099)).
func parseShards(spec string) ([]common.ServerShard, error) {
	shards := []common.ServerShard{}
	for _, entry := range strings.Split(spec, ",") {
		idPart, typePart, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", entry)
		}

		// Parse shard ID
		shardID, err := strconv.ParseUint(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", idPart, err)
		}

		shard := common.ServerShard{ShardID: shardID}

		// Parse the colon-separated fields after the ID
		fields := strings.Split(typePart, ":")
		if len(fields) > 4 {
			return nil, fmt.Errorf("invalid shard spec: %s (expected ID=TYPE[:DTYPE[:HANDLE[:VALLEN]]])", entry)
		}
		for i, field := range fields {
			field = strings.TrimSpace(field)
			switch i {
			case 0:
				// TYPE, for batch shards with the key set in parentheses
				if inner, found := strings.CutPrefix(field, "batch("); found {
					keys, closed := strings.CutSuffix(inner, ")")
					if !closed {
						return nil, fmt.Errorf("invalid batch key set in %s (missing closing parenthesis)", entry)
					}
					shard.Type = "batch"
					shard.BatchKeys = strings.ReplaceAll(keys, "|", ",")
				} else if field == "online" || field == "batch" {
					shard.Type = field
				} else {
					return nil, fmt.Errorf("invalid shard type: %s (expected online or batch(KEYS))", field)
				}
			case 1:
				shard.DType = field
			case 2:
				shard.Handle = field
			case 3:
				valLen, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("invalid value length in %s: %v", entry, err)
				}
				shard.ValLen = valLen
			}
		}

		shards = append(shards, shard)
	}
	return shards, nil
}

// run starts the parameter server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport(serveCmdConfig.Transport.BufferSize, serveCmdConfig.Transport.MaxWorkersPerConn)
	case "unix":
		t = unix.NewUnixServerTransport(serveCmdConfig.Transport.BufferSize, serveCmdConfig.Transport.MaxWorkersPerConn)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ps")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
