package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Ambier/parameter-server/lib/node"
)

// --------------------------------------------------------------------------
// Deployment membership helpers (for the server and client util)
// --------------------------------------------------------------------------

// ParseServers parses deployment member entries of the form "name=addr" and
// returns the names and addresses in entry order. Names must be unique since
// node IDs are derived from them.
func ParseServers(entries []string) (names []string, addrs []string, err error) {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name, addr, ok := strings.Cut(entry, "=")
		if !ok || name == "" || addr == "" {
			return nil, nil, fmt.Errorf("invalid server entry %q (expected name=addr)", entry)
		}
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("duplicate server name %q", name)
		}
		seen[name] = struct{}{}
		names = append(names, name)
		addrs = append(addrs, addr)
	}
	return names, addrs, nil
}

// ParseKeySpec parses a key set specification into a sorted list of unique
// keys. The spec is a comma separated list of single keys and inclusive
// ranges, e.g. "0-999,2000,4000-4009".
func ParseKeySpec(spec string) ([]uint64, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var keys []uint64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty entry in key spec %q", spec)
		}

		if begin, end, isRange := strings.Cut(part, "-"); isRange {
			lo, err := strconv.ParseUint(strings.TrimSpace(begin), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid key range %q: %v", part, err)
			}
			hi, err := strconv.ParseUint(strings.TrimSpace(end), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid key range %q: %v", part, err)
			}
			if hi < lo {
				return nil, fmt.Errorf("invalid key range %q: end before begin", part)
			}
			for k := lo; ; k++ {
				keys = append(keys, k)
				if k == hi {
					break
				}
			}
		} else {
			k, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid key %q: %v", part, err)
			}
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	// drop duplicates from overlapping entries
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out, nil
}

// buildTopology creates the membership view for the local node named
// selfName. Every entry in servers becomes a server node; the local node is
// either one of them (selfRole server) or joins as an additional node.
func buildTopology(selfName string, selfRole node.Role, servers []string) (*node.Topology, error) {
	if selfName == "" {
		return nil, fmt.Errorf("local node has no name")
	}

	names, addrs, err := ParseServers(servers)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no servers configured")
	}

	self := node.Node{ID: node.HashName(selfName), Role: selfRole}
	peers := make([]node.Node, 0, len(names))
	found := false

	for i, name := range names {
		if selfRole == node.RoleServer && name == selfName {
			self.Addr = addrs[i]
			found = true
			continue
		}
		peers = append(peers, node.Node{
			ID:   node.HashName(name),
			Role: node.RoleServer,
			Addr: addrs[i],
		})
	}

	if selfRole == node.RoleServer && !found {
		return nil, fmt.Errorf("server %q is not listed in the server entries", selfName)
	}

	return node.NewTopology(self, peers)
}

// --------------------------------------------------------------------------
// Shared socket configuration
// --------------------------------------------------------------------------

// SocketConfig tunes the sockets of connection oriented transports. The zero
// value leaves the operating system defaults in place.
type SocketConfig struct {
	// TCPNoDelay disables Nagle's algorithm
	TCPNoDelay bool
	// ReadBufferSize is the socket read buffer size in bytes (0 = OS default)
	ReadBufferSize int
	// WriteBufferSize is the socket write buffer size in bytes (0 = OS default)
	WriteBufferSize int
	// TCPKeepAliveSec enables keep-alive probes with the given period (0 = off)
	TCPKeepAliveSec int
	// TCPLingerSec sets the close linger timeout (negative = OS default)
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShard describes one key/value shard hosted by a server. All servers
// of a deployment must configure the same shards.
type ServerShard struct {
	// ShardID is the deployment wide ID of the shard
	ShardID uint64
	// Type selects the storage discipline ("online" or "batch")
	Type string
	// DType selects the element type ("float32", "float64", "int32", "int64")
	DType string
	// ValLen is the number of values per key (0 = 1)
	ValLen int
	// BatchKeys is the fixed key set of a batch shard as a key spec
	// (e.g. "0-999"). Ignored for online shards.
	BatchKeys string
	// Handle selects the update rule applied on push ("sum" or "assign")
	Handle string
}

// ServerTransportConfig holds the transport layer settings of a server.
type ServerTransportConfig struct {
	// Endpoint the transport listens on (address or socket path)
	Endpoint string
	// MaxWorkersPerConn limits concurrent request handlers per connection
	MaxWorkersPerConn int
	// BufferSize is the size of the pooled read buffers in bytes
	BufferSize int

	SocketConfig
}

// ServerConfig holds all configuration parameters of a parameter server node.
type ServerConfig struct {
	// Name is the name of this server. It must appear in Servers and the
	// server's node ID is derived from it.
	Name string

	// Servers lists every server of the deployment as "name=addr" entries.
	// The key space is divided between them in sorted node ID order, so all
	// nodes must configure the same set.
	Servers []string

	// Shards are the key/value shards this deployment serves
	Shards []ServerShard

	// request handling timeout
	TimeoutSecond int64

	// MetricsEndpoint serves Prometheus metrics and pprof when set
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	// Transport layer settings
	Transport ServerTransportConfig
}

// Topology builds the deployment membership view of this server.
func (c *ServerConfig) Topology() (*node.Topology, error) {
	return buildTopology(c.Name, node.RoleServer, c.Servers)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node identity
	addSection("Server")
	addField("Name", c.Name)
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Transport settings
	addSection("Transport")
	addField("Workers Per Conn", strconv.Itoa(c.Transport.MaxWorkersPerConn))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.Transport.BufferSize))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("Read Buffer Size", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("Write Buffer Size", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		desc := fmt.Sprintf("%s %s", shard.Type, shard.DType)
		if shard.ValLen > 1 {
			desc += fmt.Sprintf(" x%d", shard.ValLen)
		}
		if shard.Handle != "" {
			desc += fmt.Sprintf(" (%s)", shard.Handle)
		}
		if shard.BatchKeys != "" {
			desc += fmt.Sprintf(" keys=%s", shard.BatchKeys)
		}
		addField(strconv.FormatUint(shard.ShardID, 10), desc)
	}

	// Deployment members
	addSection("Deployment")
	sb.WriteString("  Servers:\n")
	for i, entry := range c.Servers {
		sb.WriteString(fmt.Sprintf("    Server %d: %s\n", i, entry))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport layer settings of a client.
type ClientTransportConfig struct {
	// Endpoints are the server addresses in the order of the Servers
	// entries. They are derived from the Servers list by the connector.
	Endpoints []string
	// ConnectionsPerEndpoint is the connection pool size per server
	ConnectionsPerEndpoint int
	// RetryCount is the number of send attempts per request
	RetryCount int

	SocketConfig
}

// ClientConfig holds all configuration parameters of a worker node.
type ClientConfig struct {
	// Name is the name of this worker. The worker's node ID is derived
	// from it, so names must be unique across the deployment.
	Name string

	// Servers lists every server of the deployment as "name=addr" entries,
	// in the same order as on the servers themselves.
	Servers []string

	// request timeout
	TimeoutSecond int64

	// Logging configuration
	LogLevel string

	// Transport layer settings
	Transport ClientTransportConfig
}

// Topology builds the deployment membership view of this worker.
func (c *ClientConfig) Topology() (*node.Topology, error) {
	return buildTopology(c.Name, node.RoleWorker, c.Servers)
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General client settings
	addSection("Client Configuration")
	addField("Name", c.Name)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	connsPerEP := c.Transport.ConnectionsPerEndpoint
	if connsPerEP < 1 {
		connsPerEP = 1
	}
	addField("Connections Per Endpoint", strconv.Itoa(connsPerEP))

	// Servers
	addSection("Servers")
	for i, entry := range c.Servers {
		addField(strconv.Itoa(i), entry)
	}

	return sb.String()
}
