package client

import (
	"fmt"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
	"github.com/Ambier/parameter-server/lib/sync"
	"github.com/Ambier/parameter-server/rpc/common"
	"github.com/Ambier/parameter-server/rpc/serializer"
	"github.com/Ambier/parameter-server/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	Logger = logger.GetLogger("rpc")
)

// Connector bridges local containers and remote server shards. It implements
// the sync.ISender interface: outgoing mails are serialized and sent over the
// transport, replies are fed back into the owning container. One connector
// serves any number of shards over a shared connection pool.
type Connector struct {
	config     common.ClientConfig
	topo       *node.Topology
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	serverIdx  map[node.ID]int
	containers *xsync.MapOf[uint64, sync.IContainer]
}

// NewConnector creates a connector, derives the topology from the
// configuration and connects the transport to all server endpoints.
func NewConnector(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Connector, error) {
	topo, err := config.Topology()
	if err != nil {
		return nil, err
	}

	// Derive the transport endpoints in declaration order so that endpoint
	// index i always belongs to Servers[i]
	names, addrs, err := common.ParseServers(config.Servers)
	if err != nil {
		return nil, err
	}
	serverIdx := make(map[node.ID]int, len(names))
	for i, name := range names {
		serverIdx[node.HashName(name)] = i
	}
	config.Transport.Endpoints = addrs

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &Connector{
		config:     config,
		topo:       topo,
		transport:  transport,
		serializer: serializer,
		serverIdx:  serverIdx,
		containers: xsync.NewMapOf[uint64, sync.IContainer](),
	}, nil
}

// Topology returns the cluster topology seen by this connector.
func (c *Connector) Topology() *node.Topology {
	return c.topo
}

// Bind registers a container so that replies can be routed back to it. A
// container must be bound before its first push or pull.
func (c *Connector) Bind(box sync.IContainer) {
	c.containers.Store(box.ID(), box)
}

// Close shuts the transport down. Bound containers are left untouched.
func (c *Connector) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see sync.ISender)
// --------------------------------------------------------------------------

func (c *Connector) Send(to node.ID, m *mail.Mail) error {
	data, err := c.serializer.Serialize(m)
	if err != nil {
		return err
	}

	idx, ok := c.serverIdx[to]
	if !ok {
		return fmt.Errorf("node %d is not a configured server", to)
	}

	go c.roundTrip(idx, to, m, data)

	c.notifySent(m)
	return nil
}

func (c *Connector) SendGroup(group node.Group, m *mail.Mail) error {
	data, err := c.serializer.Serialize(m)
	if err != nil {
		return err
	}

	// Resolve all targets before launching the first round trip
	ids := c.topo.Resolve(group)
	if len(ids) == 0 {
		return fmt.Errorf("group %s resolves to no nodes", group)
	}
	idxs := make([]int, len(ids))
	for i, to := range ids {
		idx, ok := c.serverIdx[to]
		if !ok {
			return fmt.Errorf("node %d is not a configured server", to)
		}
		idxs[i] = idx
	}

	for i, idx := range idxs {
		go c.roundTrip(idx, ids[i], m, data)
	}

	c.notifySent(m)
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// roundTrip sends one serialized mail to the given server and feeds the reply
// back into the owning container. Transport errors are converted into error
// replies so that the pending request resolves instead of hanging.
func (c *Connector) roundTrip(server int, to node.ID, m *mail.Mail, data []byte) {
	respBytes, err := c.transport.Send(server, m.Head.Container, data)
	if err != nil {
		c.accept(m.Head.Container, mail.NewErrorReply(&m.Head, to, err))
		return
	}

	resp := &mail.Mail{}
	if err := c.serializer.Deserialize(respBytes, resp); err != nil {
		c.accept(m.Head.Container, mail.NewErrorReply(&m.Head, to,
			fmt.Errorf("failed to deserialize reply: %v", err)))
		return
	}

	// A reply must answer the request it was sent for
	if !resp.Head.Flags.IsReply() || resp.Head.Time != m.Head.Time {
		c.accept(m.Head.Container, mail.NewErrorReply(&m.Head, to,
			fmt.Errorf("unexpected reply %s", resp)))
		return
	}

	c.accept(resp.Head.Container, resp)
}

// accept delivers a mail to the bound container with the given id
func (c *Connector) accept(containerID uint64, m *mail.Mail) {
	if box, ok := c.containers.Load(containerID); ok {
		box.Accept(m)
	} else {
		Logger.Warningf("Dropping reply for unbound container %d", containerID)
	}
}

// notifySent marks the request as handed to the transport
func (c *Connector) notifySent(m *mail.Mail) {
	if m.Head.Flags.IsReply() {
		return
	}
	if box, ok := c.containers.Load(m.Head.Container); ok {
		box.Notify(&m.Head)
	}
}
