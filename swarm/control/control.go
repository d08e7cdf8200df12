// Package control serves read-only snapshots of a running node over CBOR-RPC.
package control

import (
	"context"
	"meshlink/datastore/leveldb"
	"meshlink/net/cborrpc"
	"meshlink/swarm/peers"
	"meshlink/swarm/protocol"
	"meshlink/swarm/relay"
	"net"
	"net/rpc"
	"time"
)

// Control answers snapshot queries. Any of dir, hub and log may be nil when the node role lacks them.
type Control struct {
	role    string
	self    string
	started time.Time
	dir     *peers.Directory
	hub     *relay.Hub
	log     *leveldb.MessageLog
}

func New(role string, self string, dir *peers.Directory, hub *relay.Hub, msgLog *leveldb.MessageLog) *Control {
	return &Control{
		role:    role,
		self:    self,
		started: time.Now(),
		dir:     dir,
		hub:     hub,
		log:     msgLog,
	}
}

func (c *Control) Peers(req *protocol.PeersRequest, res *protocol.PeersResponse) error {
	res.Self = c.self
	if c.dir == nil {
		return nil
	}
	for _, r := range c.dir.Records() {
		res.Peers = append(res.Peers, protocol.PeerInfo{Address: r.Address, LastSeen: r.LastSeen})
	}
	return nil
}

func (c *Control) Connections(req *protocol.ConnectionsRequest, res *protocol.ConnectionsResponse) error {
	if c.hub == nil {
		return nil
	}
	for _, info := range c.hub.Connections() {
		res.Connections = append(res.Connections, protocol.ConnectionInfo{
			ID:      info.ID,
			Remote:  info.Remote,
			State:   info.State.String(),
			Queued:  info.Queued,
			Dropped: info.Dropped,
		})
	}
	return nil
}

func (c *Control) Status(req *protocol.StatusRequest, res *protocol.StatusResponse) error {
	res.Role = c.role
	res.Self = c.self
	res.Started = c.started
	if c.dir != nil {
		res.Peers = c.dir.Len()
	}
	if c.hub != nil {
		res.Connections = c.hub.Len()
	}
	if c.log != nil {
		res.MessagesLogged = c.log.GetSeq()
	}
	return nil
}

// Serve answers control calls on l until ctx is cancelled.
func (c *Control) Serve(ctx context.Context, l net.Listener) error {
	return cborrpc.Serve(ctx, l, protocol.ControlService, c)
}

// Client queries a remote control endpoint.
type Client struct {
	rpc *rpc.Client
}

func Dial(ctx context.Context, address string) (*Client, error) {
	c, err := cborrpc.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Peers(ctx context.Context) (*protocol.PeersResponse, error) {
	res := &protocol.PeersResponse{}
	if err := cborrpc.Call(ctx, c.rpc, protocol.ControlService+".Peers", &protocol.PeersRequest{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Connections(ctx context.Context) (*protocol.ConnectionsResponse, error) {
	res := &protocol.ConnectionsResponse{}
	if err := cborrpc.Call(ctx, c.rpc, protocol.ControlService+".Connections", &protocol.ConnectionsRequest{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Status(ctx context.Context) (*protocol.StatusResponse, error) {
	res := &protocol.StatusResponse{}
	if err := cborrpc.Call(ctx, c.rpc, protocol.ControlService+".Status", &protocol.StatusRequest{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
