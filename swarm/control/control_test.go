package control

import (
	"context"
	"meshlink/datastore/leveldb"
	"meshlink/metrics"
	"meshlink/swarm/peers"
	"meshlink/swarm/relay"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Control) *Client {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := Dial(ctx, l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPeersReturnsDirectorySnapshot(t *testing.T) {
	now := time.Now()
	dir := peers.NewDirectory("10.0.0.1")
	dir.Upsert("10.0.0.3", now)
	dir.Upsert("10.0.0.2", now.Add(time.Second))

	client := serve(t, New("peer", "10.0.0.1", dir, nil, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := client.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", res.Self)
	require.Len(t, res.Peers, 2)
	assert.Equal(t, "10.0.0.2", res.Peers[0].Address)
	assert.Equal(t, "10.0.0.3", res.Peers[1].Address)
	assert.True(t, now.Equal(res.Peers[1].LastSeen))
}

func TestConnectionsAndStatusOnHub(t *testing.T) {
	hl, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	hub := relay.NewHub(relay.Options{}, nil, metrics.NewMetrics("test"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Serve(ctx, hl)

	conn, err := net.Dial("tcp4", hl.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	msgLog, err := leveldb.NewMessageLog(filepath.Join(t.TempDir(), "messages"))
	require.NoError(t, err)
	defer msgLog.Close()

	client := serve(t, New("hub", "10.0.0.1:50000", nil, hub, msgLog))

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	conns, err := client.Connections(callCtx)
	require.NoError(t, err)
	require.Len(t, conns.Connections, 1)
	assert.Equal(t, "relaying", conns.Connections[0].State)

	status, err := client.Status(callCtx)
	require.NoError(t, err)
	assert.Equal(t, "hub", status.Role)
	assert.Equal(t, 1, status.Connections)
	assert.Zero(t, status.Peers)
	assert.False(t, status.Started.IsZero())

	peersRes, err := client.Peers(callCtx)
	require.NoError(t, err)
	assert.Empty(t, peersRes.Peers)
}
