package node

import (
	"context"
	"meshlink/config"
	"meshlink/datamodel/message"
	"meshlink/swarm/relay"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

type collectingSink struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collectingSink) HandleMessage(msg *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(msg.Payload))
}

func (c *collectingSink) any(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.payloads {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func baseOptions(role string, discoveryPort, streamPort int) Options {
	return Options{
		Role:             role,
		Self:             "127.0.0.1",
		Frequency:        20,
		TTL:              2 * time.Second,
		AnnounceInterval: 50 * time.Millisecond,
		DiscoveryPort:    discoveryPort,
		BroadcastAddress: "127.0.0.1",
		LocateTimeout:    500 * time.Millisecond,
		LocateAttempts:   5,
		StreamPort:       streamPort,
		WriteTimeout:     time.Second,
		DialTimeout:      time.Second,
	}
}

func runNode(t *testing.T, n *Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("node did not stop")
		}
	})
}

func TestNewRejectsUnknownRole(t *testing.T) {
	_, err := New(Options{Role: "relay"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewHubOnlyForHubRole(t *testing.T) {
	hub, err := New(Options{Role: config.RoleHub, Self: "10.0.0.1"}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, hub.Hub)
	assert.Equal(t, "10.0.0.1", hub.Directory.Self())

	peer, err := New(Options{Role: config.RolePeer}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, peer.Hub)
}

func TestNewDefaultsWriteTimeout(t *testing.T) {
	n, err := New(Options{Role: config.RoleClient}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, relay.DefaultWriteTimeout, n.opts.WriteTimeout)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewEmptyConfig("")
	cfg.Node.Role = config.RoleClient
	cfg.Stream.Limit = 100

	opts := OptionsFromConfig(cfg, "192.168.1.5")
	assert.Equal(t, config.RoleClient, opts.Role)
	assert.Equal(t, "192.168.1.5", opts.Self)
	assert.Equal(t, uint64(100), opts.Limit)
	assert.Equal(t, 10*time.Second, opts.TTL)
	assert.Equal(t, 50000, opts.StreamPort)
}

func TestClientReachesOtherClientsThroughHub(t *testing.T) {
	discoveryPort := freeUDPPort(t)
	streamPort := freeTCPPort(t)

	hub, err := New(baseOptions(config.RoleHub, discoveryPort, streamPort), nil, nil)
	require.NoError(t, err)
	runNode(t, hub)

	// A bare stream client sees what the node client sends
	var observer net.Conn
	require.Eventually(t, func() bool {
		observer, err = net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(streamPort)))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer observer.Close()

	client, err := New(baseOptions(config.RoleClient, discoveryPort, streamPort), nil, nil)
	require.NoError(t, err)
	runNode(t, client)

	observer.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1024)
	n, err := observer.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "127.0.0.1: "), "got %q", buf[:n])
}

func TestPeerSendsToDiscoveredPeers(t *testing.T) {
	discoveryPort := freeUDPPort(t)
	streamPort := freeTCPPort(t)

	sink := &collectingSink{}
	peer, err := New(baseOptions(config.RolePeer, discoveryPort, streamPort), sink, nil)
	require.NoError(t, err)
	runNode(t, peer)

	// 127.0.0.2 reaches this node's own stream listener, so what it sends to the
	// announced peer comes back through its receive side.
	sender, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: discoveryPort}

	require.Eventually(t, func() bool {
		sender.WriteTo([]byte("127.0.0.2"), dest)
		return peer.Directory.Contains("127.0.0.2")
	}, 3*time.Second, 50*time.Millisecond)

	assert.False(t, peer.Directory.Contains("127.0.0.1"))
	require.Eventually(t, func() bool { return sink.any("127.0.0.1: ") }, 3*time.Second, 20*time.Millisecond)
}
