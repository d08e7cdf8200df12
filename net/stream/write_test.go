package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeDialer hands out the local end of a pipe whose remote end never reads.
type pipeDialer struct {
	remotes []net.Conn
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	local, remote := net.Pipe()
	d.remotes = append(d.remotes, remote)
	return local, nil
}

func TestWriteUnblocksOnCancel(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := Write(ctx, local, 0, []byte("stuck"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWriteTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	err := Write(context.Background(), local, 50*time.Millisecond, []byte("stuck"))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestWriteClearsExpiredDeadline(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	require.Error(t, Write(context.Background(), local, 10*time.Millisecond, []byte("a")))

	go func() {
		buf := make([]byte, 8)
		remote.Read(buf)
	}()
	assert.NoError(t, Write(context.Background(), local, 0, []byte("b")))
}

func TestPoolSendUnblocksOnCancel(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d, "50000", 0)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- p.Send(ctx, "10.0.0.2", []byte("stuck")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked after cancel")
	}
	for _, r := range d.remotes {
		r.Close()
	}
}
