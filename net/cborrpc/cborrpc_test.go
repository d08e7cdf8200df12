package cborrpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type EchoArgs struct {
	Text string    `cbor:"1,keyasint,omitempty"`
	At   time.Time `cbor:"2,keyasint,omitempty"`
}

type EchoReply struct {
	Text string    `cbor:"1,keyasint,omitempty"`
	At   time.Time `cbor:"2,keyasint,omitempty"`
}

type Echo struct{}

func (Echo) Echo(args *EchoArgs, reply *EchoReply) error {
	reply.Text = args.Text
	reply.At = args.At
	return nil
}

func (Echo) Fail(args *EchoArgs, reply *EchoReply) error {
	return errors.New("refused")
}

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, l, "Echo", Echo{}) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return l.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	var reply EchoReply
	require.NoError(t, Call(ctx, client, "Echo.Echo", &EchoArgs{Text: "hi", At: at}, &reply))
	assert.Equal(t, "hi", reply.Text)
	assert.True(t, at.Equal(reply.At))

	// The stream stays usable after a server-side error.
	err = Call(ctx, client, "Echo.Fail", &EchoArgs{}, &reply)
	assert.EqualError(t, err, "refused")

	require.NoError(t, Call(ctx, client, "Echo.Echo", &EchoArgs{Text: "again"}, &reply))
	assert.Equal(t, "again", reply.Text)
}

func TestCallUnknownMethod(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	var reply EchoReply
	assert.Error(t, Call(ctx, client, "Echo.Missing", &EchoArgs{}, &reply))
}
