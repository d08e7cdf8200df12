package cborrpc

import (
	"context"
	"net"
	"net/rpc"
)

// Dial connects to a CBOR-RPC server.
func Dial(ctx context.Context, address string) (*rpc.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return rpc.NewClientWithCodec(NewClientCodec(conn)), nil
}

// Call performs one call and gives up when ctx is done.
func Call(ctx context.Context, client *rpc.Client, serviceMethod string, args any, reply any) error {
	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case call = <-call.Done:
		return call.Error
	}
}
