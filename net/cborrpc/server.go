package cborrpc

import (
	"context"
	"meshlink/net/stream"
	"net"
	"net/rpc"

	log "github.com/sirupsen/logrus"
)

// Serve registers rcvr under name and answers CBOR-RPC calls on l until ctx is cancelled.
func Serve(ctx context.Context, l net.Listener, name string, rcvr any) error {
	server := rpc.NewServer()
	if err := server.RegisterName(name, rcvr); err != nil {
		return err
	}

	log.Infof("CBOR-RPC: serving %s on %s", name, l.Addr())
	return stream.Serve(ctx, l, func(ctx context.Context, conn net.Conn) {
		// ServeCodec only returns once the connection is gone
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		log.Debugf("CBOR-RPC: serving %s", conn.RemoteAddr())
		server.ServeCodec(NewServerCodec(conn))
	})
}
