package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handler serves one accepted connection. The connection is closed after the handler returns.
type Handler func(ctx context.Context, conn net.Conn)

// Serve accepts connections on l and runs handle for each one in its own goroutine.
// Cancelling ctx closes the listener. Serve returns after every handler has finished.
func Serve(ctx context.Context, l net.Listener, handle Handler) error {
	// Closing the listener will cause the Accept loop to unblock.
	stop := context.AfterFunc(ctx, func() {
		log.Infof("stream.Serve: context cancelled, closing listener %s", l.Addr())
		if err := l.Close(); err != nil {
			log.Warnf("stream.Serve: error closing listener %s: %v", l.Addr(), err)
		}
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("stream.Serve: listener %s stopped", l.Addr())
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.Infof("stream.Serve: listener %s closed", l.Addr())
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("stream.Serve: accept error on %s: %v; retrying in %v", l.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("stream.Serve: critical accept error on %s: %v", l.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("stream.Serve: accepted connection from %s on %s", conn.RemoteAddr(), l.Addr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			handle(ctx, conn)
		}()
	}
}
