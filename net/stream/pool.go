// Package stream keeps outbound stream connections to peers.
package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dialer opens a stream connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Pool holds at most one outbound connection per peer address and dials lazily.
type Pool struct {
	dialer       Dialer
	port         string
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[string]net.Conn
}

func NewPool(dialer Dialer, port string, writeTimeout time.Duration) *Pool {
	return &Pool{
		dialer:       dialer,
		port:         port,
		writeTimeout: writeTimeout,
		conns:        make(map[string]net.Conn),
	}
}

// target turns a directory address (host or host:port) into a dialable endpoint.
func (p *Pool) target(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, p.port)
}

func (p *Pool) get(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	conn, ok := p.conns[addr]
	p.mu.Unlock()
	if ok {
		return conn, nil
	}

	// Dial without holding the lock, a slow peer must not block the others
	conn, err := p.dialer.DialContext(ctx, "tcp", p.target(addr))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[addr]; ok {
		conn.Close()
		return existing, nil
	}
	p.conns[addr] = conn
	log.WithField("peer", addr).Debugf("stream.Pool: connected to %s", conn.RemoteAddr())
	return conn, nil
}

// drop closes and forgets the connection to addr if it is still conn.
func (p *Pool) drop(addr string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.conns[addr]; ok && current == conn {
		delete(p.conns, addr)
		conn.Close()
	}
}

// Send writes payload to the peer at addr, dialing first if needed.
// A failed write drops the connection so the next Send redials.
func (p *Pool) Send(ctx context.Context, addr string, payload []byte) error {
	conn, err := p.get(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := Write(ctx, conn, p.writeTimeout, payload); err != nil {
		p.drop(addr, conn)
		return fmt.Errorf("write %s: %w", addr, err)
	}
	return nil
}

// Retain closes the connections to every address not in live.
func (p *Pool) Retain(live []string) {
	keep := make(map[string]struct{}, len(live))
	for _, addr := range live {
		keep[addr] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, conn := range p.conns {
		if _, ok := keep[addr]; !ok {
			delete(p.conns, addr)
			conn.Close()
			log.WithField("peer", addr).Debug("stream.Pool: closed connection to departed peer")
		}
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.Retain(nil)
	return nil
}
