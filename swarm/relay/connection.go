package relay

import (
	"errors"
	"meshlink/metrics"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueFull        = errors.New("outbound queue full")
	ErrConnectionClosed = errors.New("connection closed")
)

type State int32

const (
	StateOpen State = iota
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionInfo is a point-in-time view of a hub connection.
type ConnectionInfo struct {
	ID      uint64
	Remote  string
	State   State
	Queued  int
	Dropped uint64
}

// Connection is one accepted client stream. Outbound payloads go through a bounded queue
// drained by a dedicated writer, so a slow client never stalls fan-out to the others.
type Connection struct {
	id           uint64
	remote       string
	conn         net.Conn
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	dropped   atomic.Uint64
}

func newConnection(id uint64, conn net.Conn, queueSize int, writeTimeout time.Duration, m *metrics.Metrics) *Connection {
	return &Connection{
		id:           id,
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		writeTimeout: writeTimeout,
		metrics:      m,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
	}
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Remote() string {
	return c.remote
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:      c.id,
		Remote:  c.remote,
		State:   c.State(),
		Queued:  len(c.out),
		Dropped: c.dropped.Load(),
	}
}

// Enqueue schedules payload for delivery without blocking.
func (c *Connection) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.dropped.Add(1)
		return ErrQueueFull
	}
}

// writeLoop drains the outbound queue until the connection closes. A failed write closes the connection.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.out:
			// Both cases may be ready, a closed connection never writes
			select {
			case <-c.done:
				return
			default:
			}
			if c.writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.conn.Write(payload); err != nil {
				c.metrics.RecordDelivery("failed")
				log.WithField("conn", c.id).Warnf("Relay: write to %s failed: %v", c.remote, err)
				c.Close()
				return
			}
			c.metrics.RecordDelivery("written")
		}
	}
}

// Close marks the connection closed and releases its socket. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		// Socket first, so a write racing with Close fails instead of delivering
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

// ConnectionSet is the set of live hub connections.
type ConnectionSet struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{conns: make(map[uint64]*Connection)}
}

func (s *ConnectionSet) Insert(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *ConnectionSet) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Snapshot returns the current members. Fan-out iterates the copy, never the set.
func (s *ConnectionSet) Snapshot() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *ConnectionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
