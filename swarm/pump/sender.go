package pump

import (
	"context"
	"meshlink/metrics"
	"meshlink/net/stream"
	"meshlink/swarm/peers"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sender delivers one payload. A returned error is logged by the send loop and does not stop it.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// StreamSender writes payloads to a single connection, the hub connection of a client.
type StreamSender struct {
	conn         net.Conn
	writeTimeout time.Duration
	metrics      *metrics.Metrics
}

func NewStreamSender(conn net.Conn, writeTimeout time.Duration, m *metrics.Metrics) *StreamSender {
	return &StreamSender{conn: conn, writeTimeout: writeTimeout, metrics: m}
}

func (s *StreamSender) Send(ctx context.Context, payload []byte) error {
	err := stream.Write(ctx, s.conn, s.writeTimeout, payload)
	s.metrics.RecordSend(err)
	return err
}

// PeerSender writes each payload to every peer in the directory at the time of the call.
// Per-peer failures are logged and never abort delivery to the remaining peers.
type PeerSender struct {
	dir     *peers.Directory
	pool    *stream.Pool
	metrics *metrics.Metrics
}

func NewPeerSender(dir *peers.Directory, pool *stream.Pool, m *metrics.Metrics) *PeerSender {
	return &PeerSender{dir: dir, pool: pool, metrics: m}
}

func (s *PeerSender) Send(ctx context.Context, payload []byte) error {
	live := s.dir.Snapshot()
	s.pool.Retain(live)

	for _, addr := range live {
		err := s.pool.Send(ctx, addr, payload)
		s.metrics.RecordSend(err)
		if err != nil {
			log.WithField("peer", addr).Warnf("PeerSender: delivery failed: %v", err)
		}
	}
	return nil
}
