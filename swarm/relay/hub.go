// Package relay implements the centralized hub that fans every client payload out to all other clients.
package relay

import (
	"context"
	"errors"
	"meshlink/datamodel/message"
	"meshlink/metrics"
	"meshlink/net/stream"
	"meshlink/swarm/pump"
	"net"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 5 * time.Second
)

type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
}

type Hub struct {
	opts    Options
	sink    message.Sink // Optional, sees every relayed payload
	metrics *metrics.Metrics

	conns  *ConnectionSet
	nextID atomic.Uint64
}

func NewHub(opts Options, sink message.Sink, m *metrics.Metrics) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Hub{
		opts:    opts,
		sink:    sink,
		metrics: m,
		conns:   NewConnectionSet(),
	}
}

// Serve accepts client connections on l until ctx is cancelled, then closes every connection.
func (h *Hub) Serve(ctx context.Context, l net.Listener) error {
	log.Infof("Relay: accepting clients on %s", l.Addr())
	defer h.Close()
	return stream.Serve(ctx, l, h.handle)
}

func (h *Hub) handle(ctx context.Context, conn net.Conn) {
	c := newConnection(h.nextID.Add(1), conn, h.opts.QueueSize, h.opts.WriteTimeout, h.metrics)
	logger := log.WithFields(log.Fields{"conn": c.id, "remote": c.remote})

	h.conns.Insert(c)
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ConnectionsOpen.Inc()
	defer func() {
		h.conns.Remove(c.id)
		c.Close()
		h.metrics.ConnectionsOpen.Dec()
		logger.Info("Relay: connection removed")
	}()

	go c.writeLoop()

	c.setState(StateRelaying)
	logger.Info("Relay: connection relaying")

	err := pump.ReceiveLoop(ctx, conn, message.SinkFunc(func(msg *message.Message) {
		h.relay(c, msg)
	}), h.metrics)
	if err != nil && c.State() != StateClosed {
		logger.Warnf("Relay: %v", err)
	}
}

// relay hands msg to every connection except its source.
func (h *Hub) relay(src *Connection, msg *message.Message) {
	fanout := 0
	for _, c := range h.conns.Snapshot() {
		if c.id == src.id {
			continue
		}
		fanout++

		switch err := c.Enqueue(msg.Payload); {
		case err == nil:
			h.metrics.RecordDelivery("queued")
		case errors.Is(err, ErrQueueFull):
			h.metrics.RecordDelivery("dropped")
			log.WithField("conn", c.id).Warnf("Relay: queue full, dropping payload from %s", src.remote)
		default:
			h.metrics.RecordDelivery("closed")
		}
	}

	h.metrics.RelayedPayloads.Inc()
	h.metrics.RelayFanoutSize.Observe(float64(fanout))
	log.WithField("conn", src.id).Debugf("Relay: %q fanned out to %d connections", msg.Payload, fanout)

	if h.sink != nil {
		h.sink.HandleMessage(msg)
	}
}

// Connections returns the live connections ordered by id.
func (h *Hub) Connections() []ConnectionInfo {
	snapshot := h.conns.Snapshot()
	out := make([]ConnectionInfo, 0, len(snapshot))
	for _, c := range snapshot {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) Len() int {
	return h.conns.Len()
}

// Close closes every live connection.
func (h *Hub) Close() error {
	for _, c := range h.conns.Snapshot() {
		c.Close()
	}
	return nil
}
