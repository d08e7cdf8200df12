// Package pump runs the periodic send loop and the stream receive loop of a node.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"meshlink/datamodel/message"
	"meshlink/helper/timer"
	"meshlink/metrics"
	"meshlink/net/stream"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const readBufferSize = 1024

var (
	ErrInvalidFrequency = errors.New("send frequency must be positive")
	ErrConnectionReset  = errors.New("connection reset")
)

type Options struct {
	Self      string  // Prefix of every payload, empty for bare counters
	Frequency float64 // Sends per second
	Limit     uint64  // Stop after this many sends, 0 means unbounded
}

// Period returns the pause between two sends.
func (o Options) Period() time.Duration {
	return time.Duration(float64(time.Second) / o.Frequency)
}

// Payload renders the n-th payload, "<self>: <n>" or just "<n>".
func Payload(self string, n uint64) []byte {
	if self == "" {
		return strconv.AppendUint(nil, n, 10)
	}
	return strconv.AppendUint([]byte(self+": "), n, 10)
}

// Pump couples a send loop with an optional receive loop on the same stream.
type Pump struct {
	opts    Options
	sender  Sender
	conn    net.Conn
	sink    message.Sink
	metrics *metrics.Metrics
}

// New creates a pump. conn may be nil when the node only sends, as a decentralized peer does.
func New(opts Options, sender Sender, conn net.Conn, sink message.Sink, m *metrics.Metrics) *Pump {
	return &Pump{
		opts:    opts,
		sender:  sender,
		conn:    conn,
		sink:    sink,
		metrics: m,
	}
}

// SendLoop sends a payload, then sleeps one period, until ctx is cancelled or the limit is reached.
// The counter advances on every attempt, failed sends are logged and skipped.
func (p *Pump) SendLoop(ctx context.Context) error {
	if p.opts.Frequency <= 0 {
		return ErrInvalidFrequency
	}
	period := p.opts.Period()
	log.Infof("Pump: sending every %v", period)

	for n := uint64(0); p.opts.Limit == 0 || n < p.opts.Limit; n++ {
		if ctx.Err() != nil {
			return nil
		}

		payload := Payload(p.opts.Self, n)
		if err := p.sender.Send(ctx, payload); err != nil {
			log.Warnf("Pump: failed to send %q: %v", payload, err)
		} else {
			log.Debugf("Pump: sent %q", payload)
		}

		if err := timer.Sleep(ctx, period); err != nil {
			return nil
		}
	}

	log.Infof("Pump: send limit of %d reached", p.opts.Limit)
	return nil
}

// ReceiveLoop reads chunks from conn and hands each one to sink.
// An orderly close by the remote end returns nil, any other read failure is returned.
func ReceiveLoop(ctx context.Context, conn net.Conn, sink message.Sink, m *metrics.Metrics) error {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	from := conn.RemoteAddr().String()
	logger := log.WithField("remote", from)
	logger.Debug("ReceiveLoop: started")

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			m.MessagesReceived.Inc()
			sink.HandleMessage(&message.Message{
				From:     from,
				Payload:  append([]byte(nil), buf[:n]...),
				Received: time.Now(),
			})
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logger.Info("ReceiveLoop: connection closed by remote")
				return nil
			}
			return fmt.Errorf("%w: %s: %w", ErrConnectionReset, from, err)
		}
		if n == 0 {
			logger.Info("ReceiveLoop: empty read, treating as close")
			return nil
		}
	}
}

// Run runs the send loop and, when the pump has a connection, the receive loop.
// The send loop stops as soon as the receive loop ends.
func (p *Pump) Run(ctx context.Context) error {
	if p.conn == nil {
		return p.SendLoop(ctx)
	}

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(recvCtx)
	g.Go(func() error {
		defer cancel()
		return ReceiveLoop(gctx, p.conn, p.sink, p.metrics)
	})
	g.Go(func() error {
		return p.SendLoop(gctx)
	})
	return g.Wait()
}

// Serve accepts inbound streams on l and runs a receive loop for each.
func Serve(ctx context.Context, l net.Listener, sink message.Sink, m *metrics.Metrics) error {
	log.Infof("Pump: accepting peer streams on %s", l.Addr())
	return stream.Serve(ctx, l, func(ctx context.Context, conn net.Conn) {
		if err := ReceiveLoop(ctx, conn, sink, m); err != nil {
			log.Warnf("Pump: inbound stream ended: %v", err)
		}
	})
}
