package discovery

import (
	"context"
	"errors"
	"meshlink/helper/timer"
	"meshlink/metrics"
	"meshlink/swarm/peers"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Listener consumes announcements and keeps the peer directory up to date.
type Listener struct {
	conn    net.PacketConn
	dir     *peers.Directory
	ttl     time.Duration
	metrics *metrics.Metrics

	// now is replaced in tests
	now func() time.Time
}

// readErrorBackoff paces the loop while the socket keeps failing
var readErrorBackoff = 100 * time.Millisecond

func NewListener(conn net.PacketConn, dir *peers.Directory, ttl time.Duration, m *metrics.Metrics) *Listener {
	return &Listener{
		conn:    conn,
		dir:     dir,
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
	}
}

// unblockOnDone makes blocking reads on conn return as soon as ctx is cancelled.
// The returned function releases the hook.
func unblockOnDone(ctx context.Context, conn interface{ SetReadDeadline(time.Time) error }) func() bool {
	return context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
}

// Listen receives announcements until ctx is cancelled or the connection is closed.
func (l *Listener) Listen(ctx context.Context) error {
	stop := unblockOnDone(ctx, l.conn)
	defer stop()

	log.Infof("Listener: listening for announcements on %s (ttl %v)", l.conn.LocalAddr(), l.ttl)

	buf := make([]byte, maxAnnouncementSize)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Debugf("Listener: context cancelled, stopping")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.Infof("Listener: connection closed, stopping")
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			log.Errorf("Listener: failed to read announcement: %v", err)
			l.metrics.AnnouncementReadErrors.Inc()
			if err := timer.Sleep(ctx, readErrorBackoff); err != nil {
				return nil
			}
			continue
		}

		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(data []byte, from net.Addr) {
	ann, err := Decode(data)
	if err != nil {
		l.metrics.AnnouncementsMalformed.Inc()
		log.Warnf("Listener: discarding announcement from %s: %v", from, err)
		return
	}
	l.metrics.AnnouncementsReceived.Inc()

	now := l.now()
	joined := 0
	if l.dir.Upsert(ann.Address(), now) {
		joined = 1
		log.WithField("peer", ann.Address()).Info("New peer discovered")
	}

	l.sweep(now, joined)
}

func (l *Listener) sweep(now time.Time, joined int) {
	evicted := l.dir.Sweep(now, l.ttl)
	for _, addr := range evicted {
		log.WithField("peer", addr).Infof("Peer expired after %v of silence", l.ttl)
	}
	l.metrics.UpdatePeers(l.dir.Len(), joined, len(evicted))
}

// This is run via the RunWithTicker() helper
func (l *Listener) periodicSweep(ctx context.Context) error {
	l.sweep(l.now(), 0)
	return nil
}

// SweepPeriodically evicts silent peers every ttl/2, so peers expire even when no announcements arrive at all.
func (l *Listener) SweepPeriodically(ctx context.Context) error {
	interval := &timer.Interval{Duration: l.ttl / 2}
	if interval.Duration <= 0 {
		interval.Duration = time.Second
	}

	err := timer.RunWithTicker(ctx, interval, false, l.periodicSweep)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
