package discovery

import (
	"context"
	"errors"
	"meshlink/helper/timer"
	"meshlink/metrics"
	"net"

	log "github.com/sirupsen/logrus"
)

// Announcer periodically broadcasts our own address.
type Announcer struct {
	conn     net.PacketConn
	dest     net.Addr
	self     Announcement
	interval timer.Interval
	metrics  *metrics.Metrics
}

func NewAnnouncer(conn net.PacketConn, dest net.Addr, self Announcement, interval timer.Interval, m *metrics.Metrics) *Announcer {
	return &Announcer{
		conn:     conn,
		dest:     dest,
		self:     self,
		interval: interval,
		metrics:  m,
	}
}

// This is run via the RunWithTicker() helper
func (a *Announcer) announce(ctx context.Context) error {
	_, err := a.conn.WriteTo(a.self.Encode(), a.dest)
	a.metrics.RecordAnnouncement(err)
	if err != nil {
		// A lost announcement is repaired by the next one
		log.Warnf("Announcer: failed to send announcement to %s: %v", a.dest, err)
		return nil
	}

	log.Debugf("Announcer: announced %s to %s", a.self, a.dest)
	return nil
}

// Run announces immediately and then once per interval until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	log.Infof("Announcer: announcing %s to %s every %v", a.self, a.dest, a.interval.Duration)

	err := timer.RunWithTicker(ctx, &a.interval, true, a.announce)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
