package discovery

import (
	"context"
	"errors"
	"fmt"
	"meshlink/helper/timer"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNoHub = errors.New("no hub announcement received")

// Locate waits for the first announcement that carries a port and returns it.
// Announcements without a port come from decentralized peers and are skipped, as are malformed ones.
func Locate(ctx context.Context, conn net.PacketConn) (Announcement, error) {
	// A previous cancelled attempt leaves an expired deadline behind
	conn.SetReadDeadline(time.Time{})
	stop := unblockOnDone(ctx, conn)
	defer stop()

	log.Infof("Locate: waiting for a hub announcement on %s", conn.LocalAddr())

	buf := make([]byte, maxAnnouncementSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Announcement{}, fmt.Errorf("%w: %w", ErrNoHub, ctx.Err())
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return Announcement{}, fmt.Errorf("%w: %w", ErrNoHub, err)
		}

		ann, err := Decode(buf[:n])
		if err != nil {
			log.Warnf("Locate: discarding announcement from %s: %v", from, err)
			continue
		}
		if ann.Port == 0 {
			log.Debugf("Locate: ignoring portless announcement %s from %s", ann, from)
			continue
		}

		log.Infof("Locate: found hub at %s", ann)
		return ann, nil
	}
}

// LocateWithRetry runs Locate with a per-attempt timeout and backs off between failed attempts.
func LocateWithRetry(ctx context.Context, conn net.PacketConn, attemptTimeout time.Duration, b *timer.Backoff) (Announcement, error) {
	var found Announcement
	err := timer.Retry(ctx, b, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		ann, err := Locate(attemptCtx, conn)
		if err != nil {
			return err
		}
		found = ann
		return nil
	})
	return found, err
}
