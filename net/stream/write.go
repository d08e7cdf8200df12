package stream

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Write writes payload to conn. It gives up after timeout, when positive, or as soon as ctx is cancelled.
func Write(ctx context.Context, conn net.Conn, timeout time.Duration, payload []byte) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	conn.SetWriteDeadline(deadline)

	// An expired deadline unblocks a write stuck on a peer that stopped reading
	stop := context.AfterFunc(ctx, func() {
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return err
	}
	return nil
}
