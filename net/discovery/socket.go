package discovery

import (
	"context"
	"net"
	"strconv"
)

// ListenBroadcast opens the datagram socket used for both announcing and listening.
// The port is shared, so several nodes on one host can listen at the same time.
func ListenBroadcast(ctx context.Context, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reusePort}
	return lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
}

// BroadcastDestination resolves the destination announcements are sent to.
func BroadcastDestination(address string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
}
