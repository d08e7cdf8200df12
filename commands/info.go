package commands

import (
	"context"
	"meshlink/config"
	"meshlink/swarm/control"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunInfo queries the control endpoint of a running node and logs its state.
func RunInfo(ctx context.Context, cfg *config.Config) {
	if cfg.Control.ListenAddress == "" {
		log.Fatal("Control endpoint is disabled in the config")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c, err := control.Dial(ctx, cfg.Control.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.Control.ListenAddress, err)
	}
	defer c.Close()

	status, err := c.Status(ctx)
	if err != nil {
		log.Fatalf("Failed to query status: %v", err)
	}
	log.Infof("Node: %s, role: %s, up: %v, messages logged: %d",
		status.Self, status.Role, time.Since(status.Started).Truncate(time.Second), status.MessagesLogged)

	peers, err := c.Peers(ctx)
	if err != nil {
		log.Fatalf("Failed to query peers: %v", err)
	}
	log.Infof("Peer directory: %d peers known", len(peers.Peers))
	for _, p := range peers.Peers {
		log.Infof("Peer: %s, last seen: %v ago", p.Address, time.Since(p.LastSeen).Truncate(time.Millisecond))
	}

	conns, err := c.Connections(ctx)
	if err != nil {
		log.Fatalf("Failed to query connections: %v", err)
	}
	log.Infof("Relay: %d connections", len(conns.Connections))
	for _, conn := range conns.Connections {
		log.Infof("Connection: %d, remote: %s, state: %s, queued: %d, dropped: %d",
			conn.ID, conn.Remote, conn.State, conn.Queued, conn.Dropped)
	}
}
