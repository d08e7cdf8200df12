package node

import (
	"context"
	"errors"
	"fmt"
	"meshlink/config"
	"meshlink/datamodel/message"
	"meshlink/datastore/leveldb"
	"meshlink/helper/localaddr"
	"meshlink/helper/timer"
	"meshlink/metrics"
	"meshlink/net/discovery"
	"meshlink/net/stream"
	"meshlink/swarm/control"
	"meshlink/swarm/peers"
	"meshlink/swarm/pump"
	"meshlink/swarm/relay"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

var ErrUnknownRole = errors.New("unknown node role")

// Pause between losing the hub and locating it again
var reconnectDelay = time.Second

type Options struct {
	Role string // config.RoleHub, config.RoleClient or config.RolePeer
	Self string // Advertised host, also filters our own announcements

	// Pump
	Frequency float64
	Limit     uint64

	// Discovery
	TTL              time.Duration
	AnnounceInterval time.Duration
	AnnounceJitter   time.Duration
	DiscoveryPort    int
	BroadcastAddress string
	LocateTimeout    time.Duration
	LocateAttempts   int

	// Stream
	StreamPort   int
	QueueSize    int
	WriteTimeout time.Duration
	DialTimeout  time.Duration

	// Optional endpoints, empty disables them
	ControlAddress string
	MetricsAddress string
}

// OptionsFromConfig maps a loaded configuration onto node options. self is the resolved local host.
func OptionsFromConfig(cfg *config.Config, self string) Options {
	return Options{
		Role:             cfg.Node.Role,
		Self:             self,
		Frequency:        cfg.Stream.Frequency,
		Limit:            cfg.Stream.Limit,
		TTL:              cfg.Discovery.TTL.Std(),
		AnnounceInterval: cfg.Discovery.AnnounceInterval.Std(),
		AnnounceJitter:   cfg.Discovery.AnnounceJitter.Std(),
		DiscoveryPort:    cfg.Discovery.Port,
		BroadcastAddress: cfg.Discovery.BroadcastAddress,
		LocateTimeout:    cfg.Discovery.LocateTimeout.Std(),
		LocateAttempts:   cfg.Discovery.LocateAttempts,
		StreamPort:       cfg.Stream.Port,
		QueueSize:        cfg.Stream.QueueSize,
		WriteTimeout:     cfg.Stream.WriteTimeout.Std(),
		DialTimeout:      cfg.Stream.DialTimeout.Std(),
		ControlAddress:   cfg.Control.ListenAddress,
		MetricsAddress:   cfg.Metrics.ListenAddress,
	}
}

// Node is one participant. The role decides which loops Run starts.
type Node struct {
	opts Options

	// State
	Directory *peers.Directory
	Hub       *relay.Hub

	// Collaborators
	Sink       message.Sink
	MessageLog *leveldb.MessageLog // Optional, only reported through the control endpoint
	Metrics    *metrics.Metrics
}

func New(opts Options, sink message.Sink, msgLog *leveldb.MessageLog) (*Node, error) {
	switch opts.Role {
	case config.RoleHub, config.RoleClient, config.RolePeer:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, opts.Role)
	}
	if sink == nil {
		sink = message.LogSink{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = relay.DefaultWriteTimeout
	}

	node := &Node{
		opts:       opts,
		Directory:  peers.NewDirectory(opts.Self),
		Sink:       sink,
		MessageLog: msgLog,
		Metrics:    metrics.NewMetrics("meshlink"),
	}

	if opts.Role == config.RoleHub {
		node.Hub = relay.NewHub(relay.Options{
			QueueSize:    opts.QueueSize,
			WriteTimeout: opts.WriteTimeout,
		}, sink, node.Metrics)
	}

	log.Infof("I am %s (%s)", opts.Self, opts.Role)

	return node, nil
}

func (n *Node) Run(ctx context.Context) error {
	defer n.Directory.Clear()

	wg, cctx := errgroup.WithContext(ctx)

	if n.opts.ControlAddress != "" {
		l, err := net.Listen("tcp", n.opts.ControlAddress)
		if err != nil {
			return fmt.Errorf("control endpoint: %w", err)
		}
		ctl := control.New(n.opts.Role, n.opts.Self, n.Directory, n.Hub, n.MessageLog)
		wg.Go(func() error {
			return ctl.Serve(cctx, l)
		})
	}

	if n.opts.MetricsAddress != "" {
		srv := metrics.NewMetricsServer(n.opts.MetricsAddress, n.Metrics)
		wg.Go(func() error {
			return srv.ListenAndServe(cctx)
		})
	}

	wg.Go(func() error {
		switch n.opts.Role {
		case config.RoleHub:
			return n.runHub(cctx)
		case config.RoleClient:
			return n.runClient(cctx)
		default:
			return n.runPeer(cctx)
		}
	})

	return wg.Wait()
}

func (n *Node) interval() timer.Interval {
	return timer.Interval{Duration: n.opts.AnnounceInterval, Jitter: n.opts.AnnounceJitter}
}

func (n *Node) broadcastDestination() (net.Addr, error) {
	addr := n.opts.BroadcastAddress
	if addr == "" {
		addr = net.IPv4bcast.String()
		if ip := net.ParseIP(n.opts.Self); ip != nil {
			addr = localaddr.BroadcastAddress(ip).String()
		}
	}
	return discovery.BroadcastDestination(addr, n.opts.DiscoveryPort)
}

func (n *Node) streamAddress() string {
	return net.JoinHostPort("", strconv.Itoa(n.opts.StreamPort))
}

// runHub announces self:streamPort and relays between the clients that connect.
func (n *Node) runHub(ctx context.Context) error {
	// Sending only, an ephemeral port keeps the discovery port free for local clients
	pc, err := discovery.ListenBroadcast(ctx, 0)
	if err != nil {
		return fmt.Errorf("discovery socket: %w", err)
	}
	defer pc.Close()

	dest, err := n.broadcastDestination()
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp4", n.streamAddress())
	if err != nil {
		return fmt.Errorf("stream listener: %w", err)
	}

	announcer := discovery.NewAnnouncer(pc, dest, discovery.Announcement{Host: n.opts.Self, Port: n.opts.StreamPort}, n.interval(), n.Metrics)

	wg, cctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return announcer.Run(cctx)
	})
	wg.Go(func() error {
		return n.Hub.Serve(cctx, l)
	})
	return wg.Wait()
}

// runClient locates the hub, pumps over the hub connection, and locates the hub again once it goes away.
func (n *Node) runClient(ctx context.Context) error {
	pc, err := discovery.ListenBroadcast(ctx, n.opts.DiscoveryPort)
	if err != nil {
		return fmt.Errorf("discovery socket: %w", err)
	}
	defer pc.Close()

	backoff := &timer.Backoff{
		Initial:  time.Second,
		Max:      30 * time.Second,
		Attempts: n.opts.LocateAttempts,
	}

	for {
		hub, err := discovery.LocateWithRetry(ctx, pc, n.opts.LocateTimeout, backoff)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := n.session(ctx, hub); err != nil {
			log.Warnf("Client: session with hub %s ended: %v", hub, err)
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Infof("Client: lost hub %s, locating again", hub)
		if err := timer.Sleep(ctx, reconnectDelay); err != nil {
			return nil
		}
	}
}

func (n *Node) session(ctx context.Context, hub discovery.Announcement) error {
	d := &net.Dialer{Timeout: n.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", hub.Address())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Infof("Client: connected to hub %s from %s", hub, conn.LocalAddr())

	p := pump.New(pump.Options{
		Self:      n.opts.Self,
		Frequency: n.opts.Frequency,
		Limit:     n.opts.Limit,
	}, pump.NewStreamSender(conn, n.opts.WriteTimeout, n.Metrics), conn, n.Sink, n.Metrics)
	return p.Run(ctx)
}

// runPeer announces self, tracks live peers, accepts their streams and sends to all of them.
func (n *Node) runPeer(ctx context.Context) error {
	pc, err := discovery.ListenBroadcast(ctx, n.opts.DiscoveryPort)
	if err != nil {
		return fmt.Errorf("discovery socket: %w", err)
	}
	defer pc.Close()

	dest, err := n.broadcastDestination()
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp4", n.streamAddress())
	if err != nil {
		return fmt.Errorf("stream listener: %w", err)
	}

	pool := stream.NewPool(&net.Dialer{Timeout: n.opts.DialTimeout}, strconv.Itoa(n.opts.StreamPort), n.opts.WriteTimeout)
	defer pool.Close()

	announcer := discovery.NewAnnouncer(pc, dest, discovery.Announcement{Host: n.opts.Self}, n.interval(), n.Metrics)
	listener := discovery.NewListener(pc, n.Directory, n.opts.TTL, n.Metrics)
	p := pump.New(pump.Options{
		Self:      n.opts.Self,
		Frequency: n.opts.Frequency,
		Limit:     n.opts.Limit,
	}, pump.NewPeerSender(n.Directory, pool, n.Metrics), nil, n.Sink, n.Metrics)

	wg, cctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return announcer.Run(cctx)
	})
	wg.Go(func() error {
		return listener.Listen(cctx)
	})
	wg.Go(func() error {
		return listener.SweepPeriodically(cctx)
	})
	wg.Go(func() error {
		return pump.Serve(cctx, l, n.Sink, n.Metrics)
	})
	wg.Go(func() error {
		return p.Run(cctx)
	})
	return wg.Wait()
}
