// Package metrics provides Prometheus metrics for a meshlink node.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"
)

// Metrics holds all Prometheus metrics for a node. Every instance owns its registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Discovery metrics
	AnnouncementsSent      prometheus.Counter
	AnnouncementsFailed    prometheus.Counter
	AnnouncementsReceived  prometheus.Counter
	AnnouncementsMalformed prometheus.Counter
	AnnouncementReadErrors prometheus.Counter
	PeersKnown             prometheus.Gauge
	PeersJoined            prometheus.Counter
	PeersExpired           prometheus.Counter

	// Pump metrics
	MessagesSent     prometheus.Counter
	MessagesFailed   prometheus.Counter
	MessagesReceived prometheus.Counter

	// Relay metrics
	ConnectionsOpen  prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	RelayedPayloads  prometheus.Counter
	RelayDeliveries  *prometheus.CounterVec
	RelayFanoutSize  prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		AnnouncementsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_sent_total",
			Help:      "Total number of discovery announcements sent",
		}),
		AnnouncementsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_failed_total",
			Help:      "Total number of discovery announcements that could not be sent",
		}),
		AnnouncementsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_received_total",
			Help:      "Total number of valid discovery announcements received",
		}),
		AnnouncementsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_malformed_total",
			Help:      "Total number of discarded malformed announcements",
		}),
		AnnouncementReadErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcement_read_errors_total",
			Help:      "Total number of failed reads on the discovery socket",
		}),
		PeersKnown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_known",
			Help:      "Current number of live peers in the directory",
		}),
		PeersJoined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_joined_total",
			Help:      "Total number of newly discovered peers",
		}),
		PeersExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_expired_total",
			Help:      "Total number of peers evicted after their TTL",
		}),

		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of payload writes",
		}),
		MessagesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Total number of failed payload writes",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of payloads received",
		}),

		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections_open",
			Help:      "Number of connections currently held by the relay hub",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connections_total",
			Help:      "Total number of connections accepted by the relay hub",
		}),
		RelayedPayloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_payloads_total",
			Help:      "Total number of inbound payloads fanned out",
		}),
		RelayDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Downstream deliveries by outcome",
		}, []string{"status"}),
		RelayFanoutSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_fanout_size",
			Help:      "Number of downstream connections per relayed payload",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// RecordAnnouncement records an outgoing announcement attempt.
func (m *Metrics) RecordAnnouncement(err error) {
	if err != nil {
		m.AnnouncementsFailed.Inc()
		return
	}
	m.AnnouncementsSent.Inc()
}

// RecordSend records one payload write.
func (m *Metrics) RecordSend(err error) {
	if err != nil {
		m.MessagesFailed.Inc()
		return
	}
	m.MessagesSent.Inc()
}

// RecordDelivery records the outcome of one downstream relay delivery ("queued", "dropped", "failed", "written").
func (m *Metrics) RecordDelivery(status string) {
	m.RelayDeliveries.WithLabelValues(status).Inc()
}

// UpdatePeers updates the peer gauges after a directory change.
func (m *Metrics) UpdatePeers(known int, joined int, expired int) {
	m.PeersKnown.Set(float64(known))
	m.PeersJoined.Add(float64(joined))
	m.PeersExpired.Add(float64(expired))
}

// MetricsServer runs an HTTP server exposing /metrics and /health endpoints.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve runs the server on l until ctx is cancelled.
func (s *MetricsServer) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics: shutdown error: %v", err)
		}
	}()

	log.Infof("metrics: serving on %s", l.Addr())
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled.
func (s *MetricsServer) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
