package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector with Prometheus metrics.
type PrometheusCollector struct {
	sessionsTotal  prometheus.Counter
	sessionsActive prometheus.Gauge
	tlsTotal       prometheus.Counter

	commandsTotal *prometheus.CounterVec

	messagesAcceptedTotal *prometheus.CounterVec
	messagesRejectedTotal *prometheus.CounterVec
	messageSizeBytes      prometheus.Histogram

	spfChecksTotal     *prometheus.CounterVec
	dkimChecksTotal    *prometheus.CounterVec
	dmarcChecksTotal   *prometheus.CounterVec
	blocklistHitsTotal *prometheus.CounterVec

	deliveriesTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates the metrics and registers them with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_sessions_total",
			Help: "Total number of SMTP sessions accepted.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_sessions_active",
			Help: "Number of open SMTP sessions.",
		}),
		tlsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_tls_upgrades_total",
			Help: "Total number of sessions upgraded with STARTTLS.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_commands_total",
			Help: "Total number of SMTP commands processed.",
		}, []string{"command"}),
		messagesAcceptedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_accepted_total",
			Help: "Total number of messages accepted.",
		}, []string{"sender_domain"}),
		messagesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_rejected_total",
			Help: "Total number of messages rejected.",
		}, []string{"sender_domain", "reason"}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_message_size_bytes",
			Help:    "Size of accepted messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400},
		}),
		spfChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_spf_checks_total",
			Help: "Total number of SPF checks performed.",
		}, []string{"sender_domain", "result"}),
		dkimChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_dkim_checks_total",
			Help: "Total number of DKIM verifications performed.",
		}, []string{"sender_domain", "result"}),
		dmarcChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_dmarc_checks_total",
			Help: "Total number of DMARC policy lookups performed.",
		}, []string{"sender_domain", "result"}),
		blocklistHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_blocklist_hits_total",
			Help: "Total number of DNS blocklist hits.",
		}, []string{"zone"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "Total number of outbound deliveries.",
		}, []string{"recipient_domain", "result"}),
	}

	reg.MustRegister(
		c.sessionsTotal,
		c.sessionsActive,
		c.tlsTotal,
		c.commandsTotal,
		c.messagesAcceptedTotal,
		c.messagesRejectedTotal,
		c.messageSizeBytes,
		c.spfChecksTotal,
		c.dkimChecksTotal,
		c.dmarcChecksTotal,
		c.blocklistHitsTotal,
		c.deliveriesTotal,
	)
	return c
}

func (c *PrometheusCollector) SessionOpened() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *PrometheusCollector) SessionClosed() { c.sessionsActive.Dec() }

func (c *PrometheusCollector) TLSEstablished() { c.tlsTotal.Inc() }

func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

// MessageAccepted counts the message and observes its size.
func (c *PrometheusCollector) MessageAccepted(senderDomain string, sizeBytes int64) {
	c.messagesAcceptedTotal.WithLabelValues(senderDomain).Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageRejected(senderDomain string, reason string) {
	c.messagesRejectedTotal.WithLabelValues(senderDomain, reason).Inc()
}

func (c *PrometheusCollector) SPFCheckCompleted(senderDomain string, result string) {
	c.spfChecksTotal.WithLabelValues(senderDomain, result).Inc()
}

func (c *PrometheusCollector) DKIMCheckCompleted(senderDomain string, result string) {
	c.dkimChecksTotal.WithLabelValues(senderDomain, result).Inc()
}

func (c *PrometheusCollector) DMARCCheckCompleted(senderDomain string, result string) {
	c.dmarcChecksTotal.WithLabelValues(senderDomain, result).Inc()
}

func (c *PrometheusCollector) BlocklistHit(zone string) {
	c.blocklistHitsTotal.WithLabelValues(zone).Inc()
}

func (c *PrometheusCollector) DeliveryCompleted(recipientDomain string, result string) {
	c.deliveriesTotal.WithLabelValues(recipientDomain, result).Inc()
}

// PrometheusServer serves the default gatherer over HTTP.
type PrometheusServer struct {
	server *http.Server
}

// NewPrometheusServer serves metrics at address and path.
func NewPrometheusServer(address, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &PrometheusServer{
		server: &http.Server{Addr: address, Handler: mux},
	}
}

// Start serves until ctx is canceled, then shuts the server down. It
// returns early if the listener fails.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
