// Package metrics records server and delivery counters. Collector is
// implemented by PrometheusCollector and by NoopCollector for when metrics
// are disabled.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records courier metrics.
type Collector interface {
	// Sessions, before any HELO.
	SessionOpened()
	SessionClosed()
	TLSEstablished()

	CommandProcessed(command string)

	// Messages are labelled by the sender domain, which the
	// authentication results describe.
	MessageAccepted(senderDomain string, sizeBytes int64)
	MessageRejected(senderDomain string, reason string)

	SPFCheckCompleted(senderDomain string, result string)
	DKIMCheckCompleted(senderDomain string, result string)
	DMARCCheckCompleted(senderDomain string, result string)
	BlocklistHit(zone string)

	// DeliveryCompleted records an outbound delivery; result is "ok",
	// "temp_failure" or "perm_failure".
	DeliveryCompleted(recipientDomain string, result string)
}

// Server exposes metrics over HTTP.
type Server interface {
	// Start blocks until ctx is canceled or serving fails.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Config selects and places the metrics endpoint.
type Config struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// New returns Prometheus implementations registered with reg when cfg is
// enabled, and no-op implementations otherwise. A nil reg uses the
// default registry.
func New(cfg Config, reg prometheus.Registerer) (Collector, Server) {
	if !cfg.Enabled {
		return &NoopCollector{}, &NoopServer{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	addr, path := cfg.Address, cfg.Path
	if addr == "" {
		addr = ":9100"
	}
	if path == "" {
		path = "/metrics"
	}
	return NewPrometheusCollector(reg), NewPrometheusServer(addr, path)
}
