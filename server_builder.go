package courier

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/metrics"
	"github.com/synqronlabs/courier/transport"
)

// ServerBuilder provides a fluent API for configuring an SMTP server.
type ServerBuilder struct {
	config    ServerConfig
	callbacks Callbacks
}

// New creates a new ServerBuilder with DefaultServerConfig and the given
// hostname.
func New(hostname string) *ServerBuilder {
	config := DefaultServerConfig()
	config.Hostname = hostname
	return &ServerBuilder{config: config}
}

// Addr sets the addresses to listen on, e.g. "0.0.0.0" or "::1".
func (b *ServerBuilder) Addr(addresses ...string) *ServerBuilder {
	b.config.Addresses = addresses
	return b
}

// Ports sets the ports to listen on at every address.
func (b *ServerBuilder) Ports(ports ...int) *ServerBuilder {
	b.config.Ports = ports
	return b
}

// Logger sets the structured logger for the server.
func (b *ServerBuilder) Logger(logger *slog.Logger) *ServerBuilder {
	b.config.Logger = logger
	return b
}

// LogSink receives every protocol line of every session.
func (b *ServerBuilder) LogSink(sink transport.LogSink) *ServerBuilder {
	b.config.LogSink = sink
	return b
}

// Metrics sets the metrics collector.
func (b *ServerBuilder) Metrics(collector metrics.Collector) *ServerBuilder {
	b.config.Metrics = collector
	return b
}

// Resolver sets the resolver used for the authentication lookups.
func (b *ServerBuilder) Resolver(resolver dns.Resolver) *ServerBuilder {
	b.config.Resolver = resolver
	return b
}

// TLS configures TLS for the server.
// This enables the STARTTLS extension.
func (b *ServerBuilder) TLS(config *tls.Config) *ServerBuilder {
	b.config.TLSConfig = config
	return b
}

// RequireTLS requires clients to use STARTTLS before MAIL.
func (b *ServerBuilder) RequireTLS() *ServerBuilder {
	b.config.RequireTLS = true
	return b
}

// ReadTimeout sets how long a session may go without a command.
func (b *ServerBuilder) ReadTimeout(d time.Duration) *ServerBuilder {
	b.config.ReadTimeout = d
	return b
}

// WriteTimeout sets the timeout for writing responses.
func (b *ServerBuilder) WriteTimeout(d time.Duration) *ServerBuilder {
	b.config.WriteTimeout = d
	return b
}

// MaxMessageSize sets the maximum allowed message size in bytes.
func (b *ServerBuilder) MaxMessageSize(size int64) *ServerBuilder {
	b.config.MaxMessageSize = size
	return b
}

// MaxLineLength sets the maximum line length, CRLF included.
func (b *ServerBuilder) MaxLineLength(n int) *ServerBuilder {
	b.config.MaxLineLength = n
	return b
}

// PassesRequired sets how many authentication methods must pass.
func (b *ServerBuilder) PassesRequired(n int) *ServerBuilder {
	b.config.PassesRequired = n
	return b
}

// Blocklists adds DNSBL zones to check senders against.
func (b *ServerBuilder) Blocklists(zones ...string) *ServerBuilder {
	b.config.BlocklistZones = append(b.config.BlocklistZones, zones...)
	return b
}

// OnSessionStart sets the handler for new sessions.
func (b *ServerBuilder) OnSessionStart(fn func(s *Session)) *ServerBuilder {
	b.callbacks.OnSessionStart = fn
	return b
}

// OnSessionEnd sets the handler for closed sessions.
func (b *ServerBuilder) OnSessionEnd(fn func(s *Session)) *ServerBuilder {
	b.callbacks.OnSessionEnd = fn
	return b
}

// OnEmailReceived sets the handler for accepted messages.
func (b *ServerBuilder) OnEmailReceived(fn func(ctx context.Context, s *Session, msg *mail.Message, verdict auth.Verdict) error) *ServerBuilder {
	b.callbacks.OnEmailReceived = fn
	return b
}

// OnEmailRejected sets the handler for rejected messages.
func (b *ServerBuilder) OnEmailRejected(fn func(ctx context.Context, s *Session, msg *mail.Message, verdict auth.Verdict, reason RejectReason)) *ServerBuilder {
	b.callbacks.OnEmailRejected = fn
	return b
}

// Config returns the configuration built so far.
func (b *ServerBuilder) Config() ServerConfig {
	config := b.config
	callbacks := b.callbacks
	config.Callbacks = &callbacks
	if config.Resolver == nil {
		config.Resolver = dns.NewResolver(dns.ResolverConfig{})
	}
	return config
}

// Build creates the server and starts listening. Without an explicit
// resolver the system's nameservers are queried.
func (b *ServerBuilder) Build() (*Server, error) {
	return NewServer(b.Config())
}
