package courier

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"time"

	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/dkim"
	"github.com/synqronlabs/courier/dns"
	courierio "github.com/synqronlabs/courier/io"
	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/metrics"
	"github.com/synqronlabs/courier/transport"
	"github.com/synqronlabs/courier/wire"
)

// Bind defaults.
var (
	BindAddrAll     = []string{"0.0.0.0", "::"}
	BindAddrLocal   = []string{"127.0.0.1", "::1"}
	BindPortDefault = []int{25, 587}
)

const (
	DefaultSessionReadTimeout = 3 * time.Second
	DefaultConnectTimeout     = 2 * time.Second
	DefaultClientReadTimeout  = 10 * time.Second
	DefaultTickInterval       = time.Millisecond
	DefaultMaxMessageSize     = 25 << 20
)

// ServerConfig contains configuration options for the SMTP server.
// Prefer using the builder pattern via courier.New().
type ServerConfig struct {
	// Hostname is announced in the greeting and the HELO/EHLO replies.
	// Required.
	Hostname string

	// Addresses and Ports are combined; the server listens on every pair.
	Addresses []string
	Ports     []int

	// TLSConfig enables STARTTLS. Without it STARTTLS is not advertised.
	TLSConfig *tls.Config

	// RequireTLS rejects MAIL on a plaintext channel.
	RequireTLS bool

	// ReadTimeout closes a session that sends no command for this long.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TickInterval paces the reactor loop; PollWindow bounds each
	// session's read per tick.
	TickInterval time.Duration
	PollWindow   time.Duration

	MaxLineLength  int
	MaxMessageSize int64

	// PassesRequired is the number of passing authentication methods
	// (DKIM, SPF) a message needs to be accepted unconditionally.
	PassesRequired int

	// BlocklistZones are DNSBL zones checked for every message.
	BlocklistZones []string

	// Resolver answers the authentication lookups. Required.
	Resolver dns.Resolver

	Logger  *slog.Logger
	LogSink transport.LogSink
	Metrics metrics.Collector

	Callbacks *Callbacks
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Hostname:       localHostname(),
		Addresses:      BindAddrAll,
		Ports:          BindPortDefault,
		ReadTimeout:    DefaultSessionReadTimeout,
		WriteTimeout:   time.Minute,
		TickInterval:   DefaultTickInterval,
		PollWindow:     transport.DefaultPollWindow,
		MaxLineLength:  courierio.DefaultMaxLine,
		MaxMessageSize: DefaultMaxMessageSize,
		PassesRequired: auth.DefaultPassesRequired,
		Logger:         slog.Default(),
		Metrics:        &metrics.NoopCollector{},
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if len(c.Addresses) == 0 {
		c.Addresses = d.Addresses
	}
	if len(c.Ports) == 0 {
		c.Ports = d.Ports
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.PollWindow <= 0 {
		c.PollWindow = d.PollWindow
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = d.MaxLineLength
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.PassesRequired <= 0 {
		c.PassesRequired = d.PassesRequired
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	}
	if c.Callbacks == nil {
		c.Callbacks = &Callbacks{}
	}
	return c
}

// RejectReason tells OnEmailRejected why a message was refused.
type RejectReason string

const (
	RejectBlocklist RejectReason = "blocklist"
	RejectPolicy    RejectReason = "policy"
)

// Callbacks defines event handlers for SMTP server events. All callbacks
// are optional and run on the server's reactor goroutine, so they must not
// block for long.
type Callbacks struct {
	OnSessionStart func(s *Session)

	// OnSessionEnd is called once when the session closes, whoever closes it.
	OnSessionEnd func(s *Session)

	// OnEmailReceived is called for every message the authentication
	// pipeline accepts, after the result headers have been prepended. A nil
	// error replies 250; any other error replies 451.
	OnEmailReceived func(ctx context.Context, s *Session, msg *mail.Message, verdict auth.Verdict) error

	// OnEmailRejected is called after a 550 for a blocklisted or
	// unauthenticated message.
	OnEmailRejected func(ctx context.Context, s *Session, msg *mail.Message, verdict auth.Verdict, reason RejectReason)
}

// ClientConfig holds configuration for the SMTP client.
type ClientConfig struct {
	// LocalName is sent with EHLO and HELO.
	LocalName string

	// Port is dialed on every delivery target.
	Port int

	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for each reply.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PollWindow   time.Duration

	// TLSConfig is used for STARTTLS. Nil verifies the server against
	// the target host name.
	TLSConfig *tls.Config

	// DKIM, when set, signs every message Deliver sends.
	DKIM *dkim.Signer

	// Width is the line width messages are framed at.
	Width int

	Logger  *slog.Logger
	LogSink transport.LogSink
	Metrics metrics.Collector
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		LocalName:      localHostname(),
		Port:           25,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultClientReadTimeout,
		WriteTimeout:   time.Minute,
		PollWindow:     transport.DefaultPollWindow,
		Width:          wire.DefaultWidth,
		Logger:         slog.Default(),
		Metrics:        &metrics.NoopCollector{},
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.LocalName == "" {
		c.LocalName = d.LocalName
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PollWindow <= 0 {
		c.PollWindow = d.PollWindow
	}
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	}
	return c
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
