package config

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"

	"github.com/synqronlabs/courier"
	"github.com/synqronlabs/courier/dkim"
	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/metrics"
	"github.com/synqronlabs/courier/transport"
)

// ServerConfig builds the server configuration described by cfg. Callbacks
// are left to the caller.
func (c *Config) ServerConfig(logger *slog.Logger, collector metrics.Collector) (courier.ServerConfig, error) {
	sc := courier.ServerConfig{
		Hostname:       c.Hostname,
		Addresses:      c.Addresses,
		Ports:          c.Ports,
		RequireTLS:     c.TLS.Require,
		ReadTimeout:    c.Timeouts.ReadTimeout(),
		WriteTimeout:   c.Timeouts.WriteTimeout(),
		MaxLineLength:  c.Limits.MaxLineLength,
		MaxMessageSize: c.Limits.MaxMessageSize,
		PassesRequired: c.Auth.PassesRequired,
		BlocklistZones: c.Auth.BlocklistZones,
		Resolver:       c.Resolver(logger),
		Logger:         logger,
		Metrics:        collector,
		LogSink:        c.protocolLog(logger),
	}

	if c.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return sc, fmt.Errorf("loading TLS certificate: %w", err)
		}
		sc.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   c.TLS.MinTLSVersion(),
		}
	}
	return sc, nil
}

// ClientConfig builds the outbound delivery configuration described by
// cfg, loading the DKIM key when one is configured.
func (c *Config) ClientConfig(logger *slog.Logger, collector metrics.Collector) (courier.ClientConfig, error) {
	cc := courier.ClientConfig{
		LocalName:      c.Hostname,
		Port:           c.Delivery.Port,
		ConnectTimeout: c.Timeouts.ConnectTimeout(),
		WriteTimeout:   c.Timeouts.WriteTimeout(),
		TLSConfig:      &tls.Config{MinVersion: c.TLS.MinTLSVersion()},
		Logger:         logger,
		Metrics:        collector,
		LogSink:        c.protocolLog(logger),
	}

	if d := c.Delivery.DKIM; d.KeyFile != "" {
		data, err := os.ReadFile(d.KeyFile)
		if err != nil {
			return cc, fmt.Errorf("reading DKIM key: %w", err)
		}
		key, err := dkim.ParsePrivateKey(data)
		if err != nil {
			return cc, err
		}
		cc.DKIM = &dkim.Signer{Domain: d.Domain, Selector: d.Selector, Key: key}
	}
	return cc, nil
}

// Resolver returns the DNS resolver described by the auth settings.
func (c *Config) Resolver(logger *slog.Logger) dns.Resolver {
	if c.Auth.SystemResolver {
		return dns.NewStdResolver()
	}
	return dns.NewResolver(dns.ResolverConfig{
		Nameservers: c.Auth.Nameservers,
		DNSSEC:      c.Auth.DNSSEC,
		Logger:      logger,
	})
}

func (c *Config) protocolLog(logger *slog.Logger) transport.LogSink {
	if !c.ProtocolLog {
		return nil
	}
	return transport.SlogSink(logger)
}
