// Package config loads courier settings from a TOML file, environment
// variables and command-line flags, and turns them into server and client
// configurations.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/synqronlabs/courier/metrics"
)

// FileConfig is the top-level wrapper for the configuration file.
type FileConfig struct {
	Courier Config `toml:"courier"`
}

// Config holds the complete courier configuration.
type Config struct {
	Hostname  string         `toml:"hostname"`
	LogLevel  string         `toml:"log_level"`

	// ProtocolLog logs every SMTP line at debug level.
	ProtocolLog bool `toml:"protocol_log"`

	Addresses []string       `toml:"addresses"`
	Ports     []int          `toml:"ports"`
	TLS       TLSConfig      `toml:"tls"`
	Limits    LimitsConfig   `toml:"limits"`
	Timeouts  TimeoutsConfig `toml:"timeouts"`
	Auth      AuthConfig     `toml:"auth"`
	Metrics   metrics.Config `toml:"metrics"`
	Delivery  DeliveryConfig `toml:"delivery"`
}

// TLSConfig holds TLS certificate and version settings. STARTTLS is
// offered only when both files are set.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
	Require    bool   `toml:"require"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxMessageSize int64 `toml:"max_message_size"`
	MaxLineLength  int   `toml:"max_line_length"`
}

// TimeoutsConfig defines timeout durations as Go duration strings.
type TimeoutsConfig struct {
	Read    string `toml:"read"`
	Write   string `toml:"write"`
	Connect string `toml:"connect"`
}

// AuthConfig controls how inbound messages are authenticated.
type AuthConfig struct {
	PassesRequired int      `toml:"passes_required"`
	BlocklistZones []string `toml:"blocklist_zones"`

	// Nameservers are "host:port" pairs; empty uses the system resolvers.
	Nameservers []string `toml:"nameservers"`
	DNSSEC      bool     `toml:"dnssec"`

	// SystemResolver uses the Go resolver instead of querying Nameservers
	// directly. DNSSEC is unavailable with it.
	SystemResolver bool `toml:"system_resolver"`
}

// DeliveryConfig holds settings for receiving and sending messages.
type DeliveryConfig struct {
	// SpoolDir is where accepted messages are written.
	SpoolDir string `toml:"spool_dir"`

	// Port is dialed on every outbound delivery target.
	Port int `toml:"port"`

	DKIM DKIMConfig `toml:"dkim"`
}

// DKIMConfig enables signing of outbound messages when KeyFile is set.
type DKIMConfig struct {
	Domain   string `toml:"domain"`
	Selector string `toml:"selector"`
	KeyFile  string `toml:"key_file"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname:  "localhost",
		LogLevel:  "info",
		Addresses: []string{"0.0.0.0"},
		Ports:     []int{25},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Limits: LimitsConfig{
			MaxMessageSize: 26214400, // 25 MB
			MaxLineLength:  1000,
		},
		Timeouts: TimeoutsConfig{
			Read:    "3s",
			Write:   "1m",
			Connect: "2s",
		},
		Auth: AuthConfig{
			PassesRequired: 1,
		},
		Metrics: metrics.Config{
			Enabled: false,
			Address: ":9100",
			Path:    "/metrics",
		},
		Delivery: DeliveryConfig{
			SpoolDir: "./spool",
			Port:     25,
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if len(c.Addresses) == 0 {
		return errors.New("at least one address is required")
	}

	if len(c.Ports) == 0 {
		return errors.New("at least one port is required")
	}
	for _, p := range c.Ports {
		if p < 0 || p > 65535 {
			return fmt.Errorf("invalid port %d", p)
		}
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls cert_file and key_file must be set together")
	}
	if c.TLS.Require && c.TLS.CertFile == "" {
		return errors.New("tls require needs a certificate")
	}
	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}

	if c.Limits.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	if c.Limits.MaxLineLength < 0 {
		return errors.New("max_line_length must not be negative")
	}

	for name, v := range map[string]string{
		"read":    c.Timeouts.Read,
		"write":   c.Timeouts.Write,
		"connect": c.Timeouts.Connect,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s timeout: %w", name, err)
		}
	}

	if c.Auth.PassesRequired < 0 || c.Auth.PassesRequired > 2 {
		return errors.New("passes_required must be between 0 and 2")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	if d := c.Delivery.DKIM; d.KeyFile != "" && (d.Domain == "" || d.Selector == "") {
		return errors.New("dkim domain and selector are required with a key file")
	}

	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ReadTimeout returns the session idle timeout, 3 seconds when unset or invalid.
func (c *TimeoutsConfig) ReadTimeout() time.Duration {
	return parseDuration(c.Read, 3*time.Second)
}

// WriteTimeout returns the write timeout, 1 minute when unset or invalid.
func (c *TimeoutsConfig) WriteTimeout() time.Duration {
	return parseDuration(c.Write, time.Minute)
}

// ConnectTimeout returns the outbound connect timeout, 2 seconds when unset
// or invalid.
func (c *TimeoutsConfig) ConnectTimeout() time.Duration {
	return parseDuration(c.Connect, 2*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
