package courier

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/metrics"
)

func TestServerBuilderConfig(t *testing.T) {
	tlsConfig := &tls.Config{}
	resolver := dns.MockResolver{}
	received := false

	config := New("mx.example.com").
		Addr("127.0.0.1").
		Ports(2525).
		Logger(discardLogger()).
		Metrics(&metrics.NoopCollector{}).
		Resolver(resolver).
		TLS(tlsConfig).
		RequireTLS().
		ReadTimeout(5*time.Second).
		WriteTimeout(10*time.Second).
		MaxMessageSize(1<<20).
		MaxLineLength(2000).
		PassesRequired(2).
		Blocklists("zen.example").
		Blocklists("bl.example").
		OnEmailReceived(func(context.Context, *Session, *mail.Message, auth.Verdict) error {
			received = true
			return nil
		}).
		Config()

	if config.Hostname != "mx.example.com" {
		t.Errorf("Hostname = %q", config.Hostname)
	}
	if len(config.Addresses) != 1 || config.Addresses[0] != "127.0.0.1" {
		t.Errorf("Addresses = %v", config.Addresses)
	}
	if len(config.Ports) != 1 || config.Ports[0] != 2525 {
		t.Errorf("Ports = %v", config.Ports)
	}
	if config.TLSConfig != tlsConfig || !config.RequireTLS {
		t.Error("TLS settings not applied")
	}
	if config.ReadTimeout != 5*time.Second || config.WriteTimeout != 10*time.Second {
		t.Errorf("timeouts = %v, %v", config.ReadTimeout, config.WriteTimeout)
	}
	if config.MaxMessageSize != 1<<20 || config.MaxLineLength != 2000 {
		t.Errorf("limits = %d, %d", config.MaxMessageSize, config.MaxLineLength)
	}
	if config.PassesRequired != 2 {
		t.Errorf("PassesRequired = %d", config.PassesRequired)
	}
	if want := []string{"zen.example", "bl.example"}; len(config.BlocklistZones) != 2 ||
		config.BlocklistZones[0] != want[0] || config.BlocklistZones[1] != want[1] {
		t.Errorf("BlocklistZones = %v, want %v", config.BlocklistZones, want)
	}
	if config.Callbacks == nil || config.Callbacks.OnEmailReceived == nil {
		t.Fatal("OnEmailReceived not set")
	}
	config.Callbacks.OnEmailReceived(context.Background(), nil, nil, auth.Verdict{})
	if !received {
		t.Error("OnEmailReceived is not the registered function")
	}
}

func TestServerBuilderDefaults(t *testing.T) {
	config := New("mx.example.com").Config()
	if config.Resolver == nil {
		t.Error("Resolver not defaulted")
	}
	if config.ReadTimeout != DefaultSessionReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", config.ReadTimeout, DefaultSessionReadTimeout)
	}
	if config.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d", config.MaxMessageSize)
	}
}

func TestServerBuilderBuild(t *testing.T) {
	server, err := New("mx.example.com").
		Addr("127.0.0.1").
		Ports(0).
		Logger(discardLogger()).
		Resolver(dns.MockResolver{}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(server.Addrs()) != 1 {
		t.Fatalf("Addrs() = %v", server.Addrs())
	}
	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
