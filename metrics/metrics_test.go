package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	_ Collector = (*NoopCollector)(nil)
	_ Collector = (*PrometheusCollector)(nil)
	_ Server    = (*NoopServer)(nil)
	_ Server    = (*PrometheusServer)(nil)
)

func exercise(c Collector) {
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.TLSEstablished()
	c.CommandProcessed("EHLO")
	c.CommandProcessed("EHLO")
	c.CommandProcessed("MAIL")
	c.MessageAccepted("example.com", 2048)
	c.MessageRejected("example.org", "policy")
	c.SPFCheckCompleted("example.com", "pass")
	c.DKIMCheckCompleted("example.com", "pass")
	c.DMARCCheckCompleted("example.com", "reject")
	c.BlocklistHit("bl.example")
	c.DeliveryCompleted("example.net", "ok")
}

func TestNoopCollector(t *testing.T) {
	exercise(&NoopCollector{})
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily)
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	exercise(NewPrometheusCollector(reg))
	families := gather(t, reg)

	for _, name := range []string{
		"courier_sessions_total",
		"courier_sessions_active",
		"courier_tls_upgrades_total",
		"courier_commands_total",
		"courier_messages_accepted_total",
		"courier_messages_rejected_total",
		"courier_message_size_bytes",
		"courier_spf_checks_total",
		"courier_dkim_checks_total",
		"courier_dmarc_checks_total",
		"courier_blocklist_hits_total",
		"courier_deliveries_total",
	} {
		if families[name] == nil {
			t.Errorf("metric %q not registered", name)
		}
	}

	if got := families["courier_sessions_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("sessions_total = %v, want 2", got)
	}
	if got := families["courier_sessions_active"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}

	commands := map[string]float64{}
	for _, m := range families["courier_commands_total"].GetMetric() {
		commands[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if commands["EHLO"] != 2 || commands["MAIL"] != 1 {
		t.Errorf("commands = %v", commands)
	}

	size := families["courier_message_size_bytes"].GetMetric()[0].GetHistogram()
	if size.GetSampleCount() != 1 || size.GetSampleSum() != 2048 {
		t.Errorf("size histogram count=%d sum=%v", size.GetSampleCount(), size.GetSampleSum())
	}
}

func TestNew(t *testing.T) {
	c, s := New(Config{}, nil)
	if _, ok := c.(*NoopCollector); !ok {
		t.Errorf("disabled collector is %T", c)
	}
	if _, ok := s.(*NoopServer); !ok {
		t.Errorf("disabled server is %T", s)
	}

	c, s = New(Config{Enabled: true, Address: "127.0.0.1:0"}, prometheus.NewRegistry())
	if _, ok := c.(*PrometheusCollector); !ok {
		t.Errorf("enabled collector is %T", c)
	}
	if _, ok := s.(*PrometheusServer); !ok {
		t.Errorf("enabled server is %T", s)
	}
}

func TestPrometheusServerStopsWithContext(t *testing.T) {
	s := NewPrometheusServer("127.0.0.1:0", "/metrics")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNoopServer(t *testing.T) {
	s := &NoopServer{}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("Start() = %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
