package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterAddsAllCollectorsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register on a fresh registry should also succeed: %v", err)
	}
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.PingCount.Inc()
	m.PingCount.Inc()

	var d dto.Metric
	if err := m.PingCount.Write(&d); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := d.GetCounter().GetValue(); got != 2 {
		t.Errorf("ping_total = %v, want 2", got)
	}
}

func TestConnectionGaugeReflectsState(t *testing.T) {
	m := New()
	m.ConnectionState.Set(1)

	var d dto.Metric
	if err := m.ConnectionState.Write(&d); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := d.GetGauge().GetValue(); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
}
