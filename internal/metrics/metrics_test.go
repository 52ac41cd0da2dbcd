package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersEveryCollectorOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "quikgo_test")

	m.RPCCallsTotal.WithLabelValues("getClassesList").Inc()
	m.EventsDropped.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"quikgo_test_rpc_calls_total",
		"quikgo_test_events_dropped_total",
		"quikgo_test_watcher_due_size",
	} {
		if !names[want] {
			t.Fatalf("expected metric family %q to be registered, got %v", want, names)
		}
	}
}

func TestNewToleratesNilRegisterer(t *testing.T) {
	m := New(nil, "quikgo_test_nil")
	// Must not panic even though nothing is registered.
	m.WatcherRowCount.Set(3)
	if got := testGaugeValue(m.WatcherRowCount); got != 3 {
		t.Fatalf("expected gauge value 3, got %v", got)
	}
}

func testGaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}
