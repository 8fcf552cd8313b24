package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.EventDispatched("CHANNEL_ANSWER")
	m.EventDropped()
	m.Forwarded("webhook", "ok")
	m.CommandFinished("ok")
	m.PendingAdd(1)
	m.SetConnected(true)
}

func TestMetrics_Records(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.EventDispatched("CHANNEL_ANSWER")
	m.EventDispatched("CHANNEL_ANSWER")
	m.EventDropped()
	m.Forwarded("webhook", "error")
	m.PendingAdd(2)
	m.PendingAdd(-1)
	m.SetConnected(true)

	if got := testutil.ToFloat64(m.eventsDispatched.WithLabelValues("CHANNEL_ANSWER")); got != 2 {
		t.Fatalf("expected 2 dispatched, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsDropped); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
	if got := testutil.ToFloat64(m.forwards.WithLabelValues("webhook", "error")); got != 1 {
		t.Fatalf("expected 1 forward error, got %v", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 1 {
		t.Fatalf("expected 1 pending, got %v", got)
	}
	if got := testutil.ToFloat64(m.connected); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}
}
