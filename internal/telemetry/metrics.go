// Package telemetry exposes the bridge's Prometheus metrics. A nil *Metrics
// is valid and records nothing, which keeps tests free of registries.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	eventsDispatched *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	forwards         *prometheus.CounterVec
	commands         *prometheus.CounterVec
	pending          prometheus.Gauge
	connected        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "esl_events_dispatched_total", Help: "Events handed to a registered handler."},
			[]string{"event"},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "esl_events_dropped_total", Help: "Events with no registered handler."},
		),
		forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "esl_forward_total", Help: "Forward attempts by sink and result."},
			[]string{"sink", "result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "esl_commands_total", Help: "Background commands by outcome."},
			[]string{"outcome"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "esl_commands_pending", Help: "Background commands awaiting a reply."},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "esl_connected", Help: "1 while the control channel is connected."},
		),
	}
	reg.MustRegister(m.eventsDispatched, m.eventsDropped, m.forwards, m.commands, m.pending, m.connected)
	return m
}

func (m *Metrics) EventDispatched(key string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(key).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) Forwarded(sink, result string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) CommandFinished(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PendingAdd(delta float64) {
	if m == nil {
		return
	}
	m.pending.Add(delta)
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
