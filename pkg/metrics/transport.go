package metrics

import "time"

// Execute outcomes
const (
	OutcomeReply    = "reply"
	OutcomeNoReply  = "no_reply"
	OutcomeSendOnly = "send_only"
	OutcomeError    = "error"
)

// TransportMetrics records activity of a simulator session: control round
// trips, MAD transactions and port state refreshes.
type TransportMetrics interface {
	// ObserveControl records one control request. err is nil on success.
	ObserveControl(opcode string, duration time.Duration, err error)

	// ObserveExecute records a finished transaction: its outcome, the number
	// of datagrams sent and the total time spent.
	ObserveExecute(outcome string, sends int, duration time.Duration)

	// RecordUnexpected counts a received datagram that did not match the
	// outstanding request.
	RecordUnexpected()

	// RecordPortQuery counts a port state read; hit is true when it was
	// served from the cache.
	RecordPortQuery(hit bool)
}

var newPrometheusTransportMetrics func() TransportMetrics

// RegisterTransportMetricsConstructor is called by pkg/metrics/prometheus
// during package initialization.
func RegisterTransportMetricsConstructor(constructor func() TransportMetrics) {
	newPrometheusTransportMetrics = constructor
}

// NewTransportMetrics returns the Prometheus-backed TransportMetrics, or nil
// if metrics are disabled or no implementation is linked in.
//
//	metrics.InitRegistry()
//	s, err := sim.Connect(ctx, sim.Options{Host: host, Metrics: metrics.NewTransportMetrics()})
func NewTransportMetrics() TransportMetrics {
	if !IsEnabled() || newPrometheusTransportMetrics == nil {
		return nil
	}
	return newPrometheusTransportMetrics()
}

// SimulatorMetrics records requests served by the fake simulator.
type SimulatorMetrics interface {
	RecordControl(opcode string)
	RecordDatagram(dropped bool)
	SetClients(n int)
}

var newPrometheusSimulatorMetrics func() SimulatorMetrics

// RegisterSimulatorMetricsConstructor is called by pkg/metrics/prometheus
// during package initialization.
func RegisterSimulatorMetricsConstructor(constructor func() SimulatorMetrics) {
	newPrometheusSimulatorMetrics = constructor
}

// NewSimulatorMetrics returns the Prometheus-backed SimulatorMetrics, or nil.
func NewSimulatorMetrics() SimulatorMetrics {
	if !IsEnabled() || newPrometheusSimulatorMetrics == nil {
		return nil
	}
	return newPrometheusSimulatorMetrics()
}
