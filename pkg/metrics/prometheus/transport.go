// Package prometheus implements the pkg/metrics interfaces on top of
// client_golang. Importing it registers the constructors with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ibsim/pkg/metrics"
)

func init() {
	metrics.RegisterTransportMetricsConstructor(func() metrics.TransportMetrics {
		return NewTransportMetrics(metrics.GetRegistry())
	})
	metrics.RegisterSimulatorMetricsConstructor(func() metrics.SimulatorMetrics {
		return NewSimulatorMetrics(metrics.GetRegistry())
	})
}

type transportMetrics struct {
	controlRequests *prometheus.CounterVec
	controlDuration *prometheus.HistogramVec
	executions      *prometheus.CounterVec
	executeDuration *prometheus.HistogramVec
	sends           prometheus.Histogram
	unexpected      prometheus.Counter
	portQueries     *prometheus.CounterVec
}

// NewTransportMetrics registers the session collectors on reg.
func NewTransportMetrics(reg prometheus.Registerer) metrics.TransportMetrics {
	f := promauto.With(reg)
	return &transportMetrics{
		controlRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ibsim_control_requests_total",
				Help: "Control requests sent to the simulator by opcode and result",
			},
			[]string{"opcode", "result"}, // result: ok, error
		),
		controlDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ibsim_control_duration_seconds",
				Help:    "Control request round trip time",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"opcode"},
		),
		executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ibsim_mad_transactions_total",
				Help: "MAD transactions by outcome",
			},
			[]string{"outcome"},
		),
		executeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ibsim_mad_transaction_duration_seconds",
				Help:    "MAD transaction time including retries",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"outcome"},
		),
		sends: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ibsim_mad_sends_per_transaction",
				Help:    "Datagrams sent per MAD transaction",
				Buckets: []float64{1, 2, 3, 4, 6, 8},
			},
		),
		unexpected: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ibsim_mad_unexpected_total",
				Help: "Received datagrams that did not match the outstanding request",
			},
		),
		portQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ibsim_port_queries_total",
				Help: "Port state reads by cache result",
			},
			[]string{"cache"}, // hit, miss
		),
	}
}

func (m *transportMetrics) ObserveControl(opcode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.controlRequests.WithLabelValues(opcode, result).Inc()
	m.controlDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

func (m *transportMetrics) ObserveExecute(outcome string, sends int, duration time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.executeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if sends > 0 {
		m.sends.Observe(float64(sends))
	}
}

func (m *transportMetrics) RecordUnexpected() {
	if m == nil {
		return
	}
	m.unexpected.Inc()
}

func (m *transportMetrics) RecordPortQuery(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.portQueries.WithLabelValues("hit").Inc()
	} else {
		m.portQueries.WithLabelValues("miss").Inc()
	}
}
