package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ibsim/pkg/metrics"
)

type simulatorMetrics struct {
	control   *prometheus.CounterVec
	datagrams *prometheus.CounterVec
	clients   prometheus.Gauge
}

// NewSimulatorMetrics registers the fake simulator collectors on reg.
func NewSimulatorMetrics(reg prometheus.Registerer) metrics.SimulatorMetrics {
	f := promauto.With(reg)
	return &simulatorMetrics{
		control: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ibsim_server_control_requests_total",
				Help: "Control requests served by opcode",
			},
			[]string{"opcode"},
		),
		datagrams: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ibsim_server_datagrams_total",
				Help: "Data datagrams received, by whether they were dropped",
			},
			[]string{"dropped"},
		),
		clients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ibsim_server_clients",
				Help: "Currently connected clients",
			},
		),
	}
}

func (m *simulatorMetrics) RecordControl(opcode string) {
	if m == nil {
		return
	}
	m.control.WithLabelValues(opcode).Inc()
}

func (m *simulatorMetrics) RecordDatagram(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.datagrams.WithLabelValues("true").Inc()
	} else {
		m.datagrams.WithLabelValues("false").Inc()
	}
}

func (m *simulatorMetrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}
