package installer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the installer's Prometheus collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	installRequests prometheus.Counter
	deleteRequests  prometheus.Counter
	acks            *prometheus.CounterVec
	readings        *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Device and session gauges are
// read from registry at scrape time.
func NewMetrics(reg *prometheus.Registry, registry *Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		installRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesim_install_requests_total",
			Help: "Install requests published on the install topic.",
		}),
		deleteRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesim_delete_requests_total",
			Help: "Delete requests published to devices.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_install_acks_total",
			Help: "Install acknowledgements received, by result.",
		}, []string{"result"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_readings_total",
			Help: "Device readings received, by data label.",
		}, []string{"label"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_dropped_messages_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesim_http_requests_total",
			Help: "Total requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
	}

	deviceGauge := func(state DeviceState) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "edgesim_devices",
			Help:        "Devices known to the installer, by state.",
			ConstLabels: prometheus.Labels{"state": string(state)},
		}, func() float64 {
			return float64(registry.CountByState()[state])
		})
	}

	reg.MustRegister(
		m.installRequests,
		m.deleteRequests,
		m.acks,
		m.readings,
		m.dropped,
		m.httpRequests,
		deviceGauge(StatePending),
		deviceGauge(StateInstalled),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "edgesim_broker_sessions",
			Help: "Clients connected to the embedded broker.",
		}, func() float64 {
			return float64(len(registry.Sessions()))
		}),
	)
	return m
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
