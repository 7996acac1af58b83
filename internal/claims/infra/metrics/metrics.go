package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal       *prometheus.CounterVec
	CheckDuration     *prometheus.HistogramVec
	ClaimsTotal       *prometheus.CounterVec
	BootstrapBatches  *prometheus.CounterVec
	BootstrapItems    *prometheus.CounterVec
	BootstrapDuration *prometheus.GaugeVec
}

// New registers the handlegate collectors on a private registry so that
// several instances can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handlegate_checks_total",
			Help: "Availability checks by deciding tier and outcome",
		}, []string{"tier", "outcome"}),
		CheckDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handlegate_check_duration_seconds",
			Help:    "Latency of availability checks by deciding tier",
			Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"tier"}),
		ClaimsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handlegate_claims_total",
			Help: "Claim attempts by result",
		}, []string{"result"}),
		BootstrapBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handlegate_bootstrap_batches_total",
			Help: "Batches flushed by bootstrap job",
		}, []string{"job"}),
		BootstrapItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handlegate_bootstrap_items_total",
			Help: "Identifiers loaded by bootstrap job",
		}, []string{"job"}),
		BootstrapDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handlegate_bootstrap_duration_seconds",
			Help: "Wall time of the last completed bootstrap job run",
		}, []string{"job"}),
	}
}

func (m *Metrics) ObserveCheck(tier, outcome string, d time.Duration) {
	m.ChecksTotal.WithLabelValues(tier, outcome).Inc()
	m.CheckDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func (m *Metrics) IncClaim(result string) {
	m.ClaimsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBatch(job string, size int) {
	m.BootstrapBatches.WithLabelValues(job).Inc()
	m.BootstrapItems.WithLabelValues(job).Add(float64(size))
}

func (m *Metrics) ObserveJob(job string, d time.Duration) {
	m.BootstrapDuration.WithLabelValues(job).Set(d.Seconds())
}

// RegisterGauge exposes a value computed at scrape time, such as filter
// load factor or cache length.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
