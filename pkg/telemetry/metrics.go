package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/howtoharden/hth/pkg/engine"
)

// Metrics holds the hth collectors on a private registry.
type Metrics struct {
	Registry      *prometheus.Registry
	controls      *prometheus.GaugeVec
	issues        *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		controls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hth_controls_total",
			Help: "Controls by status in the most recent scan of each vendor.",
		}, []string{"vendor", "status"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hth_issues_total",
			Help: "Audit issues reported, by vendor and resource kind.",
		}, []string{"vendor", "kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hth_fetch_duration_seconds",
			Help:    "Time spent fetching vendor resources.",
			Buckets: prometheus.DefBuckets,
		}, []string{"vendor", "kind"}),
	}
	m.Registry.MustRegister(m.controls, m.issues, m.fetchDuration)
	return m
}

// ObserveScan records control counts for one scan.
func (m *Metrics) ObserveScan(r engine.ScanReport) {
	s := r.Summary
	m.controls.WithLabelValues(r.Vendor, string(engine.StatusPass)).Set(float64(s.Passed))
	m.controls.WithLabelValues(r.Vendor, string(engine.StatusFail)).Set(float64(s.Failed))
	m.controls.WithLabelValues(r.Vendor, string(engine.StatusSkip)).Set(float64(s.Skipped))
	m.controls.WithLabelValues(r.Vendor, string(engine.StatusError)).Set(float64(s.Errors))
}

// ObserveAudit records one audit run.
func (m *Metrics) ObserveAudit(vendor, kind string, issues int, fetch time.Duration) {
	m.issues.WithLabelValues(vendor, kind).Add(float64(issues))
	m.fetchDuration.WithLabelValues(vendor, kind).Observe(fetch.Seconds())
}

// WriteTextfile writes the registry in node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
