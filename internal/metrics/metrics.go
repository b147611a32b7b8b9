// Package metrics exposes orchestration counters for Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sloppy/orangesage/internal/finding"
)

// Metrics owns a private registry so tests and embedders never touch the
// global one.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal     *prometheus.CounterVec
	ScansRunning   prometheus.Gauge
	PhaseDuration  *prometheus.HistogramVec
	PhaseResults   *prometheus.CounterVec
	FindingsTotal  *prometheus.CounterVec
	ActiveAgents   prometheus.Gauge
	ServiceCalls   *prometheus.CounterVec
	ReportsTotal   *prometheus.CounterVec
	ReportDuration prometheus.Histogram
}

// New creates and registers every collector.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orange_sage_scans_total",
			Help: "Scans that reached a terminal status.",
		}, []string{"status"}),
		ScansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orange_sage_scans_running",
			Help: "Scans currently running.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orange_sage_phase_duration_seconds",
			Help:    "Wall time of each scan phase.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"phase"}),
		PhaseResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orange_sage_phase_results_total",
			Help: "Phase outcomes by phase and result.",
		}, []string{"phase", "result"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orange_sage_findings_total",
			Help: "Findings stored, by severity.",
		}, []string{"severity"}),
		ActiveAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orange_sage_active_agents",
			Help: "Agents currently executing.",
		}),
		ServiceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orange_sage_service_calls_total",
			Help: "Analysis service calls by service and result.",
		}, []string{"service", "result"}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orange_sage_reports_total",
			Help: "Generated reports by format and result.",
		}, []string{"format", "result"}),
		ReportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orange_sage_report_duration_seconds",
			Help:    "Time spent rendering reports.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ScansTotal, m.ScansRunning, m.PhaseDuration, m.PhaseResults, m.FindingsTotal,
		m.ActiveAgents, m.ServiceCalls, m.ReportsTotal, m.ReportDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	for _, sev := range finding.Severities {
		m.FindingsTotal.WithLabelValues(string(sev))
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePhase records one phase outcome.
func (m *Metrics) ObservePhase(name string, success bool, took time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.PhaseDuration.WithLabelValues(name).Observe(took.Seconds())
	m.PhaseResults.WithLabelValues(name, result).Inc()
}

// AddFindings counts stored findings by severity.
func (m *Metrics) AddFindings(findings []finding.Finding) {
	for _, f := range findings {
		m.FindingsTotal.WithLabelValues(string(f.Severity)).Inc()
	}
}

// ScanFinished counts a scan reaching status.
func (m *Metrics) ScanFinished(status string) {
	m.ScansTotal.WithLabelValues(status).Inc()
}

// ServiceCall counts one analysis service call.
func (m *Metrics) ServiceCall(service string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ServiceCalls.WithLabelValues(service, result).Inc()
}
