// Package metric holds the Prometheus collectors of the analysis pipeline. A nil *Metrics is
// valid and records nothing.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diagflow"

type Metrics struct {
	registry *prometheus.Registry

	MessagesParsed     *prometheus.CounterVec
	LinesSkipped       prometheus.Counter
	Procedures         *prometheus.CounterVec
	PatternsDiscovered *prometheus.CounterVec
	KnowledgeApplied   *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	Errors             *prometheus.CounterVec
}

// New creates the collectors and registers them with a private registry alongside the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trace",
				Name:      "messages_total",
				Help:      "Parsed trace messages by direction",
			},
			[]string{"direction"},
		),
		LinesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trace",
				Name:      "lines_skipped_total",
				Help:      "Trace lines that did not match the line format",
			},
		),
		Procedures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "procedure",
				Name:      "grouped_total",
				Help:      "Diagnostic procedures by type and final status",
			},
			[]string{"type", "status"},
		),
		PatternsDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "patterns_total",
				Help:      "Discovered patterns by kind",
			},
			[]string{"kind"},
		),
		KnowledgeApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "applied_total",
				Help:      "Discovery apply outcomes (created, existing, pending, errored)",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each analysis stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "errors_total",
				Help:      "Failed analysis stages",
			},
			[]string{"stage"},
		),
	}

	m.registry.MustRegister(
		m.MessagesParsed,
		m.LinesSkipped,
		m.Procedures,
		m.PatternsDiscovered,
		m.KnowledgeApplied,
		m.StageDuration,
		m.Errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records the time since start for stage and counts a failure when err is set.
func (m *Metrics) ObserveStage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		m.Errors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) CountMessage(direction string) {
	if m == nil {
		return
	}
	m.MessagesParsed.WithLabelValues(direction).Inc()
}

func (m *Metrics) CountSkipped(n int) {
	if m == nil {
		return
	}
	m.LinesSkipped.Add(float64(n))
}

func (m *Metrics) CountProcedure(typ, status string) {
	if m == nil {
		return
	}
	m.Procedures.WithLabelValues(typ, status).Inc()
}

func (m *Metrics) CountPattern(kind string) {
	if m == nil {
		return
	}
	m.PatternsDiscovered.WithLabelValues(kind).Inc()
}

func (m *Metrics) CountApplied(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.KnowledgeApplied.WithLabelValues(outcome).Add(float64(n))
}
