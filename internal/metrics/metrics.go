// Package metrics exposes the replacer's prometheus collectors.
//
// Collectors are registered on an injected Registerer rather than the global
// default so independent engines (and tests) do not collide. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load outcome labels.
const (
	OutcomeLoaded  = "loaded"
	OutcomeRemoved = "removed"
	OutcomeFailed  = "failed"
	OutcomeIgnored = "ignored"
)

// Metrics groups every collector used by the loader and engine.
type Metrics struct {
	definitions      *prometheus.CounterVec
	rules            prometheus.Gauge
	snapshotSubjects prometheus.Gauge
	generation       prometheus.Gauge
	blanks           prometheus.Counter
	evaluateDuration prometheus.Histogram
	applyDuration    prometheus.Histogram
	applied          prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		definitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replacer_definitions_processed_total",
			Help: "Definition files processed by outcome",
		}, []string{"outcome"}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replacer_rules",
			Help: "Rules currently held by the store",
		}),
		snapshotSubjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replacer_snapshot_subjects",
			Help: "Subjects matched in the published snapshot",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replacer_snapshot_generation",
			Help: "Generation of the published snapshot",
		}),
		blanks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replacer_snapshot_blanks_total",
			Help: "Times the published snapshot was blanked for a reload",
		}),
		evaluateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replacer_evaluate_duration_seconds",
			Help:    "Time spent building a snapshot",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replacer_apply_pass_duration_seconds",
			Help:    "Time spent in one apply pass",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replacer_apply_subjects_updated_total",
			Help: "Subject graphs updated by apply passes",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.definitions, m.rules, m.snapshotSubjects, m.generation,
		m.blanks, m.evaluateDuration, m.applyDuration, m.applied,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DefinitionProcessed counts one definition file outcome.
func (m *Metrics) DefinitionProcessed(outcome string) {
	if m == nil {
		return
	}
	m.definitions.WithLabelValues(outcome).Inc()
}

// SetRules records the store size.
func (m *Metrics) SetRules(n int) {
	if m == nil {
		return
	}
	m.rules.Set(float64(n))
}

// SnapshotBlanked counts a reload blanking the published snapshot.
func (m *Metrics) SnapshotBlanked() {
	if m == nil {
		return
	}
	m.blanks.Inc()
}

// SnapshotPublished records an evaluation result.
func (m *Metrics) SnapshotPublished(generation int64, subjects int, took time.Duration) {
	if m == nil {
		return
	}
	m.generation.Set(float64(generation))
	m.snapshotSubjects.Set(float64(subjects))
	m.evaluateDuration.Observe(took.Seconds())
}

// ApplyPass records one apply pass.
func (m *Metrics) ApplyPass(updated int, took time.Duration) {
	if m == nil {
		return
	}
	m.applied.Add(float64(updated))
	m.applyDuration.Observe(took.Seconds())
}
