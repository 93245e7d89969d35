package telemetry

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/recipesync/internal/config"
	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
)

// Outcome label values.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics counts engine activity. It implements engine.Observer.
//
// A Metrics built from a disabled config is a no-op: every method
// returns immediately and WriteText writes nothing.
type Metrics struct {
	actions       *prometheus.CounterVec
	firings       *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	cascades      *prometheus.CounterVec
	cascadeSteps  prometheus.Histogram

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	ns := cfg.Namespace

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "actions_total",
				Help:      "Completed actions and queries by operation and outcome.",
			},
			[]string{"op", "kind", "outcome"},
		),
		firings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rule_firings_total",
				Help:      "Frames each rule fired for.",
			},
			[]string{"rule"},
		),
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "frames_dropped_total",
				Help:      "Matched frames a rule discarded before firing.",
			},
			[]string{"rule", "stage"},
		),
		cascades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cascades_total",
				Help:      "Finished cascades by outcome.",
			},
			[]string{"outcome"},
		),
		cascadeSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "cascade_steps",
				Help:      "Actions executed per cascade.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
			},
		),
	}

	m.registry.MustRegister(
		m.actions,
		m.firings,
		m.framesDropped,
		m.cascades,
		m.cascadeSteps,
	)
	return m
}

// Enabled reports whether the metrics collect anything.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

func (m *Metrics) ActionCompleted(rec ir.ActionRecord) {
	if m.registry == nil {
		return
	}
	outcome := outcomeOK
	if rec.Kind == ir.KindAction && rec.Output.IsError() {
		outcome = outcomeError
	}
	m.actions.WithLabelValues(rec.Op.String(), rec.Kind.String(), outcome).Inc()
}

func (m *Metrics) RuleFired(rule string, frames int) {
	if m.registry == nil {
		return
	}
	m.firings.WithLabelValues(rule).Add(float64(frames))
}

func (m *Metrics) FramesDropped(rule, stage string, n int) {
	if m.registry == nil {
		return
	}
	m.framesDropped.WithLabelValues(rule, stage).Add(float64(n))
}

func (m *Metrics) CascadeFinished(steps int, err error) {
	if m.registry == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.cascades.WithLabelValues(outcome).Inc()
	m.cascadeSteps.Observe(float64(steps))
}

// WriteText dumps every metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m.registry == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
