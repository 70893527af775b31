// Package metrics exposes Prometheus collectors for consultations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consult"

// Answer kinds.
const (
	AnswerTrue    = "true"
	AnswerFalse   = "false"
	AnswerUnknown = "unknown"
)

// Outcomes of a finished consultation.
const (
	OutcomeConcluded    = "concluded"
	OutcomeAssumed      = "assumed"
	OutcomeInsufficient = "insufficient"
	OutcomeNoConclusion = "no_conclusion"
)

// Metrics groups the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SessionsStarted  *prometheus.CounterVec
	Answers          *prometheus.CounterVec
	BackNavigations  *prometheus.CounterVec
	Finished         *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	ValidationIssues *prometheus.GaugeVec
	ValidationTime   *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Consultations started by domain",
		}, []string{"domain"}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers recorded by domain and kind (true, false, unknown)",
		}, []string{"domain", "kind"}),
		BackNavigations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "back_navigations_total",
			Help:      "Answers undone by domain",
		}, []string{"domain"}),
		Finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Finished consultations by domain and outcome",
		}, []string{"domain", "outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
		ValidationIssues: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_issues",
			Help:      "Issues found by the last validation run, by domain and type",
		}, []string{"domain", "type"}),
		ValidationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time spent validating a domain's rule set",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
	}
}

// AnswerKind labels an answer.
func AnswerKind(v *bool) string {
	switch {
	case v == nil:
		return AnswerUnknown
	case *v:
		return AnswerTrue
	default:
		return AnswerFalse
	}
}

// Started counts a new consultation.
func (m *Metrics) Started(domain string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(domain).Inc()
}

// Answered counts one answer by kind.
func (m *Metrics) Answered(domain string, v *bool) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(domain, AnswerKind(v)).Inc()
}

// Back counts one back navigation.
func (m *Metrics) Back(domain string) {
	if m == nil {
		return
	}
	m.BackNavigations.WithLabelValues(domain).Inc()
}

// Done counts a finished consultation by outcome.
func (m *Metrics) Done(domain, outcome string) {
	if m == nil {
		return
	}
	m.Finished.WithLabelValues(domain, outcome).Inc()
}

// SetActive sets the number of in-memory sessions.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// Validated records the issue counts of one validation run.
func (m *Metrics) Validated(domain string, byType map[string]int, seconds float64) {
	if m == nil {
		return
	}
	for typ, n := range byType {
		m.ValidationIssues.WithLabelValues(domain, typ).Set(float64(n))
	}
	m.ValidationTime.WithLabelValues(domain).Observe(seconds)
}
