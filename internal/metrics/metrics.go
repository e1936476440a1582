// Package metrics exposes Prometheus counters for pipeline outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

// Outcome labels shared by several counters.
const (
	OutcomeCreated  = "created"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeEnriched = "enriched"
	OutcomeMissing  = "missing_info"
	OutcomeSent     = "sent"
	OutcomeRefused  = "refused"
	OutcomeClosed   = "closed"
	OutcomeNotDue   = "not_due"
	OutcomeModel    = "model"
	OutcomeFallback = "fallback"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LeadsIngested   *prometheus.CounterVec
	LeadsEnriched   *prometheus.CounterVec
	EmailsSent      *prometheus.CounterVec
	SweepActions    *prometheus.CounterVec
	Personalization *prometheus.CounterVec
	LeadsByStatus   *prometheus.GaugeVec
}

// New creates and registers the collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LeadsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "candidates_total",
			Help:      "Search candidates processed by ingestion, by outcome",
		}, []string{"outcome"}),
		LeadsEnriched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "leads_total",
			Help:      "Leads classified by enrichment, by outcome",
		}, []string{"outcome"}),
		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "sends_total",
			Help:      "Send attempts by source status and outcome",
		}, []string{"status", "outcome"}),
		SweepActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Per-lead follow-up sweep decisions",
		}, []string{"action"}),
		Personalization: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compose",
			Name:      "openings_total",
			Help:      "Opening lines by source (model or fallback)",
		}, []string{"source"}),
		LeadsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leads",
			Help:      "Leads per lifecycle status at last analytics read",
		}, []string{"status"}),
	}
}

func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.LeadsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Enriched(outcome string) {
	if m == nil {
		return
	}
	m.LeadsEnriched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Send(status, outcome string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) Sweep(action string) {
	if m == nil {
		return
	}
	m.SweepActions.WithLabelValues(action).Inc()
}

func (m *Metrics) Opening(source string) {
	if m == nil {
		return
	}
	m.Personalization.WithLabelValues(source).Inc()
}

// SetStatusCounts replaces the per-status gauge values.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.LeadsByStatus.Reset()
	for status, n := range counts {
		m.LeadsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
