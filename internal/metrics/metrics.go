package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentdeploy"

// Recorder counts orchestration outcomes. A nil *Recorder records nothing.
type Recorder struct {
	advisoryFailures *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	bulkItems        *prometheus.CounterVec
}

// New builds a Recorder and registers its collectors on reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		advisoryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "advisory_failures_total",
			Help:      "Advisory steps that failed and were discarded",
		}, []string{"step"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconciliations_total",
			Help:      "Status checks that fell back to the route lookup",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "compensations_total",
			Help:      "Compensating parent deletions by outcome",
		}, []string{"outcome"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk operation items by result",
		}, []string{"result"}),
	}
	if reg == nil {
		return r
	}
	r.advisoryFailures = register(reg, r.advisoryFailures)
	r.reconciliations = register(reg, r.reconciliations)
	r.compensations = register(reg, r.compensations)
	r.bulkItems = register(reg, r.bulkItems)
	return r
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

// AdvisoryFailure counts a discarded advisory failure for step.
func (r *Recorder) AdvisoryFailure(step string) {
	if r == nil {
		return
	}
	r.advisoryFailures.With(prometheus.Labels{"step": step}).Inc()
}

// Reconciliation counts a route lookup fallback with its outcome (upgraded, failed, ambiguous).
func (r *Recorder) Reconciliation(outcome string) {
	if r == nil {
		return
	}
	r.reconciliations.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// Compensation counts a compensating delete with its outcome (ok, failed).
func (r *Recorder) Compensation(outcome string) {
	if r == nil {
		return
	}
	r.compensations.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// BulkItems adds succeeded and failed item counts.
func (r *Recorder) BulkItems(succeeded, failed int) {
	if r == nil {
		return
	}
	r.bulkItems.With(prometheus.Labels{"result": "succeeded"}).Add(float64(succeeded))
	r.bulkItems.With(prometheus.Labels{"result": "failed"}).Add(float64(failed))
}
