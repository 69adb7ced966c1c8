// Package metrics exposes prometheus instruments for batch writes, cascades
// and integrity audits. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "castline"

type Recorder struct {
	BatchesCommitted   *prometheus.CounterVec
	MutationsCommitted *prometheus.CounterVec
	BatchRetries       *prometheus.CounterVec
	BatchFailures      *prometheus.CounterVec
	CascadeDuration    prometheus.Histogram
	CascadesIncomplete prometheus.Counter
	AuditSubmissions   *prometheus.GaugeVec
	RepairsApplied     prometheus.Counter
}

// New builds the instruments and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		BatchesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_committed_total",
			Help:      "Store batches committed, by entity class.",
		}, []string{"entity_class"}),
		MutationsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_committed_total",
			Help:      "Mutations committed inside store batches, by entity class.",
		}, []string{"entity_class"}),
		BatchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_retries_total",
			Help:      "Batch write attempts that failed and were retried.",
		}, []string{"entity_class"}),
		BatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Batches abandoned after exhausting retries.",
		}, []string{"entity_class"}),
		CascadeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_archive_duration_seconds",
			Help:      "Wall time of cascade archive operations.",
			Buckets:   prometheus.DefBuckets,
		}),
		CascadesIncomplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_incomplete_total",
			Help:      "Cascade archives that finished with at least one failed entity class.",
		}),
		AuditSubmissions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrity_submissions",
			Help:      "Submissions by classification in the latest integrity audit.",
		}, []string{"classification"}),
		RepairsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_repairs_applied_total",
			Help:      "Submission role references rewritten by repair.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.BatchesCommitted,
			r.MutationsCommitted,
			r.BatchRetries,
			r.BatchFailures,
			r.CascadeDuration,
			r.CascadesIncomplete,
			r.AuditSubmissions,
			r.RepairsApplied,
		)
	}
	return r
}

func (r *Recorder) BatchCommitted(class string, mutations int) {
	if r == nil {
		return
	}
	r.BatchesCommitted.WithLabelValues(class).Inc()
	r.MutationsCommitted.WithLabelValues(class).Add(float64(mutations))
}

func (r *Recorder) BatchRetried(class string) {
	if r == nil {
		return
	}
	r.BatchRetries.WithLabelValues(class).Inc()
}

func (r *Recorder) BatchFailed(class string) {
	if r == nil {
		return
	}
	r.BatchFailures.WithLabelValues(class).Inc()
}

func (r *Recorder) CascadeFinished(started time.Time, incomplete bool) {
	if r == nil {
		return
	}
	r.CascadeDuration.Observe(time.Since(started).Seconds())
	if incomplete {
		r.CascadesIncomplete.Inc()
	}
}

func (r *Recorder) AuditFinished(valid, fixable, unresolved int) {
	if r == nil {
		return
	}
	r.AuditSubmissions.WithLabelValues("valid").Set(float64(valid))
	r.AuditSubmissions.WithLabelValues("orphaned_fixable").Set(float64(fixable))
	r.AuditSubmissions.WithLabelValues("orphaned_unresolved").Set(float64(unresolved))
}

func (r *Recorder) RepairApplied(n int) {
	if r == nil {
		return
	}
	r.RepairsApplied.Add(float64(n))
}
