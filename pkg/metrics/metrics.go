// Package metrics exposes arena reconciliation counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

const namespace = "arena"

type Recorder struct {
	registry *prometheus.Registry

	approvals        *prometheus.CounterVec
	approvalDuration prometheus.Histogram
	conflicts        prometheus.Counter
	backfillItems    *prometheus.CounterVec
	backfillRuns     *prometheus.CounterVec
	legacyPromotions *prometheus.CounterVec
}

// New registers the arena collectors, plus Go and process collectors, on reg.
// A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auto := promauto.With(reg)

	return &Recorder{
		registry: reg,
		approvals: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Committed approvals by outcome.",
		}, []string{"outcome"}),
		approvalDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_duration_seconds",
			Help:      "Wall time of committed approvals, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}),
		conflicts: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_conflicts_total",
			Help:      "Approvals that still violated the one ms row per project rule after the retry.",
		}),
		backfillItems: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_items_total",
			Help:      "Projects processed by backfill runs by outcome.",
		}, []string{"outcome", "dry_run"}),
		backfillRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_runs_total",
			Help:      "Backfill runs started.",
		}, []string{"dry_run"}),
		legacyPromotions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_promotions_total",
			Help:      "Unknown rows relabeled legacy_ms by the classification pass.",
		}, []string{"dry_run"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveApproval(outcome types.Outcome, d time.Duration) {
	r.approvals.WithLabelValues(string(outcome)).Inc()
	r.approvalDuration.Observe(d.Seconds())
}

func (r *Recorder) IncConflict() { r.conflicts.Inc() }

func (r *Recorder) ObserveBackfillItem(outcome string, dryRun bool) {
	r.backfillItems.WithLabelValues(outcome, strconv.FormatBool(dryRun)).Inc()
}

func (r *Recorder) ObserveBackfillRun(dryRun bool) {
	r.backfillRuns.WithLabelValues(strconv.FormatBool(dryRun)).Inc()
}

func (r *Recorder) AddLegacyPromotions(n int, dryRun bool) {
	if n <= 0 {
		return
	}
	r.legacyPromotions.WithLabelValues(strconv.FormatBool(dryRun)).Add(float64(n))
}
