package syncqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactsync",
			Subsystem: "syncqueue",
			Name:      "operations_total",
			Help:      "Queue transitions by table and outcome (enqueued, succeeded, failed, rejected, coalesced).",
		},
		[]string{"table", "outcome"},
	)

	bucketDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "contactsync",
			Subsystem: "syncqueue",
			Name:      "depth",
			Help:      "Operations per bucket.",
		},
		[]string{"bucket"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contactsync",
			Subsystem: "syncqueue",
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent in one Reconcile call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"table", "kind"},
	)
)

func (s SyncState) observe() {
	bucketDepth.WithLabelValues("pending").Set(float64(len(s.Pending)))
	bucketDepth.WithLabelValues("in_progress").Set(float64(len(s.InProgress)))
	bucketDepth.WithLabelValues("failed").Set(float64(len(s.Failed)))
	bucketDepth.WithLabelValues("rejected").Set(float64(len(s.Rejected)))
}
