package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warikan_group_operations_total",
		Help: "Group operations by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warikan_group_operation_duration_seconds",
		Help:    "Duration of one read-modify-write cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	versionConflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warikan_version_conflicts_total",
		Help: "Writes rejected because the group changed after it was read",
	})

	consistencyWarningTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warikan_consistency_warnings_total",
		Help: "Recomputations that left an unmatched residual",
	})

	notifyFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warikan_notify_failures_total",
		Help: "Notification requests the notifier failed to deliver",
	}, []string{"kind"})
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
