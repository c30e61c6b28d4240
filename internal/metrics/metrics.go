// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	vouchersIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsync_vouchers_issued_total",
			Help: "Vouchers persisted to the ledger by funding source",
		},
		[]string{"source"},
	)

	provisioningDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsync_provisioning_degraded_total",
			Help: "Issued vouchers that could not be created on the controller",
		},
		[]string{"class"},
	)

	reconcilePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsync_reconcile_passes_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"result"},
	)

	reconcileActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsync_reconcile_actions_total",
			Help: "Corrective actions applied by reconciliation",
		},
		[]string{"action"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hsync_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func VoucherIssued(source string) {
	vouchersIssued.WithLabelValues(source).Inc()
}

func ProvisioningDegraded(class string) {
	provisioningDegraded.WithLabelValues(class).Inc()
}

func ReconcilePass(result string, d time.Duration) {
	reconcilePasses.WithLabelValues(result).Inc()
	reconcileDuration.Observe(d.Seconds())
}

func ReconcileAction(action string, n int) {
	if n <= 0 {
		return
	}
	reconcileActions.WithLabelValues(action).Add(float64(n))
}
