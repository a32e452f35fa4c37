package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics holds the prometheus collectors shared across services.
type Metrics struct {
	GatewayRequests   *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	CreditRefunds     prometheus.Counter
	PaymentEvents     *prometheus.CounterVec
	ProxyHealthChecks *prometheus.CounterVec
	SchedulerJobRuns  *prometheus.CounterVec
	SchedulerJobFails *prometheus.CounterVec
}

var Module = fx.Provide(New)

func New() *Metrics {
	return &Metrics{
		GatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "gateway_requests_total",
			Help:      "AI gateway requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "creditrelay",
			Name:      "gateway_request_duration_seconds",
			Help:      "Upstream call duration by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		CreditRefunds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "credit_refunds_total",
			Help:      "Credits refunded after failed upstream calls.",
		}),
		PaymentEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "payment_events_total",
			Help:      "Payment lifecycle transitions by status.",
		}, []string{"status"}),
		ProxyHealthChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "proxy_health_checks_total",
			Help:      "Proxy health probe results.",
		}, []string{"result"}),
		SchedulerJobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job executions by job name.",
		}, []string{"job"}),
		SchedulerJobFails: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditrelay",
			Name:      "scheduler_job_failures_total",
			Help:      "Scheduler job failures by job name.",
		}, []string{"job"}),
	}
}
