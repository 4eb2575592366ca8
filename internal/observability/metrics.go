package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	PipelineStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busticket_pipeline_step_seconds",
			Help:    "Duration of purchase pipeline steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step", "result"},
	)

	PipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_pipeline_outcomes_total",
			Help: "Terminal purchase outcomes by failure kind",
		},
		[]string{"outcome"},
	)

	PaymentInProgressRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "busticket_pay_in_progress_rejections_total",
			Help: "Pay calls rejected because another one was outstanding",
		},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busticket_backend_call_seconds",
			Help:    "Duration of calls to the ticketing backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "code"},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "busticket_outbox_lag_seconds",
			Help: "Age of the oldest outbox row at publish time",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "busticket_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "busticket_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	AbandonedPurchases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "busticket_abandoned_purchases_total",
			Help: "Purchases marked abandoned by the expiry worker",
		},
	)
)

var initOnce sync.Once

func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			PipelineStepDuration,
			PipelineOutcomes,
			PaymentInProgressRejections,
			BackendCallDuration,
			OutboxLag,
			RabbitPublishRetries,
			RateLimitExceeded,
			AbandonedPurchases,
		)
	})
}
