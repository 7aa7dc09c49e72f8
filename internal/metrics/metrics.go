package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_messages_total",
			Help: "Message lifecycle counter by stage",
		},
		[]string{"stage"}, // accepted|scheduled|sent|failed
	)

	PaymentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_payment_calls_total",
			Help: "Payment gateway calls by operation and outcome",
		},
		[]string{"op", "outcome"}, // charge|refund , ok|declined|error
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_refunds_total",
			Help: "Refund compensations by outcome",
		},
		[]string{"outcome"}, // refunded|failed|noop|rolled_back|rollback_failed
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_provider_requests_total",
			Help: "Carrier requests by provider and outcome",
		},
		[]string{"provider", "outcome"}, // sent|rejected|error
	)

	SchedulerClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paysms_scheduler_claimed_total",
			Help: "Scheduled dispatch jobs claimed",
		},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paysms_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciledOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_reconciled_orders_total",
			Help: "Orders handled by the reconciler by sweep and outcome",
		},
		[]string{"sweep", "outcome"}, // orphan|refund , linked|refunded|failed|skipped
	)

	HistoryAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_history_appends_total",
			Help: "History records appended by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	ProjectedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paysms_history_projected_total",
			Help: "History records written to the read store by kind",
		},
		[]string{"kind"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		PaymentCalls,
		RefundsTotal,
		ProviderRequests,
		SchedulerClaimed,
		SchedulerTickDuration,
		ReconciledOrders,
		HistoryAppends,
		ProjectedRecords,
	)
}
