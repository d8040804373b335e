package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business counters. Deferred payouts, forfeits and defaults are reportable
// states the operators watch, not errors.
var (
	PayoutDeferrals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_payout_deferrals_total",
		Help: "Payouts withheld because the midpoint funding gate was not met.",
	})

	PayoutsForfeited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_payouts_forfeited_total",
		Help: "Future payouts forfeited after a member exceeded the missed-round limit.",
	})

	PayoutsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_payouts_released_total",
		Help: "Rotation payouts released to members.",
	})

	PlansDefaulted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_plans_defaulted_total",
		Help: "Installment plans moved to the defaulted terminal state.",
	})

	LedgerPostingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "savings_ledger_posting_retries_total",
		Help: "Ledger posting delivery attempts after the first.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "savings_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
