package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts polling cycles by tenant and outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trados_poll_cycles_total",
			Help: "The total number of polling cycles, by outcome.",
		},
		[]string{"tenant", "outcome"},
	)

	// CycleDuration is a histogram of the time a polling cycle takes.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trados_poll_cycle_duration_seconds",
			Help:    "A histogram of the polling cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		},
		[]string{"tenant"},
	)

	// ConsecutiveFailures shows the current failure streak of each tenant.
	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_poll_consecutive_failures",
			Help: "The number of consecutive failed polling cycles.",
		},
		[]string{"tenant"},
	)

	// TenantAvailable is 1 while a tenant's data is considered current.
	TenantAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_tenant_available",
			Help: "Whether the tenant's task data is available (1) or degraded (0).",
		},
		[]string{"tenant"},
	)

	// TasksByStatus is the number of assigned tasks per status in the last snapshot.
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_tasks",
			Help: "The number of assigned tasks, by status.",
		},
		[]string{"tenant", "status"},
	)

	// OverdueTasks is the number of overdue tasks in the last snapshot.
	OverdueTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_tasks_overdue",
			Help: "The number of open tasks past their due date.",
		},
		[]string{"tenant"},
	)

	// WordsByStatus is the word total per status in the last snapshot.
	WordsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_task_words",
			Help: "The number of source words in assigned tasks, by status.",
		},
		[]string{"tenant", "status"},
	)

	// APIRequests counts task API requests by endpoint and status class.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trados_api_requests_total",
			Help: "The total number of task API requests, by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	// TokenRequests counts requests against the token endpoint.
	TokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trados_token_requests_total",
			Help: "The total number of token requests, by grant and outcome.",
		},
		[]string{"grant", "outcome"},
	)

	// TokenCacheResults counts token lookups served from cache or not.
	TokenCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trados_token_cache_total",
			Help: "The total number of token lookups, by cache result.",
		},
		[]string{"result"},
	)

	// TokenQuotaRemaining is the number of token requests left in the window.
	TokenQuotaRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trados_token_quota_remaining",
			Help: "The number of token requests left in the rolling quota window.",
		},
		[]string{"credential"},
	)

	// EnrichmentJobs counts per-project word count jobs by outcome.
	EnrichmentJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trados_enrichment_jobs_total",
			Help: "The total number of per-project word count lookups, by outcome.",
		},
		[]string{"outcome"},
	)
)
