package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Donation attempts by outcome",
	}, []string{"outcome"})

	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Donations answered from an existing idempotency key",
	})

	Fundings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_fundings_total",
		Help: "Wallet funding attempts by outcome",
	}, []string{"outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_cache_lookups_total",
		Help: "Balance cache lookups",
	}, []string{"view", "result"})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Time spent acquiring a wallet row lock",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
	}, []string{"mode"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_notifications_total",
		Help: "Post-commit notifications by result",
	}, []string{"result"})
)

func ObserveHTTP(method, endpoint string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func ObserveLockWait(mode string, d time.Duration) {
	LockWait.WithLabelValues(mode).Observe(d.Seconds())
}

func CacheHit(view string)  { CacheLookups.WithLabelValues(view, "hit").Inc() }
func CacheMiss(view string) { CacheLookups.WithLabelValues(view, "miss").Inc() }
