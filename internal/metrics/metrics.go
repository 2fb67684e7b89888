package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Component counters and histograms for the wallet fleet.

var (
	// Pool
	FundingAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "funding_attempts_total",
		Help:      "Total per-wallet funding attempts",
	}, []string{"result"})

	FundingTranchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "funding_tranches_total",
		Help:      "Total funding tranches by delivery outcome",
	}, []string{"outcome"})

	FundingVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "funding_verifications_total",
		Help:      "Balance-delta verifications after confirmation timeout",
	}, []string{"outcome"})

	PoolWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "wallets",
		Help:      "Wallets currently in the roster",
	})

	BatchWalletsSelected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "batch_wallets_selected_total",
		Help:      "Wallets handed out across all batch selections",
	})

	FundingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "funding_duration_seconds",
		Help:      "Duration of a full funding pass over the roster",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// Burner
	BurnersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "burner",
		Name:      "created_total",
		Help:      "Burner wallets created and funded",
	})

	BurnersDisposedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "burner",
		Name:      "disposed_total",
		Help:      "Burner wallets disposed",
	}, []string{"mode"})

	BurnerCreationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "burner",
		Name:      "creation_failures_total",
		Help:      "Burner funding failures during creation",
	})

	BurnersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Subsystem: "burner",
		Name:      "active",
		Help:      "Burner wallets currently active",
	})

	// Safety
	BreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "safety",
		Name:      "breaker_trips_total",
		Help:      "Circuit breaker trips by reason",
	}, []string{"reason"})

	OutcomesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "safety",
		Name:      "outcomes_recorded_total",
		Help:      "Trade outcomes recorded by the circuit breaker",
	}, []string{"result"})

	// Rebalance
	RebalanceTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "rebalance",
		Name:      "transfers_total",
		Help:      "Rebalance transfers by kind and result",
	}, []string{"kind", "result"})

	RebalanceLamportsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "rebalance",
		Name:      "lamports_moved_total",
		Help:      "Lamports moved by rebalance transfers",
	}, []string{"kind"})

	RebalanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleet",
		Subsystem: "rebalance",
		Name:      "duration_seconds",
		Help:      "Duration of a rebalance pass",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Alert
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "RPC calls by method and status",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls delayed by the client-side rate limiter",
	})
)
