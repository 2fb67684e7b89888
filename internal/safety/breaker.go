package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emberlane/walletfleet/internal/metrics"
)

// ErrTripped is returned by operations refused because the breaker has
// tripped.
var ErrTripped = errors.New("circuit breaker tripped")

// TripReason identifies which condition halted the run.
type TripReason string

const (
	TripNone                TripReason = ""
	TripConsecutiveFailures TripReason = "consecutive_failures"
	TripFailureRate         TripReason = "failure_rate"
	TripDrawdown            TripReason = "drawdown"
)

// Verdict is the result of a breaker evaluation.
type Verdict struct {
	Tripped bool
	Reason  TripReason
	Detail  string
}

// BalanceFunc reads the current balance of the drawdown-monitored account.
type BalanceFunc func(ctx context.Context) (uint64, error)

// Config configures the run-level circuit breaker. All percentage
// thresholds are basis points on integer lamports; no floating point is
// involved at any balance size.
type Config struct {
	MaxConsecutiveFailures int // unbroken failure streak that trips (default: 5)
	WindowSize             int // sliding outcome window length (default: 20)
	MaxFailureRateBps      int // windowed failure fraction that trips, in bps (default: 5000)
	MaxDrawdownBps         int // fractional loss against baseline that trips, in bps (default: 2000)
	BalanceCheckEvery      int // drawdown checked once per this many evaluations (default: 10)
}

// Breaker evaluates three independent halt conditions in order: consecutive
// failures, windowed failure rate, drawdown. The first tripped condition
// short-circuits the rest. A trip is terminal for the run; there is no
// automatic reset.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	balanceOf BalanceFunc
	logger    *slog.Logger

	consecutiveFailures int
	window              []bool // true = failure
	windowNext          int
	windowFull          bool

	baseline    uint64
	baselineSet bool
	evalCount   uint64

	tripped bool
	reason  TripReason
	detail  string
}

func New(cfg Config, balanceOf BalanceFunc, logger *slog.Logger) *Breaker {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.MaxFailureRateBps <= 0 {
		cfg.MaxFailureRateBps = 5000
	}
	if cfg.MaxDrawdownBps <= 0 {
		cfg.MaxDrawdownBps = 2000
	}
	if cfg.BalanceCheckEvery <= 0 {
		cfg.BalanceCheckEvery = 10
	}
	return &Breaker{
		cfg:       cfg,
		balanceOf: balanceOf,
		logger:    logger.With("component", "breaker"),
		window:    make([]bool, cfg.WindowSize),
	}
}

// CaptureBaseline records the drawdown reference balance. It is captured
// once at startup and never updated; later captures are ignored.
func (b *Breaker) CaptureBaseline(ctx context.Context) error {
	if b.balanceOf == nil {
		return nil
	}
	balance, err := b.balanceOf(ctx)
	if err != nil {
		return fmt.Errorf("capture baseline balance: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.baselineSet {
		return nil
	}
	b.baseline = balance
	b.baselineSet = true
	b.logger.Info("baseline balance captured", "lamports", balance)
	return nil
}

// RecordOutcome feeds one trade result into the streak counter and the
// sliding window.
func (b *Breaker) RecordOutcome(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.consecutiveFailures = 0
		metrics.OutcomesRecordedTotal.WithLabelValues("success").Inc()
	} else {
		b.consecutiveFailures++
		metrics.OutcomesRecordedTotal.WithLabelValues("failure").Inc()
	}

	b.window[b.windowNext] = !success
	b.windowNext++
	if b.windowNext == len(b.window) {
		b.windowNext = 0
		b.windowFull = true
	}
}

// Evaluate checks the halt conditions. Once tripped it always reports the
// original trip without re-checking anything.
func (b *Breaker) Evaluate(ctx context.Context) Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		return Verdict{Tripped: true, Reason: b.reason, Detail: b.detail}
	}

	b.evalCount++

	if b.consecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		return b.trip(TripConsecutiveFailures,
			fmt.Sprintf("%d consecutive failures (max %d)", b.consecutiveFailures, b.cfg.MaxConsecutiveFailures))
	}

	if b.windowFull {
		failures := 0
		for _, failed := range b.window {
			if failed {
				failures++
			}
		}
		rateBps := failures * 10_000 / len(b.window)
		if rateBps > b.cfg.MaxFailureRateBps {
			return b.trip(TripFailureRate,
				fmt.Sprintf("failure rate %d bps over last %d outcomes (max %d bps)", rateBps, len(b.window), b.cfg.MaxFailureRateBps))
		}
	}

	// Drawdown checks hit the network, so they run on a throttled cadence.
	if b.baselineSet && b.baseline > 0 && b.evalCount%uint64(b.cfg.BalanceCheckEvery) == 0 {
		current, err := b.balanceOf(ctx)
		if err != nil {
			b.logger.Warn("drawdown balance check failed", "error", err)
			return Verdict{}
		}
		if current < b.baseline {
			lossBps := (b.baseline - current) * 10_000 / b.baseline
			if lossBps >= uint64(b.cfg.MaxDrawdownBps) {
				return b.trip(TripDrawdown,
					fmt.Sprintf("drawdown %d bps from baseline %d to %d (max %d bps)", lossBps, b.baseline, current, b.cfg.MaxDrawdownBps))
			}
		}
	}

	return Verdict{}
}

// Tripped reports the terminal state without evaluating.
func (b *Breaker) Tripped() (bool, TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.reason
}

func (b *Breaker) trip(reason TripReason, detail string) Verdict {
	b.tripped = true
	b.reason = reason
	b.detail = detail
	metrics.BreakerTripsTotal.WithLabelValues(string(reason)).Inc()
	b.logger.Error("circuit breaker tripped", "reason", reason, "detail", detail)
	return Verdict{Tripped: true, Reason: reason, Detail: detail}
}
