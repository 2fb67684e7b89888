package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/safety"
	"github.com/emberlane/walletfleet/internal/tracing"
)

// Strategy executes one trade cycle against a wallet and reports whether
// it succeeded. What a cycle does is entirely the strategy's business; the
// orchestrator only cares about the outcome.
type Strategy interface {
	Execute(ctx context.Context, w model.Wallet) (bool, error)
}

// WalletSource hands out wallets for a cycle and takes usage reports back.
type WalletSource interface {
	SelectBatch(n int) []model.Wallet
	MarkUsed(pubkey string)
}

// Disposer tears down ephemeral wallets when the run halts.
type Disposer interface {
	EmergencyDisposeAll(ctx context.Context) int
}

// Journal records outcomes and trips for later analysis. NopJournal is
// used when no journal backend is configured.
type Journal interface {
	RecordOutcome(ctx context.Context, outcome model.TradeOutcome) error
	RecordTrip(ctx context.Context, reason, detail string) error
}

type NopJournal struct{}

func (NopJournal) RecordOutcome(context.Context, model.TradeOutcome) error { return nil }
func (NopJournal) RecordTrip(context.Context, string, string) error        { return nil }

// Config tunes the run loop.
type Config struct {
	BatchSize   int           // wallets requested per cycle (default 3)
	Interval    time.Duration // pause between cycles (default 15s)
	Concurrency int           // strategy executions in parallel (default 2)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// Orchestrator drives the trade loop: evaluate the breaker, draw a batch,
// execute the strategy, feed outcomes back. A breaker trip halts the run
// permanently and tears down burners before returning.
type Orchestrator struct {
	cfg      Config
	source   WalletSource
	strategy Strategy
	breaker  *safety.Breaker
	disposer Disposer // nil when burners are disabled
	journal  Journal
	logger   *slog.Logger
}

func New(cfg Config, source WalletSource, strategy Strategy, breaker *safety.Breaker, disposer Disposer, journal Journal, logger *slog.Logger) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("wallet source is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if breaker == nil {
		return nil, fmt.Errorf("breaker is required")
	}
	if journal == nil {
		journal = NopJournal{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		source:   source,
		strategy: strategy,
		breaker:  breaker,
		disposer: disposer,
		journal:  journal,
		logger:   logger.With("component", "orchestrator"),
	}, nil
}

// Run loops until the context is canceled or the breaker trips. A trip
// returns an error wrapping safety.ErrTripped; cancellation returns the
// context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	ctx, span := tracing.Tracer("orchestrator").Start(ctx, "orchestrator.cycle")
	defer span.End()

	verdict := o.breaker.Evaluate(ctx)
	if verdict.Tripped {
		return o.halt(ctx, verdict)
	}

	batch := o.source.SelectBatch(o.cfg.BatchSize)
	if len(batch) == 0 {
		o.logger.Debug("no wallets eligible this cycle")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, w := range batch {
		w := w
		g.Go(func() error {
			o.execute(gctx, w)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, w model.Wallet) {
	success, err := o.strategy.Execute(ctx, w)
	if err != nil {
		o.logger.Warn("trade cycle failed", "pubkey", w.PublicKey, "error", err)
		success = false
	}

	o.breaker.RecordOutcome(success)
	o.source.MarkUsed(w.PublicKey)

	outcome := model.TradeOutcome{
		ID:      uuid.NewString(),
		Wallet:  w.PublicKey,
		Success: success,
		At:      time.Now().UTC(),
	}
	if err := o.journal.RecordOutcome(ctx, outcome); err != nil {
		o.logger.Warn("journal outcome write failed", "error", err)
	}
}

// halt records the trip, tears down burners, and ends the run. Teardown
// uses a fresh timeout so a canceled run context cannot leave funded
// burners behind.
func (o *Orchestrator) halt(ctx context.Context, verdict safety.Verdict) error {
	o.logger.Error("run halted by circuit breaker",
		"reason", string(verdict.Reason),
		"detail", verdict.Detail,
	)
	if err := o.journal.RecordTrip(ctx, string(verdict.Reason), verdict.Detail); err != nil {
		o.logger.Warn("journal trip write failed", "error", err)
	}

	if o.disposer != nil {
		disposeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		disposed := o.disposer.EmergencyDisposeAll(disposeCtx)
		o.logger.Info("burners disposed on halt", "count", disposed)
	}

	return fmt.Errorf("%w: %s", safety.ErrTripped, verdict.Reason)
}
