package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/funds"
	"github.com/emberlane/walletfleet/internal/metrics"
	"github.com/emberlane/walletfleet/internal/tracing"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// Config tunes a rebalance pass. Zero values fall back to defaults in New.
type Config struct {
	Target uint64 // lamports every wallet is steered toward
	Floor  uint64 // below this a wallet is needy
	Dust   uint64 // transfers at or below this are not worth a transaction

	SurplusFactorBps    int // balance above Target*factor marks a donor (default 15000, 1.5x)
	ConsolidateAboveBps int // balance above Target*factor is skimmed to the sink (default 11000, 1.1x)
	RetentionMaxBps     int // random share of a skim held back (default 1000, 10%)

	ConfirmTimeout     time.Duration
	VerifyToleranceBps int
	TransferAttempts   int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

func (c Config) withDefaults() Config {
	if c.SurplusFactorBps <= 0 {
		c.SurplusFactorBps = 15_000
	}
	if c.ConsolidateAboveBps <= 0 {
		c.ConsolidateAboveBps = 11_000
	}
	if c.RetentionMaxBps < 0 {
		c.RetentionMaxBps = 0
	} else if c.RetentionMaxBps == 0 {
		c.RetentionMaxBps = 1_000
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.TransferAttempts <= 0 {
		c.TransferAttempts = 2
	}
	return c
}

// Result summarizes a rebalance pass.
type Result struct {
	Paired        int    // wallet-to-wallet transfers delivered
	Consolidated  int    // surplus skims delivered to the sink
	LamportsMoved uint64 // total lamports moved by delivered transfers
	Skipped       int    // wallets skipped on balance or transfer errors
}

// Rebalancer evens out balances across a batch of wallets and skims
// persistent surplus back to the sink. Every pass is best effort: a failed
// transfer is logged and skipped, never retried into an abort.
type Rebalancer struct {
	cfg    Config
	client chain.Client
	sink   string
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, client chain.Client, sink string, rng *rand.Rand, logger *slog.Logger) (*Rebalancer, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if cfg.Target == 0 {
		return nil, fmt.Errorf("rebalance target must be positive")
	}
	if cfg.Floor > cfg.Target {
		return nil, fmt.Errorf("floor %d exceeds target %d", cfg.Floor, cfg.Target)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebalancer{
		cfg:    cfg.withDefaults(),
		client: client,
		sink:   sink,
		logger: logger.With("component", "rebalance"),
		rng:    rng,
	}, nil
}

type holding struct {
	wallet  model.Wallet
	balance uint64
}

// Rebalance runs one pass over the batch: snapshot balances, pair needy
// wallets with surplus donors, then consolidate what is still above the
// skim threshold into the sink.
func (r *Rebalancer) Rebalance(ctx context.Context, batch []model.Wallet) Result {
	ctx, span := tracing.Tracer("rebalance").Start(ctx, "rebalance.Rebalance")
	defer span.End()
	span.SetAttributes(attribute.Int("rebalance.batch", len(batch)))

	start := time.Now()
	defer func() {
		metrics.RebalanceDuration.Observe(time.Since(start).Seconds())
	}()

	var res Result

	holdings := make([]*holding, 0, len(batch))
	for i := range batch {
		if ctx.Err() != nil {
			return res
		}
		balance, err := r.client.GetBalance(ctx, batch[i].PublicKey)
		if err != nil {
			r.logger.Warn("balance snapshot failed; skipping wallet", "pubkey", batch[i].PublicKey, "error", err)
			res.Skipped++
			continue
		}
		holdings = append(holdings, &holding{wallet: batch[i], balance: balance})
	}

	r.pair(ctx, holdings, &res)
	r.consolidate(ctx, holdings, &res)

	if res.Paired > 0 || res.Consolidated > 0 || res.Skipped > 0 {
		r.logger.Info("rebalance pass complete",
			"paired", res.Paired,
			"consolidated", res.Consolidated,
			"lamports_moved", res.LamportsMoved,
			"skipped", res.Skipped,
		)
	}
	return res
}

// pair moves lamports from surplus donors to needy wallets: neediest
// first, richest donor first, each transfer bounded by both the
// recipient's deficit and the donor's surplus above target.
func (r *Rebalancer) pair(ctx context.Context, holdings []*holding, res *Result) {
	var needy, donors []*holding
	for _, h := range holdings {
		switch {
		case h.balance < r.cfg.Floor:
			needy = append(needy, h)
		case h.balance > r.threshold(r.cfg.SurplusFactorBps):
			donors = append(donors, h)
		}
	}
	sort.Slice(needy, func(i, j int) bool { return needy[i].balance < needy[j].balance })
	sort.Slice(donors, func(i, j int) bool { return donors[i].balance > donors[j].balance })

	d := 0
	for _, n := range needy {
		for d < len(donors) {
			if ctx.Err() != nil {
				return
			}
			donor := donors[d]
			if donor.wallet.PublicKey == n.wallet.PublicKey {
				d++
				continue
			}
			if donor.balance <= r.cfg.Target || donor.balance-r.cfg.Target <= r.cfg.Dust {
				d++
				continue
			}

			deficit := r.cfg.Target - n.balance
			surplus := donor.balance - r.cfg.Target
			amount := deficit
			if surplus < amount {
				amount = surplus
			}
			if amount <= r.cfg.Dust {
				break
			}

			if err := r.transfer(ctx, donor.wallet, n.wallet.PublicKey, amount, "pair"); err != nil {
				r.logger.Warn("pair transfer failed; skipping recipient",
					"from", donor.wallet.PublicKey,
					"to", n.wallet.PublicKey,
					"lamports", amount,
					"error", err,
				)
				res.Skipped++
				break
			}
			donor.balance -= amount
			n.balance += amount
			res.Paired++
			res.LamportsMoved += amount

			if n.balance >= r.cfg.Target {
				break
			}
		}
		if d >= len(donors) {
			break
		}
	}
}

// consolidate skims wallets still above the consolidation threshold into
// the sink, each minus a random retention so outgoing amounts never form a
// clean pattern.
func (r *Rebalancer) consolidate(ctx context.Context, holdings []*holding, res *Result) {
	if r.sink == "" {
		return
	}
	threshold := r.threshold(r.cfg.ConsolidateAboveBps)
	for _, h := range holdings {
		if ctx.Err() != nil {
			return
		}
		if h.balance <= threshold {
			continue
		}
		excess := h.balance - r.cfg.Target

		r.rngMu.Lock()
		retentionBps := wallet.RetentionBps(r.rng, r.cfg.RetentionMaxBps)
		r.rngMu.Unlock()
		retained := excess / 10_000 * uint64(retentionBps)
		if excess < 10_000 {
			retained = excess * uint64(retentionBps) / 10_000
		}
		amount := excess - retained
		if amount <= r.cfg.Dust {
			continue
		}

		if err := r.transfer(ctx, h.wallet, r.sink, amount, "consolidate"); err != nil {
			r.logger.Warn("consolidation transfer failed; skipping wallet",
				"pubkey", h.wallet.PublicKey,
				"lamports", amount,
				"error", err,
			)
			res.Skipped++
			continue
		}
		h.balance -= amount
		res.Consolidated++
		res.LamportsMoved += amount
	}
}

func (r *Rebalancer) transfer(ctx context.Context, from model.Wallet, to string, lamports uint64, kind string) error {
	signer := chain.Signer{PublicKey: from.PublicKey, PrivateKey: from.PrivateKey}
	opts := funds.Options{
		ConfirmTimeout: r.cfg.ConfirmTimeout,
		ToleranceBps:   r.cfg.VerifyToleranceBps,
		MaxAttempts:    r.cfg.TransferAttempts,
		BackoffInitial: r.cfg.BackoffInitial,
		BackoffMax:     r.cfg.BackoffMax,
	}
	err := funds.Send(ctx, r.client, signer, to, lamports, opts, r.logger)
	if err != nil {
		metrics.RebalanceTransfersTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}
	metrics.RebalanceTransfersTotal.WithLabelValues(kind, "delivered").Inc()
	metrics.RebalanceLamportsMoved.WithLabelValues(kind).Add(float64(lamports))
	return nil
}

// threshold returns Target scaled by a basis-point factor, in integer
// arithmetic. Multiplication first preserves precision for small targets;
// targets large enough to overflow divide first.
func (r *Rebalancer) threshold(factorBps int) uint64 {
	if r.cfg.Target > (1<<63)/uint64(factorBps) {
		return r.cfg.Target / 10_000 * uint64(factorBps)
	}
	return r.cfg.Target * uint64(factorBps) / 10_000
}
