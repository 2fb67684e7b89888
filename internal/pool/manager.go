package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/funds"
	"github.com/emberlane/walletfleet/internal/metrics"
	"github.com/emberlane/walletfleet/internal/store"
	"github.com/emberlane/walletfleet/internal/tracing"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// Config tunes the pool manager. Zero values fall back to defaults in New.
type Config struct {
	TargetCount   int    // roster size maintained by LoadOrBootstrap
	TargetBalance uint64 // lamports each wallet is topped up to
	MinBalance    uint64 // floor below which a wallet counts as needing funding

	MaxTranches        int           // upper bound on tranches per top-up (default 4)
	FundConcurrency    int           // wallets funded in parallel (default 4)
	ConfirmTimeout     time.Duration // per-transfer confirmation wait
	VerifyToleranceBps int           // balance-delta verification band
	FundMaxAttempts    int           // per-tranche submission attempts
	BackoffInitial     time.Duration
	BackoffMax         time.Duration

	CooldownBase      time.Duration // minimum rest between uses of a wallet
	CooldownIncrement time.Duration // added per recorded trade, up to CooldownMaxScale
	CooldownMaxScale  int           // trade-count cap for cooldown scaling (default 20)
	RequireSeasoned   bool          // restrict selection to seasoned wallets

	PruneMaxAge time.Duration // cooldown entries older than this are dropped

	NamePrefix string // bootstrap wallet naming, e.g. "fleet" -> fleet-007
}

func (c Config) withDefaults() Config {
	if c.TargetCount <= 0 {
		c.TargetCount = 10
	}
	if c.MaxTranches <= 0 {
		c.MaxTranches = 4
	}
	if c.FundConcurrency <= 0 {
		c.FundConcurrency = 4
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.VerifyToleranceBps <= 0 {
		c.VerifyToleranceBps = 100
	}
	if c.FundMaxAttempts <= 0 {
		c.FundMaxAttempts = 3
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.CooldownMaxScale <= 0 {
		c.CooldownMaxScale = 20
	}
	if c.PruneMaxAge <= 0 {
		c.PruneMaxAge = 24 * time.Hour
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "fleet"
	}
	return c
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Wallets       int       `json:"wallets"`
	Seasoned      int       `json:"seasoned"`
	Eligible      int       `json:"eligible"`
	FundingActive int       `json:"funding_active"`
	LastFundPass  time.Time `json:"last_fund_pass,omitempty"`
}

// Manager owns the durable wallet roster: bootstrap, funding, batch
// selection, and usage bookkeeping. All methods are safe for concurrent
// use.
type Manager struct {
	cfg      Config
	client   chain.Client
	roster   store.Roster
	relayers []chain.Signer
	locks    *FundingLocks
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu           sync.Mutex
	wallets      []*model.Wallet
	byKey        map[string]*model.Wallet
	lastUsed     map[string]time.Time
	lastFundPass time.Time

	now func() time.Time
}

func New(cfg Config, client chain.Client, roster store.Roster, relayers []chain.Signer, rng *rand.Rand, logger *slog.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if roster == nil {
		return nil, fmt.Errorf("roster store is required")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		client:   client,
		roster:   roster,
		relayers: relayers,
		locks:    NewFundingLocks(),
		logger:   logger.With("component", "pool"),
		rng:      rng,
		byKey:    make(map[string]*model.Wallet),
		lastUsed: make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// LoadOrBootstrap restores the roster from the store and generates fresh
// wallets up to the configured target. A load failure is fatal: silently
// regenerating over an unreadable roster would orphan funded accounts.
func (m *Manager) LoadOrBootstrap(ctx context.Context) error {
	loaded, err := m.roster.Load(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.wallets = m.wallets[:0]
	m.byKey = make(map[string]*model.Wallet, len(loaded))
	for i := range loaded {
		w := loaded[i]
		if _, dup := m.byKey[w.PublicKey]; dup {
			m.logger.Warn("dropping duplicate roster entry", "pubkey", w.PublicKey, "name", w.Name)
			continue
		}
		m.wallets = append(m.wallets, &w)
		m.byKey[w.PublicKey] = &w
	}

	generated := 0
	for len(m.wallets) < m.cfg.TargetCount {
		name := fmt.Sprintf("%s-%03d", m.cfg.NamePrefix, len(m.wallets))
		w, err := wallet.Generate(name)
		if err != nil {
			return fmt.Errorf("bootstrap wallet %s: %w", name, err)
		}
		m.wallets = append(m.wallets, &w)
		m.byKey[w.PublicKey] = &w
		generated++
	}

	if generated > 0 || len(loaded) != len(m.wallets) {
		if err := m.saveLocked(ctx); err != nil {
			return fmt.Errorf("persist roster: %w", err)
		}
	}

	metrics.PoolWallets.Set(float64(len(m.wallets)))
	m.logger.Info("roster ready", "loaded", len(loaded), "generated", generated, "total", len(m.wallets))
	return nil
}

func (m *Manager) saveLocked(ctx context.Context) error {
	snapshot := make([]model.Wallet, len(m.wallets))
	for i, w := range m.wallets {
		snapshot[i] = *w
	}
	return m.roster.Save(ctx, snapshot)
}

// FundAll tops every wallet up to the target balance. Each wallet is
// funded under its funding lock; wallets another pass already owns are
// skipped, not waited on. Individual funding failures are logged and do
// not abort the pass.
func (m *Manager) FundAll(ctx context.Context) error {
	if len(m.relayers) == 0 {
		return fmt.Errorf("no relayers configured")
	}

	ctx, span := tracing.Tracer("pool").Start(ctx, "pool.FundAll")
	defer span.End()

	start := m.now()
	defer func() {
		metrics.FundingDuration.Observe(m.now().Sub(start).Seconds())
	}()

	m.mu.Lock()
	targets := make([]*model.Wallet, len(m.wallets))
	copy(targets, m.wallets)
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("pool.wallets", len(targets)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FundConcurrency)
	for _, w := range targets {
		w := w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.fundWallet(gctx, w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("funding pass interrupted: %w", err)
	}

	m.mu.Lock()
	m.lastFundPass = m.now()
	m.mu.Unlock()
	return nil
}

// FundWallet tops up a single wallet by public key.
func (m *Manager) FundWallet(ctx context.Context, pubkey string) error {
	if len(m.relayers) == 0 {
		return fmt.Errorf("no relayers configured")
	}
	m.mu.Lock()
	w, ok := m.byKey[pubkey]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("wallet %s not in roster", pubkey)
	}
	m.fundWallet(ctx, w)
	return nil
}

func (m *Manager) fundWallet(ctx context.Context, w *model.Wallet) {
	if !m.locks.TryAcquire(w.PublicKey) {
		m.logger.Debug("funding already in flight; skipping", "pubkey", w.PublicKey)
		metrics.FundingAttemptsTotal.WithLabelValues("skipped_locked").Inc()
		return
	}
	defer m.locks.Release(w.PublicKey)

	ctx, span := tracing.Tracer("pool").Start(ctx, "pool.fundWallet",
		trace.WithAttributes(attribute.String("wallet.pubkey", w.PublicKey)))
	defer span.End()

	balance, err := m.client.GetBalance(ctx, w.PublicKey)
	if err != nil {
		m.logger.Warn("balance check failed; skipping wallet", "pubkey", w.PublicKey, "error", err)
		metrics.FundingAttemptsTotal.WithLabelValues("balance_error").Inc()
		return
	}

	status := model.FundingStatusFor(balance, m.cfg.MinBalance)
	if status == model.FundingStatusFunded {
		metrics.FundingAttemptsTotal.WithLabelValues("already_funded").Inc()
		return
	}
	if balance >= m.cfg.TargetBalance {
		metrics.FundingAttemptsTotal.WithLabelValues("already_funded").Inc()
		return
	}
	deficit := m.cfg.TargetBalance - balance

	m.rngMu.Lock()
	tranches := wallet.TrancheCount(m.rng, m.cfg.MaxTranches)
	m.rngMu.Unlock()

	m.logger.Info("funding wallet",
		"pubkey", w.PublicKey,
		"name", w.Name,
		"status", string(status),
		"deficit", deficit,
		"tranches", tranches,
	)

	opts := funds.Options{
		ConfirmTimeout: m.cfg.ConfirmTimeout,
		ToleranceBps:   m.cfg.VerifyToleranceBps,
		MaxAttempts:    m.cfg.FundMaxAttempts,
		BackoffInitial: m.cfg.BackoffInitial,
		BackoffMax:     m.cfg.BackoffMax,
	}

	remaining := deficit
	delivered := 0
	for i := 0; i < tranches && remaining > 0; i++ {
		m.rngMu.Lock()
		amount := wallet.TrancheAmount(m.rng, remaining, tranches-i)
		relayer := wallet.Pick(m.rng, m.relayers)
		m.rngMu.Unlock()

		if err := funds.Send(ctx, m.client, relayer, w.PublicKey, amount, opts, m.logger); err != nil {
			metrics.FundingTranchesTotal.WithLabelValues("failed").Inc()
			m.logger.Warn("tranche delivery failed",
				"pubkey", w.PublicKey,
				"tranche", i+1,
				"of", tranches,
				"lamports", amount,
				"error", err,
			)
			if ctx.Err() != nil {
				metrics.FundingAttemptsTotal.WithLabelValues("canceled").Inc()
				return
			}
			continue
		}
		metrics.FundingTranchesTotal.WithLabelValues("delivered").Inc()
		remaining -= amount
		delivered++
	}

	switch {
	case delivered == 0:
		metrics.FundingAttemptsTotal.WithLabelValues("failed").Inc()
	case remaining > 0:
		metrics.FundingAttemptsTotal.WithLabelValues("partial").Inc()
	default:
		metrics.FundingAttemptsTotal.WithLabelValues("funded").Inc()
	}
}

// SelectBatch returns up to n wallets that are off cooldown, shuffled so
// selection order never correlates with roster order. The returned
// wallets are copies; usage bookkeeping goes through MarkUsed.
func (m *Manager) SelectBatch(n int) []model.Wallet {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	now := m.now()
	eligible := make([]model.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		if m.cfg.RequireSeasoned && !w.Seasoned {
			continue
		}
		if !m.cooldownElapsedLocked(w, now) {
			continue
		}
		eligible = append(eligible, *w)
	}
	m.mu.Unlock()

	m.rngMu.Lock()
	wallet.Shuffle(m.rng, eligible)
	m.rngMu.Unlock()

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	metrics.BatchWalletsSelected.Add(float64(len(eligible)))
	return eligible
}

// cooldownElapsedLocked applies the trade-count-scaled cooldown: heavily
// used wallets rest longer, capped at CooldownMaxScale trades.
func (m *Manager) cooldownElapsedLocked(w *model.Wallet, now time.Time) bool {
	last, used := m.lastUsed[w.PublicKey]
	if !used {
		return true
	}
	scale := w.TradeCount
	if scale > m.cfg.CooldownMaxScale {
		scale = m.cfg.CooldownMaxScale
	}
	cooldown := m.cfg.CooldownBase + time.Duration(scale)*m.cfg.CooldownIncrement
	return now.Sub(last) >= cooldown
}

// MarkUsed records a completed trade cycle for a wallet and starts its
// cooldown. Unknown wallets are ignored.
func (m *Manager) MarkUsed(pubkey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byKey[pubkey]
	if !ok {
		return
	}
	now := m.now()
	w.TradeCount++
	w.LastUsed = now
	m.lastUsed[pubkey] = now
}

// Prune drops cooldown entries that have not been touched within the
// retention window, bounding the map for wallets that leave the roster.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.cfg.PruneMaxAge)
	pruned := 0
	for key, last := range m.lastUsed {
		if last.Before(cutoff) {
			delete(m.lastUsed, key)
			pruned++
		}
	}
	if pruned > 0 {
		m.logger.Debug("pruned cooldown entries", "count", pruned)
	}
	return pruned
}

// Wallets returns a copy of the roster.
func (m *Manager) Wallets() []model.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Wallet, len(m.wallets))
	for i, w := range m.wallets {
		out[i] = *w
	}
	return out
}

// Save persists the current roster, including usage bookkeeping.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ctx)
}

// Stats snapshots the pool for the admin surface.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := Stats{
		Wallets:       len(m.wallets),
		FundingActive: m.locks.InFlight(),
		LastFundPass:  m.lastFundPass,
	}
	for _, w := range m.wallets {
		if w.Seasoned {
			s.Seasoned++
		}
		if m.cfg.RequireSeasoned && !w.Seasoned {
			continue
		}
		if m.cooldownElapsedLocked(w, now) {
			s.Eligible++
		}
	}
	return s
}
