package burner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/funds"
	"github.com/emberlane/walletfleet/internal/metrics"
	"github.com/emberlane/walletfleet/internal/safety"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// Config tunes the burner manager. Zero values fall back to defaults in New.
type Config struct {
	TargetPool        int    // active burners maintained by EnsureMinimum
	MaxCreatePerSweep int    // creation cap per EnsureMinimum invocation (default 3)
	FundAmount        uint64 // lamports placed on each new burner
	TxCap             int    // lifetime transactions before disposal (default 50)

	SeasonMinTx     int  // transactions before a burner counts as seasoned
	RequireSeasoned bool // restrict AvailableBurners to seasoned burners

	Cooldown     time.Duration // rest between uses of one burner
	DisposeDelay time.Duration // wait between cap and sweep, breaks timing correlation
	MinRetained  uint64        // lamports left behind on sweep (rent floor)
	Dust         uint64        // below this a sweep is not worth a transaction

	AvailableRatioBps int // share of a request AvailableBurners may satisfy (default 5000)
	EmergencyRatioBps int // raised share under the emergency flag (default 8000)

	ConfirmTimeout     time.Duration
	VerifyToleranceBps int
	FundMaxAttempts    int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration

	CreatePerSec float64 // creation rate limit (default 0.5/s)
	CreateBurst  int
}

func (c Config) withDefaults() Config {
	if c.TargetPool <= 0 {
		c.TargetPool = 5
	}
	if c.MaxCreatePerSweep <= 0 {
		c.MaxCreatePerSweep = 3
	}
	if c.TxCap <= 0 {
		c.TxCap = 50
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 20 * time.Second
	}
	if c.DisposeDelay <= 0 {
		c.DisposeDelay = 2 * time.Minute
	}
	if c.AvailableRatioBps <= 0 {
		c.AvailableRatioBps = 5_000
	}
	if c.EmergencyRatioBps <= 0 {
		c.EmergencyRatioBps = 8_000
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.FundMaxAttempts <= 0 {
		c.FundMaxAttempts = 2
	}
	if c.CreatePerSec <= 0 {
		c.CreatePerSec = 0.5
	}
	if c.CreateBurst <= 0 {
		c.CreateBurst = 1
	}
	return c
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Active          int       `json:"active"`
	PendingDisposal int       `json:"pending_disposal"`
	CreatedTotal    int       `json:"created_total"`
	DisposedTotal   int       `json:"disposed_total"`
	GatePausedUntil time.Time `json:"gate_paused_until,omitempty"`
}

// Manager owns the ephemeral burner pool: creation behind a local circuit
// breaker, ratio-capped handout, lifetime caps, and sweep-to-sink
// disposal. Burners never touch the durable roster store; the pool is
// bounded to the lifetime of the process.
type Manager struct {
	cfg      Config
	client   chain.Client
	relayers []chain.Signer
	sink     string
	gate     *safety.CreationGate
	limiter  *rate.Limiter
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu            sync.Mutex
	burners       map[string]*model.BurnerWallet
	createdTotal  int
	disposedTotal int

	now func() time.Time
}

func New(cfg Config, client chain.Client, relayers []chain.Signer, sink string, gate *safety.CreationGate, rng *rand.Rand, logger *slog.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if sink == "" {
		return nil, fmt.Errorf("disposal sink address is required")
	}
	if gate == nil {
		gate = safety.NewCreationGate(safety.GateConfig{})
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		client:   client,
		relayers: relayers,
		sink:     sink,
		gate:     gate,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CreatePerSec), cfg.CreateBurst),
		logger:   logger.With("component", "burner"),
		rng:      rng,
		burners:  make(map[string]*model.BurnerWallet),
		now:      time.Now,
	}, nil
}

// EnsureMinimum creates and funds burners until the active pool reaches its
// target, bounded per invocation and rate-limited so replenishment never
// bursts. A funding failure removes the half-created burner immediately and
// feeds the creation gate.
func (m *Manager) EnsureMinimum(ctx context.Context) error {
	if len(m.relayers) == 0 {
		m.logger.Warn("no burner relayers configured; skipping replenishment")
		return nil
	}

	m.mu.Lock()
	deficit := m.cfg.TargetPool - m.activeCountLocked()
	m.mu.Unlock()

	if deficit <= 0 {
		return nil
	}
	toCreate := deficit
	if toCreate > m.cfg.MaxCreatePerSweep {
		toCreate = m.cfg.MaxCreatePerSweep
	}

	for i := 0; i < toCreate; i++ {
		if err := m.gate.Allow(); err != nil {
			m.logger.Warn("burner creation paused", "until", m.gate.PausedUntil())
			return nil
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := m.createOne(ctx); err != nil {
			m.logger.Warn("burner creation failed", "error", err)
		}
	}
	return nil
}

func (m *Manager) createOne(ctx context.Context) error {
	b, err := wallet.GenerateBurner()
	if err != nil {
		return fmt.Errorf("generate burner: %w", err)
	}
	b.CreatedAt = m.now()
	b.State = model.BurnerFunding

	m.mu.Lock()
	m.burners[b.PublicKey] = b
	m.mu.Unlock()

	m.rngMu.Lock()
	relayer := wallet.Pick(m.rng, m.relayers)
	m.rngMu.Unlock()

	opts := funds.Options{
		ConfirmTimeout: m.cfg.ConfirmTimeout,
		ToleranceBps:   m.cfg.VerifyToleranceBps,
		MaxAttempts:    m.cfg.FundMaxAttempts,
		BackoffInitial: m.cfg.BackoffInitial,
		BackoffMax:     m.cfg.BackoffMax,
	}
	if err := funds.Send(ctx, m.client, relayer, b.PublicKey, m.cfg.FundAmount, opts, m.logger); err != nil {
		// A burner that never funded never existed: remove it so it can
		// never be handed out.
		m.mu.Lock()
		delete(m.burners, b.PublicKey)
		m.mu.Unlock()
		m.gate.RecordFailure()
		metrics.BurnerCreationFailuresTotal.Inc()
		return fmt.Errorf("fund burner %s: %w", b.PublicKey, err)
	}

	m.mu.Lock()
	b.State = model.BurnerActive
	m.createdTotal++
	active := m.activeCountLocked()
	m.mu.Unlock()

	m.gate.RecordSuccess()
	metrics.BurnersCreatedTotal.Inc()
	metrics.BurnersActive.Set(float64(active))
	m.logger.Info("burner created", "pubkey", b.PublicKey, "lamports", m.cfg.FundAmount, "active", active)
	return nil
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, b := range m.burners {
		if b.State == model.BurnerActive || b.State == model.BurnerFunding {
			n++
		}
	}
	return n
}

// AvailableBurners returns up to a ratio-capped share of the requested
// count. The cap keeps any single cycle from draining the whole burner
// pool; the emergency flag raises the share without ever removing it.
func (m *Manager) AvailableBurners(n int, emergency bool) []model.BurnerWallet {
	if n <= 0 {
		return nil
	}

	ratioBps := m.cfg.AvailableRatioBps
	if emergency {
		ratioBps = m.cfg.EmergencyRatioBps
	}
	// Ceiling so a request for one burner is never rounded to zero.
	maxReturned := (n*ratioBps + 9_999) / 10_000
	if maxReturned < 1 {
		maxReturned = 1
	}

	m.mu.Lock()
	now := m.now()
	eligible := make([]model.BurnerWallet, 0, len(m.burners))
	for _, b := range m.burners {
		if b.State != model.BurnerActive {
			continue
		}
		if b.TxCount >= m.cfg.TxCap {
			continue
		}
		if m.cfg.RequireSeasoned && b.SeasonTxCount < m.cfg.SeasonMinTx {
			continue
		}
		if !b.LastUsed.IsZero() && now.Sub(b.LastUsed) < m.cfg.Cooldown {
			continue
		}
		eligible = append(eligible, *b)
	}
	m.mu.Unlock()

	m.rngMu.Lock()
	wallet.Shuffle(m.rng, eligible)
	m.rngMu.Unlock()

	if len(eligible) > maxReturned {
		eligible = eligible[:maxReturned]
	}
	return eligible
}

// MarkUsed records completed transactions for a burner. Reaching the
// lifetime cap moves it to pending disposal with a randomized-delay sweep
// time; it is never handed out again.
func (m *Manager) MarkUsed(pubkey string, txCount int) {
	if txCount <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.burners[pubkey]
	if !ok {
		return
	}
	b.TxCount += txCount
	b.SeasonTxCount += txCount
	b.LastUsed = m.now()

	if b.TxCount >= m.cfg.TxCap && b.State == model.BurnerActive {
		b.State = model.BurnerPendingDisposal
		b.DisposeAfter = m.now().Add(m.cfg.DisposeDelay)
		m.logger.Info("burner reached lifetime cap",
			"pubkey", pubkey,
			"tx_count", b.TxCount,
			"dispose_after", b.DisposeAfter,
		)
	}
	metrics.BurnersActive.Set(float64(m.activeCountLocked()))
}

// DisposeDue sweeps every pending burner whose delay has passed: residual
// balance above the retained floor goes to the sink, then the record is
// dropped. Sweep failures are logged; the burner is removed regardless so
// a dead account cannot pin the pool.
func (m *Manager) DisposeDue(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	due := make([]*model.BurnerWallet, 0)
	for _, b := range m.burners {
		if b.State == model.BurnerPendingDisposal && !now.Before(b.DisposeAfter) {
			due = append(due, b)
		}
	}
	m.mu.Unlock()

	disposed := 0
	for _, b := range due {
		if ctx.Err() != nil {
			break
		}
		m.sweep(ctx, b)
		m.remove(b.PublicKey)
		metrics.BurnersDisposedTotal.WithLabelValues("scheduled").Inc()
		disposed++
	}
	return disposed
}

// EmergencyDisposeAll sweeps every tracked burner immediately, regardless
// of state or delay. Best effort: every burner is attempted even when some
// sweeps fail, and all records are dropped afterwards.
func (m *Manager) EmergencyDisposeAll(ctx context.Context) int {
	m.mu.Lock()
	all := make([]*model.BurnerWallet, 0, len(m.burners))
	for _, b := range m.burners {
		all = append(all, b)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, b := range all {
		b := b
		g.Go(func() error {
			m.sweep(gctx, b)
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range all {
		m.remove(b.PublicKey)
		metrics.BurnersDisposedTotal.WithLabelValues("emergency").Inc()
	}
	if len(all) > 0 {
		m.logger.Info("emergency disposal complete", "burners", len(all))
	}
	return len(all)
}

// sweep drains a burner's balance above the retained floor into the sink.
func (m *Manager) sweep(ctx context.Context, b *model.BurnerWallet) {
	balance, err := m.client.GetBalance(ctx, b.PublicKey)
	if err != nil {
		m.logger.Warn("sweep balance check failed", "pubkey", b.PublicKey, "error", err)
		return
	}
	if balance <= m.cfg.MinRetained {
		return
	}
	amount := balance - m.cfg.MinRetained
	if amount <= m.cfg.Dust {
		return
	}

	signer := chain.Signer{PublicKey: b.PublicKey, PrivateKey: b.PrivateKey}
	opts := funds.Options{
		ConfirmTimeout: m.cfg.ConfirmTimeout,
		ToleranceBps:   m.cfg.VerifyToleranceBps,
		MaxAttempts:    2,
		BackoffInitial: m.cfg.BackoffInitial,
		BackoffMax:     m.cfg.BackoffMax,
	}
	if err := funds.Send(ctx, m.client, signer, m.sink, amount, opts, m.logger); err != nil {
		m.logger.Warn("sweep transfer failed", "pubkey", b.PublicKey, "lamports", amount, "error", err)
		return
	}
	m.logger.Info("burner swept", "pubkey", b.PublicKey, "lamports", amount)
}

func (m *Manager) remove(pubkey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.burners[pubkey]; !ok {
		return
	}
	delete(m.burners, pubkey)
	m.disposedTotal++
	metrics.BurnersActive.Set(float64(m.activeCountLocked()))
}

// Stats snapshots the burner pool for the admin surface.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		CreatedTotal:    m.createdTotal,
		DisposedTotal:   m.disposedTotal,
		GatePausedUntil: m.gate.PausedUntil(),
	}
	for _, b := range m.burners {
		switch b.State {
		case model.BurnerActive, model.BurnerFunding:
			s.Active++
		case model.BurnerPendingDisposal:
			s.PendingDisposal++
		}
	}
	return s
}
