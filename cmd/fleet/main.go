package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/emberlane/walletfleet/internal/admin"
	"github.com/emberlane/walletfleet/internal/alert"
	"github.com/emberlane/walletfleet/internal/burner"
	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/chain/ratelimit"
	"github.com/emberlane/walletfleet/internal/chain/solana"
	solanarpc "github.com/emberlane/walletfleet/internal/chain/solana/rpc"
	"github.com/emberlane/walletfleet/internal/config"
	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/orchestrator"
	"github.com/emberlane/walletfleet/internal/pool"
	"github.com/emberlane/walletfleet/internal/rebalance"
	"github.com/emberlane/walletfleet/internal/safety"
	"github.com/emberlane/walletfleet/internal/store"
	"github.com/emberlane/walletfleet/internal/store/file"
	"github.com/emberlane/walletfleet/internal/store/postgres"
	redisstore "github.com/emberlane/walletfleet/internal/store/redis"
	"github.com/emberlane/walletfleet/internal/tracing"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// dryRunStrategy is the built-in cycle used until a real trading strategy
// is linked in: it probes the wallet's balance and succeeds when the wallet
// is operable. The full outcome path (breaker, journal, cooldowns) runs
// against it.
type dryRunStrategy struct {
	client chain.Client
	floor  uint64
}

func (d *dryRunStrategy) Execute(ctx context.Context, w model.Wallet) (bool, error) {
	balance, err := d.client.GetBalance(ctx, w.PublicKey)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", w.PublicKey, err)
	}
	return balance >= d.floor, nil
}

// burnerSource adapts the burner pool to the orchestrator's wallet source
// so a run can rotate over ephemeral wallets instead of the durable roster.
type burnerSource struct {
	m *burner.Manager
}

func (s *burnerSource) SelectBatch(n int) []model.Wallet {
	burners := s.m.AvailableBurners(n, false)
	out := make([]model.Wallet, len(burners))
	for i, b := range burners {
		out[i] = model.Wallet{PublicKey: b.PublicKey, PrivateKey: b.PrivateKey, Name: "burner"}
	}
	return out
}

func (s *burnerSource) MarkUsed(pubkey string) {
	s.m.MarkUsed(pubkey, 1)
}

func parseSigners(secrets []string) ([]chain.Signer, error) {
	signers := make([]chain.Signer, 0, len(secrets))
	for i, secret := range secrets {
		priv, pub, err := wallet.DecodeSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("relayer secret %d: %w", i+1, err)
		}
		signers = append(signers, chain.Signer{PublicKey: pub, PrivateKey: priv})
	}
	return signers, nil
}

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting walletfleet",
		"rpc", cfg.RPC.URL,
		"roster_backend", cfg.Store.Backend,
		"pool_target", cfg.Pool.TargetCount,
		"burners_enabled", cfg.Burner.Enabled,
		"batch_size", cfg.Run.BatchSize,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "walletfleet", cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	seed := cfg.Run.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	relayers, err := parseSigners(cfg.Pool.RelayerSecrets)
	if err != nil {
		logger.Error("failed to parse relayer secrets", "error", err)
		os.Exit(1)
	}

	// Chain client: rate-limited JSON-RPC behind the transfer adapter.
	limiter := ratelimit.NewLimiter(cfg.RPC.RequestsPerSec, cfg.RPC.Burst)
	rpcClient := solanarpc.NewClient(cfg.RPC.URL, limiter, logger)
	chainClient := solana.NewAdapter(rpcClient, logger)

	// Roster backend.
	var roster store.Roster
	switch cfg.Store.Backend {
	case "postgres":
		db, err := postgres.New(postgres.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo := postgres.NewRosterRepo(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		roster = repo
		logger.Info("connected to database")
	default:
		roster = file.NewRoster(cfg.Store.RosterPath)
	}

	// Outcome journal.
	var journal orchestrator.Journal = orchestrator.NopJournal{}
	if cfg.Redis.URL != "" {
		j, err := redisstore.NewJournal(cfg.Redis.URL, cfg.Redis.JournalStream)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer j.Close()
		journal = j
		logger.Info("journal connected", "stream", cfg.Redis.JournalStream)
	}

	// Alert channels. Without any configured URL the noop alerter keeps
	// call sites unconditional.
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	var alerter alert.Alerter = &alert.NoopAlerter{}
	if len(channels) > 0 {
		alerter = alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
	}

	poolMgr, err := pool.New(pool.Config{
		TargetCount:        cfg.Pool.TargetCount,
		TargetBalance:      cfg.Pool.TargetBalance,
		MinBalance:         cfg.Pool.MinBalance,
		MaxTranches:        cfg.Pool.MaxTranches,
		FundConcurrency:    cfg.Pool.FundConcurrency,
		ConfirmTimeout:     cfg.Pool.ConfirmTimeout,
		VerifyToleranceBps: cfg.Pool.VerifyToleranceBps,
		FundMaxAttempts:    cfg.Pool.FundMaxAttempts,
		BackoffInitial:     cfg.Pool.BackoffInitial,
		BackoffMax:         cfg.Pool.BackoffMax,
		CooldownBase:       cfg.Pool.CooldownBase,
		CooldownIncrement:  cfg.Pool.CooldownIncrement,
		CooldownMaxScale:   cfg.Pool.CooldownMaxScale,
		RequireSeasoned:    cfg.Pool.RequireSeasoned,
		PruneMaxAge:        cfg.Pool.PruneMaxAge,
		NamePrefix:         cfg.Pool.NamePrefix,
	}, chainClient, roster, relayers, rng, logger)
	if err != nil {
		logger.Error("failed to build pool manager", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := poolMgr.LoadOrBootstrap(ctx); err != nil {
		logger.Error("roster load failed", "error", err)
		os.Exit(1)
	}
	if err := poolMgr.FundAll(ctx); err != nil {
		logger.Error("initial funding pass failed", "error", err)
		os.Exit(1)
	}

	// Drawdown watches the first relayer unless an address is pinned.
	watchAddress := cfg.Breaker.WatchAddress
	if watchAddress == "" {
		watchAddress = relayers[0].PublicKey
	}
	breaker := safety.New(safety.Config{
		MaxConsecutiveFailures: cfg.Breaker.MaxConsecutiveFailures,
		WindowSize:             cfg.Breaker.WindowSize,
		MaxFailureRateBps:      cfg.Breaker.MaxFailureRateBps,
		MaxDrawdownBps:         cfg.Breaker.MaxDrawdownBps,
		BalanceCheckEvery:      cfg.Breaker.BalanceCheckEvery,
	}, func(ctx context.Context) (uint64, error) {
		return chainClient.GetBalance(ctx, watchAddress)
	}, logger)
	if err := breaker.CaptureBaseline(ctx); err != nil {
		logger.Error("failed to capture baseline balance", "error", err)
		os.Exit(1)
	}

	var burnerMgr *burner.Manager
	if cfg.Burner.Enabled {
		burnerRelayers := relayers
		if len(cfg.Burner.RelayerSecrets) > 0 {
			burnerRelayers, err = parseSigners(cfg.Burner.RelayerSecrets)
			if err != nil {
				logger.Error("failed to parse burner relayer secrets", "error", err)
				os.Exit(1)
			}
		}
		gate := safety.NewCreationGate(safety.GateConfig{
			FailureThreshold: cfg.Burner.GateFailures,
			PauseFor:         cfg.Burner.GatePause,
			OnPause: func(failures int) {
				logger.Warn("burner creation gate paused", "failures", failures)
				alertCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = alerter.Send(alertCtx, alert.Alert{
					Type:      alert.AlertTypeCreationPaused,
					Component: "burner",
					Title:     "burner creation paused",
					Message:   "consecutive funding failures paused burner creation",
					Fields:    map[string]string{"failures": strconv.Itoa(failures)},
				})
			},
		})
		burnerMgr, err = burner.New(burner.Config{
			TargetPool:         cfg.Burner.TargetPool,
			MaxCreatePerSweep:  cfg.Burner.MaxCreatePerSweep,
			FundAmount:         cfg.Burner.FundAmount,
			TxCap:              cfg.Burner.TxCap,
			SeasonMinTx:        cfg.Burner.SeasonMinTx,
			RequireSeasoned:    cfg.Burner.RequireSeasoned,
			Cooldown:           cfg.Burner.Cooldown,
			DisposeDelay:       cfg.Burner.DisposeDelay,
			MinRetained:        cfg.Burner.MinRetained,
			Dust:               cfg.Burner.Dust,
			AvailableRatioBps:  cfg.Burner.AvailableRatioBps,
			EmergencyRatioBps:  cfg.Burner.EmergencyRatioBps,
			ConfirmTimeout:     cfg.Pool.ConfirmTimeout,
			VerifyToleranceBps: cfg.Pool.VerifyToleranceBps,
			BackoffInitial:     cfg.Pool.BackoffInitial,
			BackoffMax:         cfg.Pool.BackoffMax,
			CreatePerSec:       cfg.Burner.CreatePerSec,
		}, chainClient, burnerRelayers, cfg.Run.SinkAddress, gate, rng, logger)
		if err != nil {
			logger.Error("failed to build burner manager", "error", err)
			os.Exit(1)
		}
	}

	rebalancer, err := rebalance.New(rebalance.Config{
		Target:             cfg.Rebalance.Target,
		Floor:              cfg.Rebalance.Floor,
		Dust:               cfg.Rebalance.Dust,
		RetentionMaxBps:    cfg.Rebalance.RetentionMaxBps,
		ConfirmTimeout:     cfg.Pool.ConfirmTimeout,
		VerifyToleranceBps: cfg.Pool.VerifyToleranceBps,
		BackoffInitial:     cfg.Pool.BackoffInitial,
		BackoffMax:         cfg.Pool.BackoffMax,
	}, chainClient, cfg.Run.SinkAddress, rng, logger)
	if err != nil {
		logger.Error("failed to build rebalancer", "error", err)
		os.Exit(1)
	}

	var disposer orchestrator.Disposer
	var source orchestrator.WalletSource = poolMgr
	if burnerMgr != nil {
		disposer = burnerMgr
		if cfg.Run.UseBurners {
			source = &burnerSource{m: burnerMgr}
		}
	}
	orch, err := orchestrator.New(orchestrator.Config{
		BatchSize:   cfg.Run.BatchSize,
		Interval:    cfg.Run.Interval,
		Concurrency: cfg.Run.Concurrency,
	}, source, &dryRunStrategy{client: chainClient, floor: cfg.Pool.MinBalance}, breaker, disposer, journal, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	// Maintenance jobs on cron schedules.
	jobs := cron.New()
	schedule := func(spec, name string, fn func()) {
		if _, err := jobs.AddFunc(spec, fn); err != nil {
			logger.Error("invalid cron schedule", "job", name, "spec", spec, "error", err)
			os.Exit(1)
		}
	}
	schedule(cfg.Pool.FundCron, "fund", func() {
		if err := poolMgr.FundAll(ctx); err != nil {
			logger.Warn("scheduled funding pass failed", "error", err)
		}
	})
	schedule(cfg.Pool.PruneCron, "prune", func() { poolMgr.Prune() })
	schedule(cfg.Rebalance.Cron, "rebalance", func() {
		batch := poolMgr.Wallets()
		rebalancer.Rebalance(ctx, batch)
	})
	if burnerMgr != nil {
		schedule(cfg.Burner.EnsureCron, "burner_ensure", func() {
			if err := burnerMgr.EnsureMinimum(ctx); err != nil {
				logger.Warn("burner replenishment failed", "error", err)
			}
		})
		schedule(cfg.Burner.DisposeCron, "burner_dispose", func() { burnerMgr.DisposeDue(ctx) })
	}
	jobs.Start()
	defer jobs.Stop()

	// Admin surface.
	adminOpts := []admin.ServerOption{}
	if burnerMgr != nil {
		adminOpts = append(adminOpts, admin.WithBurners(burnerMgr))
	}
	adminSrv := admin.NewServer(poolMgr, breaker, logger, adminOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runAdminServer(gctx, cfg.Server.HealthPort, adminSrv.Handler(), logger)
	})
	g.Go(func() error {
		return orch.Run(gctx)
	})

	err = g.Wait()
	tripped := errors.Is(err, safety.ErrTripped)
	if err != nil && !errors.Is(err, context.Canceled) && !tripped {
		logger.Error("run failed", "error", err)
	}

	// Shutdown: drain burners and persist usage bookkeeping. The run
	// context is already done, so cleanup gets its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if tripped {
		_, reason := breaker.Tripped()
		_ = alerter.Send(cleanupCtx, alert.Alert{
			Type:      alert.AlertTypeBreakerTrip,
			Component: "breaker",
			Title:     "circuit breaker tripped",
			Message:   "trading halted and burners disposed",
			Fields:    map[string]string{"reason": string(reason)},
		})
	}
	if burnerMgr != nil && !tripped {
		// On a trip the orchestrator already disposed them.
		disposed := burnerMgr.EmergencyDisposeAll(cleanupCtx)
		logger.Info("burners disposed on shutdown", "count", disposed)
	}
	if err := poolMgr.Save(cleanupCtx); err != nil {
		logger.Warn("failed to persist roster on shutdown", "error", err)
	}

	if tripped {
		logger.Error("walletfleet halted by circuit breaker")
		os.Exit(1)
	}
	logger.Info("walletfleet stopped")
}

func runAdminServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
