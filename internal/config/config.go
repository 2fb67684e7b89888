package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPC       RPCConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Pool      PoolConfig
	Burner    BurnerConfig
	Breaker   BreakerConfig
	Rebalance RebalanceConfig
	Run       RunConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
	Alert     AlertConfig
}

type RPCConfig struct {
	URL            string
	RequestsPerSec float64
	Burst          int
}

// StoreConfig selects the roster backend: "file" keeps a local YAML
// roster, "postgres" uses the database from DBConfig.
type StoreConfig struct {
	Backend    string
	RosterPath string
}

type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL           string
	JournalStream string
}

type PoolConfig struct {
	TargetCount        int
	TargetBalance      uint64
	MinBalance         uint64
	MaxTranches        int
	FundConcurrency    int
	ConfirmTimeout     time.Duration
	VerifyToleranceBps int
	FundMaxAttempts    int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	CooldownBase       time.Duration
	CooldownIncrement  time.Duration
	CooldownMaxScale   int
	RequireSeasoned    bool
	PruneMaxAge        time.Duration
	NamePrefix         string
	RelayerSecrets     []string
	FundCron           string
	PruneCron          string
}

type BurnerConfig struct {
	Enabled           bool
	TargetPool        int
	MaxCreatePerSweep int
	FundAmount        uint64
	TxCap             int
	SeasonMinTx       int
	RequireSeasoned   bool
	Cooldown          time.Duration
	DisposeDelay      time.Duration
	MinRetained       uint64
	Dust              uint64
	AvailableRatioBps int
	EmergencyRatioBps int
	GateFailures      int
	GatePause         time.Duration
	CreatePerSec      float64
	RelayerSecrets    []string
	EnsureCron        string
	DisposeCron       string
}

type BreakerConfig struct {
	MaxConsecutiveFailures int
	WindowSize             int
	MaxFailureRateBps      int
	MaxDrawdownBps         int
	BalanceCheckEvery      int
	WatchAddress           string
}

type RebalanceConfig struct {
	Target          uint64
	Floor           uint64
	Dust            uint64
	RetentionMaxBps int
	Cron            string
}

type RunConfig struct {
	BatchSize   int
	Interval    time.Duration
	Concurrency int
	UseBurners  bool
	SinkAddress string
	Seed        int64 // 0 seeds from the clock
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		RPC: RPCConfig{
			URL:            getEnv("RPC_URL", "https://api.devnet.solana.com"),
			RequestsPerSec: getEnvFloat("RPC_RPS", 10),
			Burst:          getEnvInt("RPC_BURST", 20),
		},
		Store: StoreConfig{
			Backend:    getEnv("ROSTER_BACKEND", "file"),
			RosterPath: getEnv("ROSTER_PATH", "data/roster.yaml"),
		},
		DB: DBConfig{
			URL:             getEnv("DB_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			JournalStream: getEnv("JOURNAL_STREAM", "fleet:journal"),
		},
		Pool: PoolConfig{
			TargetCount:        getEnvInt("POOL_TARGET_COUNT", 10),
			TargetBalance:      getEnvUint64("POOL_TARGET_BALANCE_LAMPORTS", 50_000_000),
			MinBalance:         getEnvUint64("POOL_MIN_BALANCE_LAMPORTS", 20_000_000),
			MaxTranches:        getEnvInt("POOL_MAX_TRANCHES", 4),
			FundConcurrency:    getEnvInt("POOL_FUND_CONCURRENCY", 4),
			ConfirmTimeout:     time.Duration(getEnvInt("FUND_CONFIRM_TIMEOUT_SEC", 30)) * time.Second,
			VerifyToleranceBps: getEnvInt("FUND_VERIFY_TOLERANCE_BPS", 100),
			FundMaxAttempts:    getEnvInt("FUND_MAX_ATTEMPTS", 3),
			BackoffInitial:     time.Duration(getEnvInt("FUND_BACKOFF_INITIAL_MS", 500)) * time.Millisecond,
			BackoffMax:         time.Duration(getEnvInt("FUND_BACKOFF_MAX_MS", 8000)) * time.Millisecond,
			CooldownBase:       time.Duration(getEnvInt("POOL_COOLDOWN_BASE_SEC", 30)) * time.Second,
			CooldownIncrement:  time.Duration(getEnvInt("POOL_COOLDOWN_INCREMENT_SEC", 5)) * time.Second,
			CooldownMaxScale:   getEnvInt("POOL_COOLDOWN_MAX_SCALE", 20),
			RequireSeasoned:    getEnvBool("POOL_REQUIRE_SEASONED", false),
			PruneMaxAge:        time.Duration(getEnvInt("POOL_PRUNE_MAX_AGE_MIN", 1440)) * time.Minute,
			NamePrefix:         getEnv("POOL_NAME_PREFIX", "fleet"),
			RelayerSecrets:     getEnvList("RELAYER_SECRETS"),
			FundCron:           getEnv("POOL_FUND_CRON", "@every 5m"),
			PruneCron:          getEnv("POOL_PRUNE_CRON", "@every 1h"),
		},
		Burner: BurnerConfig{
			Enabled:           getEnvBool("BURNER_ENABLED", false),
			TargetPool:        getEnvInt("BURNER_TARGET_POOL", 5),
			MaxCreatePerSweep: getEnvInt("BURNER_MAX_CREATE_PER_SWEEP", 3),
			FundAmount:        getEnvUint64("BURNER_FUND_LAMPORTS", 10_000_000),
			TxCap:             getEnvInt("BURNER_TX_CAP", 50),
			SeasonMinTx:       getEnvInt("BURNER_SEASON_MIN_TX", 5),
			RequireSeasoned:   getEnvBool("BURNER_REQUIRE_SEASONED", false),
			Cooldown:          time.Duration(getEnvInt("BURNER_COOLDOWN_SEC", 20)) * time.Second,
			DisposeDelay:      time.Duration(getEnvInt("BURNER_DISPOSE_DELAY_SEC", 120)) * time.Second,
			MinRetained:       getEnvUint64("BURNER_MIN_RETAINED_LAMPORTS", 890_880),
			Dust:              getEnvUint64("BURNER_DUST_LAMPORTS", 10_000),
			AvailableRatioBps: getEnvInt("BURNER_AVAILABLE_RATIO_BPS", 5000),
			EmergencyRatioBps: getEnvInt("BURNER_EMERGENCY_RATIO_BPS", 8000),
			GateFailures:      getEnvInt("BURNER_GATE_FAILURES", 5),
			GatePause:         time.Duration(getEnvInt("BURNER_GATE_PAUSE_SEC", 300)) * time.Second,
			CreatePerSec:      getEnvFloat("BURNER_CREATE_RPS", 0.5),
			RelayerSecrets:    getEnvList("BURNER_RELAYER_SECRETS"),
			EnsureCron:        getEnv("BURNER_ENSURE_CRON", "@every 1m"),
			DisposeCron:       getEnv("BURNER_DISPOSE_CRON", "@every 30s"),
		},
		Breaker: BreakerConfig{
			MaxConsecutiveFailures: getEnvInt("BREAKER_MAX_CONSECUTIVE_FAILURES", 5),
			WindowSize:             getEnvInt("BREAKER_WINDOW_SIZE", 20),
			MaxFailureRateBps:      getEnvInt("BREAKER_MAX_FAILURE_RATE_BPS", 5000),
			MaxDrawdownBps:         getEnvInt("BREAKER_MAX_DRAWDOWN_BPS", 2000),
			BalanceCheckEvery:      getEnvInt("BREAKER_BALANCE_CHECK_EVERY", 10),
			WatchAddress:           getEnv("BREAKER_WATCH_ADDRESS", ""),
		},
		Rebalance: RebalanceConfig{
			Target:          getEnvUint64("REBALANCE_TARGET_LAMPORTS", 50_000_000),
			Floor:           getEnvUint64("REBALANCE_FLOOR_LAMPORTS", 20_000_000),
			Dust:            getEnvUint64("REBALANCE_DUST_LAMPORTS", 10_000),
			RetentionMaxBps: getEnvInt("REBALANCE_RETENTION_MAX_BPS", 1000),
			Cron:            getEnv("REBALANCE_CRON", "@every 10m"),
		},
		Run: RunConfig{
			BatchSize:   getEnvInt("BATCH_SIZE", 3),
			Interval:    time.Duration(getEnvInt("TRADE_INTERVAL_MS", 15000)) * time.Millisecond,
			Concurrency: getEnvInt("TRADE_CONCURRENCY", 2),
			UseBurners:  getEnvBool("USE_BURNERS", false),
			SinkAddress: getEnv("SINK_ADDRESS", ""),
			Seed:        int64(getEnvInt("RNG_SEED", 0)),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.RosterPath == "" {
			return fmt.Errorf("ROSTER_PATH is required for the file backend")
		}
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("DB_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ROSTER_BACKEND %q (want file or postgres)", c.Store.Backend)
	}
	if len(c.Pool.RelayerSecrets) == 0 {
		return fmt.Errorf("RELAYER_SECRETS is required")
	}
	if c.Rebalance.Floor > c.Rebalance.Target {
		return fmt.Errorf("REBALANCE_FLOOR_LAMPORTS exceeds REBALANCE_TARGET_LAMPORTS")
	}
	if c.Burner.Enabled {
		if c.Run.SinkAddress == "" {
			return fmt.Errorf("SINK_ADDRESS is required when burners are enabled")
		}
		if len(c.Burner.RelayerSecrets) == 0 && len(c.Pool.RelayerSecrets) == 0 {
			return fmt.Errorf("BURNER_RELAYER_SECRETS is required when burners are enabled")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
