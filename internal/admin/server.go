package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberlane/walletfleet/internal/burner"
	"github.com/emberlane/walletfleet/internal/pool"
	"github.com/emberlane/walletfleet/internal/safety"
)

// PoolAdmin is the slice of the pool manager the admin API needs.
type PoolAdmin interface {
	FundAll(ctx context.Context) error
	Stats() pool.Stats
}

// BurnerAdmin is the slice of the burner manager the admin API needs. It
// is nil when burners are disabled.
type BurnerAdmin interface {
	EmergencyDisposeAll(ctx context.Context) int
	Stats() burner.Stats
}

// BreakerStatus exposes the run-level circuit breaker state.
type BreakerStatus interface {
	Tripped() (bool, safety.TripReason)
}

// Server is the operational HTTP surface: health, stats, metrics, and a
// small set of rate-limited, audited mutating endpoints.
type Server struct {
	pool    PoolAdmin
	burners BurnerAdmin
	breaker BreakerStatus
	logger  *slog.Logger
}

type ServerOption func(*Server)

func WithBurners(b BurnerAdmin) ServerOption {
	return func(s *Server) { s.burners = b }
}

func NewServer(pool PoolAdmin, breaker BreakerStatus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		pool:    pool,
		breaker: breaker,
		logger:  logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed admin surface wrapped in the audit and rate
// limit middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /admin/v1/stats", s.handleStats)
	mux.HandleFunc("POST /admin/v1/fund", s.handleFund)
	mux.HandleFunc("POST /admin/v1/dispose", s.handleDispose)
	mux.Handle("GET /metrics", promhttp.Handler())

	rl := NewRateLimitMiddleware(s.logger)
	return AuditMiddleware(s.logger, rl.Wrap(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	tripped := false
	if s.breaker != nil {
		tripped, _ = s.breaker.Tripped()
	}
	status := http.StatusOK
	state := "ok"
	if tripped {
		// A tripped breaker is deliberate, not a liveness failure, but
		// operators watching this endpoint should see it immediately.
		state = "halted"
	}
	writeJSON(w, status, map[string]string{"status": state})
}

type statsResponse struct {
	Pool    pool.Stats    `json:"pool"`
	Burners *burner.Stats `json:"burners,omitempty"`
	Breaker breakerStats  `json:"breaker"`
	Time    time.Time     `json:"time"`
}

type breakerStats struct {
	Tripped bool   `json:"tripped"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Pool: s.pool.Stats(),
		Time: time.Now().UTC(),
	}
	if s.burners != nil {
		bs := s.burners.Stats()
		resp.Burners = &bs
	}
	if s.breaker != nil {
		tripped, reason := s.breaker.Tripped()
		resp.Breaker = breakerStats{Tripped: tripped, Reason: string(reason)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.FundAll(r.Context()); err != nil {
		s.logger.Error("manual funding pass failed", "error", err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	if s.burners == nil {
		http.Error(w, `{"error":"burners not enabled"}`, http.StatusServiceUnavailable)
		return
	}
	disposed := s.burners.EmergencyDisposeAll(r.Context())
	s.logger.Warn("manual emergency disposal triggered", "disposed", disposed)
	writeJSON(w, http.StatusOK, map[string]int{"disposed": disposed})
}
