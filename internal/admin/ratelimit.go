package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = time.Minute
)

type endpointLimit struct {
	rps   rate.Limit
	burst int
}

type endpointRule struct {
	method string // empty matches any method
	prefix string
	limit  endpointLimit
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware rate-limits the admin API per endpoint and client
// address. The mutating endpoints trigger real on-chain transfers, so they
// get much tighter limits than the read side.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "prefix|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		logger:   logger,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{method: "POST", prefix: "/admin/v1/fund", limit: endpointLimit{rps: rate.Limit(1.0 / 60), burst: 1}},    // 1 req/min
			{method: "POST", prefix: "/admin/v1/dispose", limit: endpointLimit{rps: rate.Limit(1.0 / 300), burst: 1}}, // 1 req/5min
			{method: "", prefix: "", limit: endpointLimit{rps: 1, burst: 5}},
		},
	}

	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple
// times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimitMiddleware) ruleFor(r *http.Request) endpointRule {
	for _, rule := range rl.rules {
		if rule.method != "" && rule.method != r.Method {
			continue
		}
		if strings.HasPrefix(r.URL.Path, rule.prefix) {
			return rule
		}
	}
	return rl.rules[len(rl.rules)-1]
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Wrap applies the rate limit in front of next.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := rl.ruleFor(r)
		key := rule.prefix + "|" + clientIP(r)

		rl.mu.Lock()
		entry, ok := rl.limiters[key]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(rule.limit.rps, rule.limit.burst)}
			rl.limiters[key] = entry
		}
		entry.lastSeen = rl.nowFunc()
		allowed := entry.limiter.Allow()
		rl.mu.Unlock()

		if !allowed {
			rl.logger.Warn("admin API rate limited", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
