package safety

import (
	"errors"
	"sync"
	"time"
)

// ErrCreationPaused is returned while the gate is holding creation closed.
var ErrCreationPaused = errors.New("burner creation paused")

// GateConfig configures a creation gate.
type GateConfig struct {
	FailureThreshold int           // consecutive failures before pausing (default: 5)
	PauseFor         time.Duration // how long creation stays paused (default: 5m)
	OnPause          func(failures int)
}

// CreationGate is the burner manager's local circuit breaker. It is
// independent of the run-level breaker: after a streak of funding failures
// it pauses creation for a fixed duration, then resets the counter and
// resumes. This keeps systematically-failing funding (empty relayers,
// degraded RPC) from hammering the network while trading continues on the
// durable pool.
type CreationGate struct {
	mu               sync.Mutex
	failureThreshold int
	pauseFor         time.Duration
	onPause          func(int)

	failures    int
	pausedUntil time.Time
}

func NewCreationGate(cfg GateConfig) *CreationGate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.PauseFor <= 0 {
		cfg.PauseFor = 5 * time.Minute
	}
	return &CreationGate{
		failureThreshold: cfg.FailureThreshold,
		pauseFor:         cfg.PauseFor,
		onPause:          cfg.OnPause,
	}
}

// Allow checks whether creation may proceed. An expired pause resets the
// failure counter.
func (g *CreationGate) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pausedUntil.IsZero() {
		return nil
	}
	if time.Now().Before(g.pausedUntil) {
		return ErrCreationPaused
	}
	g.pausedUntil = time.Time{}
	g.failures = 0
	return nil
}

// RecordSuccess resets the failure streak.
func (g *CreationGate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
}

// RecordFailure counts one creation failure and pauses the gate when the
// streak reaches the threshold.
func (g *CreationGate) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	if g.failures >= g.failureThreshold && g.pausedUntil.IsZero() {
		g.pausedUntil = time.Now().Add(g.pauseFor)
		if g.onPause != nil {
			g.onPause(g.failures)
		}
	}
}

// PausedUntil returns the pause deadline, zero when the gate is open.
func (g *CreationGate) PausedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedUntil
}
