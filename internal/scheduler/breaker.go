package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/metrics"
)

// errTaskFailed marks a finished-but-unsuccessful task for the breaker.
var errTaskFailed = errors.New("task failed")

// BreakerRegistry manages per-kind circuit breakers. After a run of failed
// tasks of one kind, further tasks of that kind are skipped until the
// cooldown passes and a trial task succeeds.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      config.BreakerConfig
	logger   *slog.Logger
	rec      *metrics.Recorder
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a registry. A nil logger uses slog.Default.
func NewBreakerRegistry(cfg config.BreakerConfig, logger *slog.Logger, rec *metrics.Recorder) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		rec:      rec,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for kind, creating it on first use.
func (r *BreakerRegistry) Get(kind string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[kind]; ok {
		return cb
	}

	threshold := uint32(r.cfg.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        kind,
		MaxRequests: 1, // one trial task while half-open
		Interval:    0,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed", "kind", name, "from", from.String(), "to", to.String())
			r.rec.BreakerState(name, to == gobreaker.StateOpen)
		},
		IsSuccessful: func(err error) bool {
			// A stopped run says nothing about the kind's health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[kind] = cb
	return cb
}

// State reports the breaker state for kind without creating one.
func (r *BreakerRegistry) State(kind string) (gobreaker.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[kind]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// rejected reports whether err means the breaker refused the call.
func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
