// Package counter implements the Counter Engine (C4): a fixed-window
// atomic counter per (ruleId, identifier), backed by the shared KV store
// and guarded by a circuit breaker so store outages degrade to immediate
// fail-open responses.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
	"github.com/secprog/poor-man-ratelimiter/pkg/concurrency"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Result is the outcome of an admission check.
type Result int

const (
	WithinQuota Result = iota
	Exceeded
)

// perCallTimeout bounds how long a single store call may take before the
// counter engine treats it as a failure and fails open, per SPEC_FULL.md §5.
const perCallTimeout = 1 * time.Second

// Engine implements Admit() over a CounterStore, wrapping every call with a
// circuit breaker so a persistently unreachable store stops paying the
// per-call timeout on every request.
type Engine struct {
	store   store.CounterStore
	breaker *concurrency.CircuitBreaker
	logger  *logger.Logger

	failOpenTotal func()
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithFailOpenHook registers a callback invoked every time the engine fails
// open due to a store error, for metrics wiring.
func WithFailOpenHook(hook func()) Option {
	return func(e *Engine) { e.failOpenTotal = hook }
}

// NewEngine constructs a Counter Engine. zapLogger is the circuit breaker's
// own logger, kept as zap per the teacher's pkg/concurrency convention,
// independent of the module's higher-level map-field logger.
func NewEngine(s store.CounterStore, zapLogger *zap.Logger, log *logger.Logger, opts ...Option) *Engine {
	cb := concurrency.NewCircuitBreaker("counter-store", &concurrency.CircuitBreakerConfig{
		FailureThreshold:     5,
		SuccessThreshold:     2,
		TimeoutThreshold:     perCallTimeout,
		OpenTimeout:          10 * time.Second,
		HalfOpenTimeout:      5 * time.Second,
		HalfOpenMaxRequests:  3,
		HalfOpenSuccessRatio: 0.5,
		ResetTimeout:         1 * time.Minute,
		MonitoringInterval:   30 * time.Second,
		// A request cancelled by the caller (client disconnect, per
		// SPEC_FULL.md §5/§7's Cancelled taxonomy) says nothing about the
		// store's health and must not count toward tripping the breaker;
		// only a genuine store-side failure does.
		FailureClassifier: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}, zapLogger)

	e := &Engine{store: s, breaker: cb, logger: log.Named("counter")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type admitResult struct {
	count  int
	within bool
}

// Admit implements the fixed-window algorithm of SPEC_FULL.md §4.4. Store
// failures and circuit-breaker rejections fail open: the request is
// admitted, the event is logged at warn, and the fail-open hook (if any)
// fires.
func (e *Engine) Admit(ctx context.Context, ruleID, identifier string, allowedRequests, windowSeconds int) Result {
	key := ruleID + ":" + identifier

	raw, err := e.breaker.Execute(ctx, func(callCtx context.Context) (interface{}, error) {
		_, within, err := e.store.Admit(callCtx, key, allowedRequests, windowSeconds)
		if err != nil {
			return nil, err
		}
		return admitResult{within: within}, nil
	})

	if err != nil {
		// Both a store-reported failure and a breaker-open rejection are
		// ErrStoreUnavailable as far as the rate-limit core is concerned:
		// either way the fixed-window count for this key is unknowable
		// right now, so §4.4 says fail open.
		e.logger.Warn("counter store unavailable, failing open", map[string]interface{}{
			"rule_id": ruleID,
			"error":   fmt.Errorf("%w: %v", rlerrors.ErrStoreUnavailable, err).Error(),
		})
		if e.failOpenTotal != nil {
			e.failOpenTotal()
		}
		return WithinQuota
	}

	res, ok := raw.(admitResult)
	if !ok || !res.within {
		return Exceeded
	}
	return WithinQuota
}

// BreakerState returns the current circuit breaker state (0=closed,
// 1=half-open, 2=open), for periodic metrics gauge refresh.
func (e *Engine) BreakerState() int32 {
	return int32(e.breaker.GetState())
}
