package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/blockrun/proxy/internal/types"
)

// CircuitState is the lifecycle state of a single model's circuit
// breaker: closed (healthy, requests flow), open (the model has reached
// the failure threshold, so the fallback loop should skip it without
// trying), or half-open (the probe interval has elapsed and requests are
// allowed through again until the next recorded result closes or
// reopens the circuit; the number of requests let through while
// half-open is not limited).
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks the health of a single ModelID across dispatcher
// attempts. Callers outside this package obtain it through
// HealthTracker, which keys a breaker per model in the fallback chain
// (HealthTracker.GetBreaker returns it directly).
type CircuitBreaker struct {
	mu sync.Mutex

	model       types.ModelID
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time

	failureThreshold      int
	recoveryProbeInterval time.Duration
	logger                *slog.Logger
}

func newCircuitBreaker(model types.ModelID, failureThreshold int, recoveryProbeInterval time.Duration, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		model:                 model,
		state:                 StateClosed,
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
		logger:                logger,
	}
}

// State returns the current circuit state, resolving an elapsed probe
// interval into half-open as a side effect.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState transitions OPEN→HALF_OPEN once the probe interval has
// elapsed. Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.recoveryProbeInterval {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// Allow reports whether the next dispatcher attempt against this model
// should proceed (closed or half-open) or be skipped (open).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState() != StateOpen
}

// RecordSuccess marks a successful upstream attempt: closes a half-open
// probe, or simply tallies the success while already closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failures = 0
		cb.successes = 0
	case StateClosed:
		cb.successes++
	}
}

// RecordFailure marks a failed upstream attempt, opening the circuit
// once failureThreshold is reached from closed, or immediately reopening
// a half-open probe that failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Reset forces the breaker back to closed, clearing its failure tally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// transition moves to a new state, stamping openedAt on entry to OPEN
// and logging the model-scoped transition when a logger is configured.
// Must be called with mu held.
func (cb *CircuitBreaker) transition(next CircuitState) {
	if next == cb.state {
		return
	}
	prev := cb.state
	cb.state = next
	if next == StateOpen {
		cb.openedAt = time.Now()
	}
	if cb.logger != nil {
		cb.logger.Info("circuit breaker state change",
			"model", string(cb.model), "from", prev.String(), "to", next.String(), "failures", cb.failures)
	}
}

// HealthTracker manages a circuit breaker per model in the fallback
// chain, so the Dispatcher can skip a known-broken model before
// attempting it rather than discovering the failure on every retry.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[types.ModelID]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
	logger                *slog.Logger
}

// NewHealthTracker creates a health tracker with the given circuit
// breaker config. Breakers log no state transitions unless SetLogger is
// called before they are created.
func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[types.ModelID]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// SetLogger scopes future breakers' state-transition logs to logger.
// Breakers already created keep whatever logger they were built with.
func (ht *HealthTracker) SetLogger(logger *slog.Logger) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.logger = logger
}

// GetBreaker returns (or lazily creates) the circuit breaker for a model.
func (ht *HealthTracker) GetBreaker(model types.ModelID) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[model]
	logger := ht.logger
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok := ht.breakers[model]; ok {
		return cb
	}
	cb = newCircuitBreaker(model, ht.failureThreshold, ht.recoveryProbeInterval, logger)
	ht.breakers[model] = cb
	return cb
}

// IsAvailable returns true if the model's circuit breaker allows requests.
func (ht *HealthTracker) IsAvailable(model types.ModelID) bool {
	return ht.GetBreaker(model).Allow()
}

// RecordSuccess records a successful request for the model.
func (ht *HealthTracker) RecordSuccess(model types.ModelID) {
	ht.GetBreaker(model).RecordSuccess()
}

// RecordFailure records a failed request for the model.
func (ht *HealthTracker) RecordFailure(model types.ModelID) {
	ht.GetBreaker(model).RecordFailure()
}

// AnyAvailable reports whether at least one model in chain currently has
// a circuit that allows requests (closed or half-open). Used by the
// dispatcher to decide whether
// the breaker check should be bypassed entirely (fail open) rather than
// blocking every attempt when state is stale.
func (ht *HealthTracker) AnyAvailable(chain []types.ModelID) bool {
	for _, m := range chain {
		if ht.IsAvailable(m) {
			return true
		}
	}
	return false
}
