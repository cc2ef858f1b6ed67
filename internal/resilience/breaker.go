package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the lifecycle state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes a single breaker. Timeout bounds one operation;
// RetryTimeout is how long the breaker stays open before allowing a trial.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
	RetryTimeout     time.Duration
}

// DefaultBreakerConfig is used for breakers created without an explicit config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitOpenError is returned when a call is rejected without being attempted.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("service unavailable: circuit breaker %s is open", e.Name)
}

// TimeoutError is returned when an operation exceeds the breaker's timeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: operation timed out after %s", e.Name, e.Timeout)
}

// Breaker guards one named downstream service. Counters are safe for use by
// concurrent requests hitting the same provider.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
	trialInFly   bool

	now func() time.Time
}

// NewBreaker constructs a closed breaker for the named service.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerConfig().Timeout
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultBreakerConfig().RetryTimeout
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the breaker's service name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot reports current counters for observability.
func (b *Breaker) Snapshot() (state BreakerState, failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failureCount, b.successCount
}

// admit decides whether a call may proceed. It returns false when the call
// must be rejected (open, not yet eligible for a trial).
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.cfg.RetryTimeout {
			b.state = StateHalfOpen
			b.trialInFly = true
			return true
		}
		return false
	case StateHalfOpen:
		// One trial at a time; concurrent callers are treated as if open.
		if b.trialInFly {
			return false
		}
		b.trialInFly = true
		return true
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successCount++
	b.failureCount = 0
	b.trialInFly = false
	b.state = StateClosed
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.trialInFly = false
		b.state = StateOpen
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// Execute runs op under the breaker b. While the breaker is open and not yet
// eligible for a trial, fallback (if non-nil) is invoked instead and its error
// propagates; with no fallback the call fails fast with CircuitOpenError.
// Each operation is raced against the breaker's timeout; a late result from a
// timed-out operation is discarded.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.admit() {
		if fallback != nil {
			return fallback(ctx)
		}
		return zero, &CircuitOpenError{Name: b.name}
	}

	result, err := runWithTimeout(ctx, b, op)
	if err != nil {
		b.onFailure()
		return zero, err
	}
	b.onSuccess()
	return result, nil
}

func runWithTimeout[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := op(opCtx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Name: b.name, Timeout: b.cfg.Timeout}
	}
}

// Registry owns one breaker per named provider, shared across requests.
// Construct it once at process start and pass it into the orchestrator.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
}

// NewRegistry builds a registry with optional per-service configs.
func NewRegistry(configs map[string]BreakerConfig) *Registry {
	if configs == nil {
		configs = map[string]BreakerConfig{}
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  configs,
	}
}

// Get returns the breaker for name, creating it on first use with the
// registered config or defaults.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = DefaultBreakerConfig()
	}
	b := NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// States returns the current state of every breaker, for health reporting.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
