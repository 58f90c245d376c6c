// Package breaker implements a circuit breaker for synchronous
// cross-service calls: failures past a threshold open the circuit,
// short-circuiting further calls until a reset timeout elapses and a
// half-open probe succeeds often enough to close it again.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

var (
	// ErrOpen is returned (or passed to the fallback) when the circuit is
	// open and the call is short-circuited without invoking the function.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTimeout is returned when the wrapped call exceeds the call timeout.
	// Timeouts count toward the failure threshold.
	ErrTimeout = errors.New("call timed out")
)

// Settings configures a Breaker. Zero values get sensible defaults.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default 5.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count in half-open state
	// that closes the circuit. It doubles as the half-open probe cap: at
	// most this many calls may be in flight while probing. Default 2.
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe. Default 30s.
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call. Default 10s.
	CallTimeout time.Duration
	// IsFailure decides whether an error counts toward the failure
	// threshold. Default: every error counts.
	IsFailure func(error) bool
	// Fallback, when set, is invoked instead of returning an error, for any
	// failure including an open-circuit short-circuit.
	Fallback func(ctx context.Context, cause error) (any, error)
}

type Breaker struct {
	name     string
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	now func() time.Time
}

func New(name string, s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		name:     name,
		settings: s,
		state:    StateClosed,
		now:      time.Now,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState accounts for the open→half-open transition by elapsed time.
// Caller must hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		b.state = StateHalfOpen
		b.successes = 0
		b.probes = 0
	}
	return b.state
}

// Execute runs fn under the breaker's policy. When the circuit is open the
// call is rejected immediately; while half-open only SuccessThreshold calls
// may be in flight at once, the rest are rejected like open-circuit calls.
// Failures (per the classifier) and timeouts advance the breaker toward
// opening; the optional fallback absorbs every failure path.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	b.mu.Lock()
	switch b.currentState() {
	case StateOpen:
		b.mu.Unlock()
		return b.fail(ctx, ErrOpen)
	case StateHalfOpen:
		if b.probes >= b.settings.SuccessThreshold {
			b.mu.Unlock()
			return b.fail(ctx, ErrOpen)
		}
		b.probes++
		defer b.releaseProbe()
	}
	b.mu.Unlock()

	v, err := b.call(ctx, fn)
	if b.settings.IsFailure(err) {
		b.recordFailure()
		return b.fail(ctx, err)
	}
	b.recordSuccess()
	return v, err
}

// call runs fn with the per-call timeout enforced even if fn ignores its
// context.
func (b *Breaker) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, cctx.Err()
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes = 0
	switch b.currentState() {
	case StateHalfOpen:
		// Any failure while probing reopens the circuit.
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// releaseProbe returns a half-open probe slot. The guard covers slots that
// outlive a state change (a sibling probe reopened the circuit mid-call).
func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probes > 0 {
		b.probes--
	}
}

// trip moves to open. Caller must hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = 0
	b.openedAt = b.now()
}

func (b *Breaker) fail(ctx context.Context, cause error) (any, error) {
	if b.settings.Fallback != nil {
		return b.settings.Fallback(ctx, cause)
	}
	return nil, cause
}

// Do is a typed convenience wrapper around Execute.
func Do[T any](b *Breaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if v == nil {
		var zero T
		return zero, nil
	}
	return v.(T), nil
}
