package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(s Settings) (*Breaker, *time.Time) {
	b := New("test", s)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func failing(ctx context.Context) (any, error) { return nil, errBoom }
func succeeding(ctx context.Context) (any, error) { return "ok", nil }

// ============================================
// State Transition Tests
// ============================================

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, failing)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	_, err := b.Execute(ctx, failing)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ShortCircuitsWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	require.Equal(t, StateOpen, b.State())

	invoked := false
	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "wrapped function must not run while open")
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(Settings{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// The probe call is allowed through.
	v, err := b.Execute(ctx, succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b, now := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	*now = now.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	_, err := b.Execute(ctx, succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough")

	_, err = b.Execute(ctx, succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenCapsInFlightProbes(t *testing.T) {
	b, now := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	*now = now.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	var invoked, rejected atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
				invoked.Add(1)
				<-release
				return "ok", nil
			})
			if errors.Is(err, ErrOpen) {
				rejected.Add(1)
			}
		}()
	}

	// While the two probe slots are held, every other caller bounces off.
	require.Eventually(t, func() bool {
		return rejected.Load() == 48
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), invoked.Load(), "half-open must cap in-flight probes at SuccessThreshold")

	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), invoked.Load())
	assert.Equal(t, StateClosed, b.State(), "both probes succeeded")
}

func TestBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	b, now := newTestBreaker(Settings{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	*now = now.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	_, err := b.Execute(ctx, failing)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 3})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	_, _ = b.Execute(ctx, failing)
	_, _ = b.Execute(ctx, succeeding)
	_, _ = b.Execute(ctx, failing)
	_, _ = b.Execute(ctx, failing)

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open the circuit")
}

// ============================================
// Timeout Tests
// ============================================

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, CallTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateOpen, b.State())
}

// ============================================
// Classifier Tests
// ============================================

func TestBreaker_ClassifierIgnoresSelectedErrors(t *testing.T) {
	errClient := errors.New("client error")
	b, _ := newTestBreaker(Settings{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errClient)
		},
	})
	ctx := context.Background()

	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, errClient
	})

	assert.ErrorIs(t, err, errClient)
	assert.Equal(t, StateClosed, b.State(), "classified-out errors must not trip the breaker")
}

// ============================================
// Fallback Tests
// ============================================

func TestBreaker_FallbackOnFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{
		FailureThreshold: 5,
		Fallback: func(ctx context.Context, cause error) (any, error) {
			return "cached", nil
		},
	})
	ctx := context.Background()

	v, err := b.Execute(ctx, failing)

	require.NoError(t, err)
	assert.Equal(t, "cached", v)
}

func TestBreaker_FallbackOnOpenCircuit(t *testing.T) {
	var cause error
	b, _ := newTestBreaker(Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Fallback: func(ctx context.Context, c error) (any, error) {
			cause = c
			return "cached", nil
		},
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failing)
	v, err := b.Execute(ctx, succeeding)

	require.NoError(t, err)
	assert.Equal(t, "cached", v)
	assert.ErrorIs(t, cause, ErrOpen)
}

// ============================================
// Typed Wrapper Tests
// ============================================

func TestDo_TypedResult(t *testing.T) {
	b, _ := newTestBreaker(Settings{})
	ctx := context.Background()

	n, err := Do(b, ctx, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestDo_ErrorReturnsZeroValue(t *testing.T) {
	b, _ := newTestBreaker(Settings{})
	ctx := context.Background()

	n, err := Do(b, ctx, func(ctx context.Context) (int, error) {
		return 0, errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, n)
}
