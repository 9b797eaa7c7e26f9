package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPlatform = errors.New("platform unavailable")

func failing(n *int) func() error {
	return func() error {
		*n++
		return errPlatform
	}
}

func succeeding(n *int) func() error {
	return func() error {
		*n++
		return nil
	}
}

func TestExecute_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("ch1", DefaultCBConfig())
	var calls int
	require.NoError(t, cb.Execute(context.Background(), succeeding(&calls)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_TripsOpenAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()
	var calls int

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(ctx, failing(&calls)), errPlatform)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open short-circuits without invoking the platform call.
	err := cb.Execute(ctx, failing(&calls))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestExecute_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()
	var calls int

	require.Error(t, cb.Execute(ctx, failing(&calls)))
	require.NoError(t, cb.Execute(ctx, succeeding(&calls)))
	require.Error(t, cb.Execute(ctx, failing(&calls)))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenRecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{
		FailureThreshold:      1,
		SuccessThreshold:      2,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 5,
	})
	ctx := context.Background()
	var calls int

	require.Error(t, cb.Execute(ctx, failing(&calls)))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeeding(&calls)))
	require.NoError(t, cb.Execute(ctx, succeeding(&calls)))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()
	var calls int

	require.Error(t, cb.Execute(ctx, failing(&calls)))
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(ctx, failing(&calls)), errPlatform)
	require.ErrorIs(t, cb.Execute(ctx, failing(&calls)), ErrCircuitOpen)
}

func TestExecute_HalfOpenBoundsConcurrentProbes(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{
		FailureThreshold:      1,
		SuccessThreshold:      10,
		Timeout:               time.Millisecond,
		MaxConcurrentRequests: 1,
	})
	ctx := context.Background()
	var calls int

	require.Error(t, cb.Execute(ctx, failing(&calls)))
	time.Sleep(5 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := cb.Execute(ctx, succeeding(&calls))
	require.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
	wg.Wait()
}

func TestOnStateChange_ObservesTransitions(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	cb := NewCircuitBreaker("ch1", CBConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(channel string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"→"+to.String())
		},
	})

	var calls int
	require.Error(t, cb.Execute(context.Background(), failing(&calls)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "closed→open", transitions[0])
}

func TestReset_ForceCloses(t *testing.T) {
	cb := NewCircuitBreaker("ch1", CBConfig{FailureThreshold: 1, Timeout: time.Minute})
	var calls int
	require.Error(t, cb.Execute(context.Background(), failing(&calls)))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.LastError())
}

func TestMulti_BreakersArePerChannel(t *testing.T) {
	m := NewMultiCircuitBreaker(CBConfig{FailureThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()
	var calls int

	require.Error(t, m.Execute(ctx, "ch1", failing(&calls)))
	require.NoError(t, m.Execute(ctx, "ch2", succeeding(&calls)))

	health := m.GetHealthStatus()
	assert.Contains(t, health.Unhealthy, "ch1")
	assert.Contains(t, health.Healthy, "ch2")
}

func TestMulti_GetOrCreateReturnsSameBreaker(t *testing.T) {
	m := NewMultiCircuitBreaker(DefaultCBConfig())
	assert.Same(t, m.GetOrCreate("ch1"), m.GetOrCreate("ch1"))
}

func TestMulti_ResetAll(t *testing.T) {
	m := NewMultiCircuitBreaker(CBConfig{FailureThreshold: 1, Timeout: time.Minute})
	var calls int
	require.Error(t, m.Execute(context.Background(), "ch1", failing(&calls)))

	m.ResetAll()
	assert.Empty(t, m.GetHealthStatus().Unhealthy)
}
