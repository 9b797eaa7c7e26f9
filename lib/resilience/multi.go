package resilience

import (
	"context"
	"sync"
)

// MultiCircuitBreaker holds one lazily created breaker per chat channel,
// so a Discord incident on one guild's channel never trips delivery for
// every other channel the bridge serves.
type MultiCircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CBConfig
}

// NewMultiCircuitBreaker creates an empty registry; every channel's
// breaker is created from cfg on first use.
func NewMultiCircuitBreaker(cfg CBConfig) *MultiCircuitBreaker {
	return &MultiCircuitBreaker{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg.withDefaults(),
	}
}

// GetOrCreate returns channel's breaker, creating it if this is the
// channel's first outbound call.
func (m *MultiCircuitBreaker) GetOrCreate(channel string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[channel]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[channel]; ok {
		return cb
	}
	cb = NewCircuitBreaker(channel, m.cfg)
	m.breakers[channel] = cb
	return cb
}

// Execute runs fn under channel's breaker.
func (m *MultiCircuitBreaker) Execute(ctx context.Context, channel string, fn func() error) error {
	return m.GetOrCreate(channel).Execute(ctx, fn)
}

// HealthStatus buckets every known channel by its breaker state.
type HealthStatus struct {
	Healthy   []string // closed
	Degraded  []string // half-open
	Unhealthy []string // open
}

// GetHealthStatus snapshots the per-channel breaker states, for the
// health surface to report which channels are currently failing.
func (m *MultiCircuitBreaker) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var status HealthStatus
	for channel, cb := range m.breakers {
		switch cb.State() {
		case StateClosed:
			status.Healthy = append(status.Healthy, channel)
		case StateHalfOpen:
			status.Degraded = append(status.Degraded, channel)
		case StateOpen:
			status.Unhealthy = append(status.Unhealthy, channel)
		}
	}
	return status
}

// ResetAll force-closes every breaker.
func (m *MultiCircuitBreaker) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
