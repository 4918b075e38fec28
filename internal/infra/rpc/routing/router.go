// Package routing handles provider ordering, retry and failover.
//
// This package contains:
//   - Router: ordered provider list with a per-provider circuit breaker
//   - Retry: retry logic with exponential backoff and failover
package routing

import (
	"sync"
	"time"

	"github.com/vietddude/marketindexer/internal/infra/rpc/provider"
)

const (
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

type providerMetrics struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	consecutiveFails int
	circuitOpenUntil time.Time
}

// Router keeps the configured providers and orders them for each call.
type Router struct {
	mu        sync.RWMutex
	providers []provider.RPCProvider
	health    map[string]*providerMetrics
}

// NewRouter creates a router over providers in priority order.
func NewRouter(providers ...provider.RPCProvider) *Router {
	r := &Router{health: make(map[string]*providerMetrics)}
	for _, p := range providers {
		r.AddProvider(p)
	}
	return r
}

// AddProvider registers a provider with the lowest priority.
func (r *Router) AddProvider(p provider.RPCProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	r.health[p.GetName()] = &providerMetrics{lastSuccessAt: time.Now()}
}

// Providers returns every provider in the order calls should try them:
// available providers with a closed circuit first, in configured order, then
// the rest as a last resort.
func (r *Router) Providers() []provider.RPCProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	preferred := make([]provider.RPCProvider, 0, len(r.providers))
	var fallback []provider.RPCProvider
	for _, p := range r.providers {
		m := r.health[p.GetName()]
		if p.IsAvailable() && (m == nil || now.After(m.circuitOpenUntil)) {
			preferred = append(preferred, p)
		} else {
			fallback = append(fallback, p)
		}
	}
	return append(preferred, fallback...)
}

// RecordSuccess records a successful call.
func (r *Router) RecordSuccess(providerName string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.health[providerName]
	if !ok {
		return
	}

	m.successCount++
	m.totalLatency += latency
	m.lastSuccessAt = time.Now()
	m.consecutiveFails = 0
	m.circuitOpenUntil = time.Time{}
}

// RecordFailure records a failed call.
func (r *Router) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.health[providerName]
	if !ok {
		return
	}

	m.failureCount++
	m.lastFailureAt = time.Now()
	m.consecutiveFails++

	if m.consecutiveFails >= circuitThreshold {
		m.circuitOpenUntil = m.lastFailureAt.Add(circuitCooldown)
	}
}

// CircuitOpen reports whether calls to the provider are currently demoted.
func (r *Router) CircuitOpen(providerName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.health[providerName]
	return ok && time.Now().Before(m.circuitOpenUntil)
}

// Close closes every provider.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		_ = p.Close()
	}
	return nil
}
