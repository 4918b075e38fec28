// Package provider implements JSON-RPC endpoints.
//
// This package contains:
//   - Provider / RPCProvider interfaces: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP
//   - ProviderMonitor: latency and throttle tracking
//   - typed errors used by routing to decide between retry, failover and abort
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Provider defines health and lifecycle for an RPC endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "alchemy", "public")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request and returns the raw "result" member.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"errorRate"`
	LastSuccessAt time.Time     `json:"lastSuccessAt"`
	LastFailureAt time.Time     `json:"lastFailureAt"`
	MonitorStats  *MonitorStats `json:"monitorStats,omitempty"`
}
