package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/marketindexer/internal/infra/rpc/provider"
	"github.com/vietddude/marketindexer/internal/infra/rpc/routing"
)

// ProviderConfig is one JSON-RPC endpoint.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config configures a Client.
type Config struct {
	Providers []ProviderConfig
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	Retry   RetryConfig
}

// ProviderHealth is a provider's state as reported on /stats.
type ProviderHealth struct {
	Name        string                `json:"name"`
	Status      string                `json:"status"`
	CircuitOpen bool                  `json:"circuitOpen"`
	Health      provider.HealthStatus `json:"health"`
}

// Client is the high-level interface for making RPC calls.
// This is what application layers should use.
type Client struct {
	router *routing.Router
	retry  RetryConfig
}

// NewClient creates a client with one HTTPProvider per configured endpoint.
func NewClient(cfg Config) *Client {
	providers := make([]RPCProvider, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("provider-%d", i)
		}
		providers = append(providers, provider.NewHTTPProvider(name, pc.URL, cfg.Timeout))
	}
	return NewClientWithProviders(cfg.Retry, providers...)
}

// NewClientWithProviders creates a client over already built providers.
func NewClientWithProviders(retry RetryConfig, providers ...RPCProvider) *Client {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig
	}
	return &Client{
		router: routing.NewRouter(providers...),
		retry:  retry,
	}
}

// Call makes an RPC call with retry and failover. Errors wrap ErrRetryable or
// ErrFatal.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	result, err := routing.CallWithRetryAndFailover(ctx, c.router, method, params, c.retry)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetryable, method, err)
	}
	if routing.ClassifyError(err) == routing.ActionFatal {
		return nil, fmt.Errorf("%w: %s: %w", ErrFatal, method, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrRetryable, method, err)
}

// ProviderHealth returns monitoring stats for all providers.
func (c *Client) ProviderHealth() []ProviderHealth {
	providers := c.router.Providers()
	out := make([]ProviderHealth, 0, len(providers))
	for _, p := range providers {
		h := p.GetHealth()
		status := "unknown"
		if h.MonitorStats != nil {
			status = h.MonitorStats.Status.String()
		}
		out = append(out, ProviderHealth{
			Name:        p.GetName(),
			Status:      status,
			CircuitOpen: c.router.CircuitOpen(p.GetName()),
			Health:      h,
		})
	}
	return out
}

// Close releases idle connections of every provider.
func (c *Client) Close() error {
	return c.router.Close()
}
