// Package rpc provides a resilient JSON-RPC client for the indexed chain.
//
// This package offers:
//   - Multiple provider support with priority order
//   - Retry with exponential backoff and failover
//   - Error classification into retryable and fatal
//   - Health monitoring
//
// # Quick Start
//
//	client := rpc.NewClient(rpc.Config{
//	    Providers: []rpc.ProviderConfig{
//	        {Name: "primary", URL: primaryURL},
//	        {Name: "fallback", URL: fallbackURL},
//	    },
//	    Timeout: 10 * time.Second,
//	})
//
//	result, err := client.Call(ctx, "eth_blockNumber", nil)
//
// # Package Structure
//
//   - provider/ - HTTPProvider, monitoring, typed errors
//   - routing/  - provider ordering, retry logic
package rpc

import (
	"errors"

	"github.com/vietddude/marketindexer/internal/infra/rpc/provider"
	"github.com/vietddude/marketindexer/internal/infra/rpc/routing"
)

var (
	// ErrRetryable wraps failures that may succeed on a later attempt:
	// network errors, 5xx, rate limits, timeouts.
	ErrRetryable = errors.New("retryable rpc failure")

	// ErrFatal wraps failures that repeating the request will not fix:
	// malformed responses and invalid requests.
	ErrFatal = errors.New("fatal rpc failure")
)

// RPCProvider is the interface for providers that support JSON-RPC calls.
type RPCProvider = provider.RPCProvider

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig
