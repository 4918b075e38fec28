package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse means the endpoint answered with something that is
	// not a JSON-RPC 2.0 response. Retrying the same request will not help.
	ErrMalformedResponse = errors.New("malformed rpc response")

	// ErrThrottled is returned without a network round trip while the monitor
	// reports the provider as throttled or blocked.
	ErrThrottled = errors.New("provider throttled")
)

// JSON-RPC 2.0 error codes that indicate a bad request rather than a bad
// provider.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// RPCError is an error object returned inside a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is a non-200 HTTP response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *HTTPStatusError) Error() string {
	if len(e.Body) > 200 {
		return fmt.Sprintf("http %d: %s...", e.StatusCode, e.Body[:200])
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}
