package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRPCServer(t *testing.T, handler func(req map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		code, body := handler(req)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_Call(t *testing.T) {
	srv := newRPCServer(t, func(req map[string]any) (int, string) {
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "eth_blockNumber" {
			t.Errorf("unexpected method %v", req["method"])
		}
		if params, ok := req["params"].([]any); !ok || len(params) != 0 {
			t.Errorf("expected empty params array, got %v", req["params"])
		}
		return 200, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`
	})

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	result, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x10"` {
		t.Errorf("expected \"0x10\", got %s", result)
	}
	if h := p.GetHealth(); !h.Available || h.ErrorRate != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "rpc error",
			code: 200,
			body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`,
			check: func(t *testing.T, err error) {
				var rpcErr *RPCError
				if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
					t.Errorf("expected RPCError -32602, got %v", err)
				}
			},
		},
		{
			name: "rate limited",
			code: 429,
			body: `too many requests`,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPStatusError
				if !errors.As(err, &httpErr) || httpErr.StatusCode != 429 {
					t.Errorf("expected HTTPStatusError 429, got %v", err)
				}
			},
		},
		{
			name: "server error",
			code: 502,
			body: `bad gateway`,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPStatusError
				if !errors.As(err, &httpErr) || httpErr.StatusCode != 502 {
					t.Errorf("expected HTTPStatusError 502, got %v", err)
				}
			},
		},
		{
			name: "not json",
			code: 200,
			body: `<html>oops</html>`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("expected ErrMalformedResponse, got %v", err)
				}
			},
		},
		{
			name: "missing result",
			code: 200,
			body: `{"jsonrpc":"2.0","id":1}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("expected ErrMalformedResponse, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRPCServer(t, func(map[string]any) (int, string) { return tt.code, tt.body })
			p := NewHTTPProvider("test", srv.URL, 5*time.Second)

			_, err := p.Call(context.Background(), "eth_getLogs", []any{map[string]any{}})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)

			if h := p.GetHealth(); h.ErrorRate != 1 {
				t.Errorf("expected error rate 1, got %v", h.ErrorRate)
			}
		})
	}
}

func TestHTTPProvider_ThrottledSkipsNetwork(t *testing.T) {
	calls := 0
	srv := newRPCServer(t, func(map[string]any) (int, string) {
		calls++
		return 200, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`
	})

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	p.Monitor.RecordThrottle(403, "")

	_, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no request, got %d", calls)
	}
	if p.IsAvailable() {
		t.Error("blocked provider should not be available")
	}
}
