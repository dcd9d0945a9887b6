package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectorrt/runtime/internal/circuitbreaker"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/ssrf"
)

func noopPenalty(connectorID, connection string, rules connector.RateLimits) retryPenaltyFunc {
	return func(waitMs int64, scope connector.ConcurrencyScope) {}
}

func alwaysAllow(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (AcquireResult, func(), error) {
	return AcquireResult{Attempts: 1}, func() {}, nil
}

type permissiveGuard struct{}

func (permissiveGuard) AssertSafe(ctx context.Context, rawURL string) ([]net.IP, error) {
	return nil, nil
}

func newTestTransport() *Transport {
	return newWithGuard(permissiveGuard{}, http.DefaultClient, alwaysAllow, noopPenalty, nil)
}

func TestTransportRetries429ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport()
	out, err := tr.Request(context.Background(), Request{
		URL: srv.URL, Method: http.MethodGet, Headers: http.Header{},
		MaxAttempts: 3,
		OnResponse: func(resp *http.Response, body []byte) int64 {
			if resp.StatusCode == http.StatusTooManyRequests {
				return 10
			}
			return 0
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, out.BackoffEvents, 1)
	assert.Equal(t, connector.BackoffHTTPRetry, out.BackoffEvents[0].Type)
	assert.Equal(t, "http_429", out.BackoffEvents[0].Reason)
}

func TestTransportRejectsSSRFWithoutRetry(t *testing.T) {
	tr := newWithGuard(ssrf.New(nil), http.DefaultClient, alwaysAllow, noopPenalty, nil)
	_, err := tr.Request(context.Background(), Request{
		URL: "http://127.0.0.1:9/health", Method: http.MethodGet, Headers: http.Header{},
	})
	require.Error(t, err)
}

func TestTransportTerminalOn404NoRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := newTestTransport()
	out, err := tr.Request(context.Background(), Request{
		URL: srv.URL, Method: http.MethodGet, Headers: http.Header{}, MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, http.StatusNotFound, out.Response.StatusCode)
}

func TestTransportRejectsWhenCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		ErrorThreshold: 0.1, MinSamples: 1, WindowSeconds: 60, OpenTimeout: time.Minute,
	})
	tr := newTestTransport().WithCircuitBreaker(breakers)

	req := Request{URL: srv.URL, Method: http.MethodGet, Headers: http.Header{}, ConnectorID: "flaky", MaxAttempts: 1}

	out, err := tr.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, out.Response.StatusCode)

	_, err = tr.Request(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}
