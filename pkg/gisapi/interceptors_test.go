package gisapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterceptorChain(t *testing.T) {
	t.Parallel()

	var order []string

	chain := NewInterceptorChain().
		OnRequest(func(_ context.Context, _ *RequestInfo) error {
			order = append(order, "req-1")
			return nil
		}).
		OnRequest(func(_ context.Context, _ *RequestInfo) error {
			order = append(order, "req-2")
			return nil
		}).
		OnResponse(func(_ context.Context, _ *RequestInfo, _ *ResponseInfo) error {
			order = append(order, "resp-1")
			return nil
		})

	req := &RequestInfo{Method: http.MethodGet, URL: "https://portal/portals/self"}

	require.NoError(t, chain.RunRequest(context.Background(), req))
	require.NoError(t, chain.RunResponse(context.Background(), req, &ResponseInfo{StatusCode: 200}))

	assert.Equal(t, []string{"req-1", "req-2", "resp-1"}, order)
}

func TestInterceptorChainStopsOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	var reached bool

	chain := NewInterceptorChain().
		OnRequest(func(_ context.Context, _ *RequestInfo) error {
			return boom
		}).
		OnRequest(func(_ context.Context, _ *RequestInfo) error {
			reached = true
			return nil
		})

	err := chain.RunRequest(context.Background(), &RequestInfo{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestAuthenticationInterceptor(t *testing.T) {
	t.Parallel()

	interceptor := AuthenticationInterceptor(func(_ context.Context) (string, error) {
		return "tok", nil
	})

	req := &RequestInfo{Method: http.MethodGet, URL: "https://portal/op"}
	require.NoError(t, interceptor(context.Background(), req))
	assert.Equal(t, "Bearer tok", req.Headers.Get("Authorization"))

	failing := AuthenticationInterceptor(func(_ context.Context) (string, error) {
		return "", errors.New("no token")
	})
	assert.Error(t, failing(context.Background(), &RequestInfo{}))
}

func TestHeaderInterceptor(t *testing.T) {
	t.Parallel()

	interceptor := HeaderInterceptor(map[string]string{"X-Org": "geoworks"})

	req := &RequestInfo{}
	require.NoError(t, interceptor(context.Background(), req))
	assert.Equal(t, "geoworks", req.Headers.Get("X-Org"))
}

func TestMetricsInterceptors(t *testing.T) {
	t.Parallel()

	collector := NewMetricsCollector()
	reqInterceptor := MetricsRequestInterceptor(collector)
	respInterceptor := MetricsResponseInterceptor(collector)

	ctx := context.Background()

	req := &RequestInfo{Method: http.MethodGet, URL: "https://portal/jobs/j-1"}
	require.NoError(t, reqInterceptor(ctx, req))
	require.NoError(t, respInterceptor(ctx, req, &ResponseInfo{StatusCode: 200}))

	req = &RequestInfo{Method: http.MethodGet, URL: "https://portal/jobs/j-1"}
	require.NoError(t, reqInterceptor(ctx, req))
	require.NoError(t, respInterceptor(ctx, req, &ResponseInfo{StatusCode: 500}))

	metrics, ok := collector.Metrics("GET https://portal/jobs/j-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), metrics.Requests)
	assert.Equal(t, int64(1), metrics.Errors)
	assert.Positive(t, metrics.AverageLatency)

	_, ok = collector.Metrics("GET https://portal/other")
	assert.False(t, ok)
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	breaker := NewCircuitBreaker(&CircuitBreakerConfig{
		Threshold:        2,
		Timeout:          time.Minute,
		SuccessThreshold: 1,
	})

	reqInterceptor := CircuitBreakerRequestInterceptor(breaker)
	respInterceptor := CircuitBreakerResponseInterceptor(breaker)

	ctx := context.Background()
	req := &RequestInfo{Method: http.MethodGet, URL: "https://portal/op"}

	// Two failures trip the breaker.
	require.NoError(t, reqInterceptor(ctx, req))
	require.NoError(t, respInterceptor(ctx, req, &ResponseInfo{StatusCode: 500}))
	require.NoError(t, reqInterceptor(ctx, req))
	require.NoError(t, respInterceptor(ctx, req, &ResponseInfo{StatusCode: 503}))

	err := reqInterceptor(ctx, req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreakerIgnoresEmbeddedErrors(t *testing.T) {
	t.Parallel()

	breaker := NewCircuitBreaker(&CircuitBreakerConfig{
		Threshold:        1,
		Timeout:          time.Minute,
		SuccessThreshold: 1,
	})

	respInterceptor := CircuitBreakerResponseInterceptor(breaker)

	// A platform error in a 200 body is a request-level failure, not a
	// server outage.
	embedded := &ResponseError{Err: APIError{Code: 400, Message: "Invalid parameters"}, StatusCode: 200}
	require.NoError(t, respInterceptor(context.Background(), &RequestInfo{}, &ResponseInfo{StatusCode: 200, Err: embedded}))

	assert.NoError(t, breaker.Allow())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	breaker := NewCircuitBreaker(&CircuitBreakerConfig{
		Threshold:        1,
		Timeout:          time.Nanosecond,
		SuccessThreshold: 1,
	})

	respInterceptor := CircuitBreakerResponseInterceptor(breaker)
	ctx := context.Background()

	require.NoError(t, respInterceptor(ctx, &RequestInfo{}, &ResponseInfo{StatusCode: 500}))

	time.Sleep(time.Millisecond)

	// The expired open circuit lets a probe through; its success closes it.
	require.NoError(t, breaker.Allow())
	require.NoError(t, respInterceptor(ctx, &RequestInfo{}, &ResponseInfo{StatusCode: 200}))
	assert.NoError(t, breaker.Allow())
}
