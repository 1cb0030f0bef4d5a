package gisapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/geoworks-io/gisapi/internal/constants"
)

// RequestInfo is the view of an outgoing request handed to interceptors.
// Headers aliases the live header map, so header mutations apply to the
// request being sent. Meta carries values between the request and response
// sides of one call.
type RequestInfo struct {
	Method  string
	URL     string
	Headers http.Header
	Meta    map[string]interface{}
}

// ResponseInfo summarizes the outcome of a request for response
// interceptors. Err carries the classified API error, if any, including
// platform errors embedded in 200 bodies.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Err        error
}

// RequestInterceptor runs before a request is sent. A non-nil error vetoes
// the request.
type RequestInterceptor func(ctx context.Context, req *RequestInfo) error

// ResponseInterceptor observes the outcome of a request.
type ResponseInterceptor func(ctx context.Context, req *RequestInfo, resp *ResponseInfo) error

// InterceptorChain is run by the transport around every request. Request
// interceptors run in registration order and may veto; response interceptors
// observe the outcome, again in order.
type InterceptorChain struct {
	onRequest  []RequestInterceptor
	onResponse []ResponseInterceptor
}

// NewInterceptorChain creates an empty chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// OnRequest appends a request interceptor and returns the chain.
func (c *InterceptorChain) OnRequest(interceptor RequestInterceptor) *InterceptorChain {
	c.onRequest = append(c.onRequest, interceptor)

	return c
}

// OnResponse appends a response interceptor and returns the chain.
func (c *InterceptorChain) OnResponse(interceptor ResponseInterceptor) *InterceptorChain {
	c.onResponse = append(c.onResponse, interceptor)

	return c
}

// RunRequest executes the request interceptors, stopping at the first error.
func (c *InterceptorChain) RunRequest(ctx context.Context, req *RequestInfo) error {
	for _, interceptor := range c.onRequest {
		if err := interceptor(ctx, req); err != nil {
			return fmt.Errorf("request interceptor: %w", err)
		}
	}

	return nil
}

// RunResponse executes the response interceptors, stopping at the first
// error.
func (c *InterceptorChain) RunResponse(ctx context.Context, req *RequestInfo, resp *ResponseInfo) error {
	for _, interceptor := range c.onResponse {
		if err := interceptor(ctx, req, resp); err != nil {
			return fmt.Errorf("response interceptor: %w", err)
		}
	}

	return nil
}

// Common interceptors

// LoggingInterceptor logs each outgoing request.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *RequestInfo) error {
		logger.Debug("API Request", map[string]interface{}{
			"method": req.Method,
			"url":    req.URL,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs each outcome, errors at Error level.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *RequestInfo, resp *ResponseInfo) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"url":         req.URL,
			"status_code": resp.StatusCode,
		}

		if resp.Err != nil {
			logger.Error("API Response Error", fields)
		} else {
			logger.Debug("API Response", fields)
		}

		return nil
	}
}

// RateLimitInterceptor caps client-side request throughput. Tokens refill
// continuously at requestsPerSecond; a request blocks until a token is
// available or its context ends.
func RateLimitInterceptor(requestsPerSecond int) RequestInterceptor {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}

	var (
		mu     sync.Mutex
		tokens = float64(requestsPerSecond)
		last   = time.Now()
	)

	retry := time.Second / time.Duration(requestsPerSecond)

	return func(ctx context.Context, req *RequestInfo) error {
		for {
			mu.Lock()

			now := time.Now()
			tokens += now.Sub(last).Seconds() * float64(requestsPerSecond)
			if tokens > float64(requestsPerSecond) {
				tokens = float64(requestsPerSecond)
			}
			last = now

			if tokens >= 1 {
				tokens--
				mu.Unlock()

				return nil
			}

			mu.Unlock()

			select {
			case <-time.After(retry):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// AuthenticationInterceptor attaches a bearer token resolved per request.
// The transport already does this for its configured provider; the
// interceptor form exists for secondary credentials.
func AuthenticationInterceptor(tokenProvider func(context.Context) (string, error)) RequestInterceptor {
	return func(ctx context.Context, req *RequestInfo) error {
		token, err := tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("getting authentication token: %w", err)
		}

		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		req.Headers.Set("Authorization", "Bearer "+token)

		return nil
	}
}

// HeaderInterceptor adds fixed headers to every request.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(ctx context.Context, req *RequestInfo) error {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// metaStartTime is the Meta key carrying the request start time between the
// metrics request and response interceptors.
const metaStartTime = "metrics.start"

// EndpointMetrics aggregates request statistics for one endpoint.
type EndpointMetrics struct {
	Requests       int64
	Errors         int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
	LastRequest    time.Time
}

// MetricsCollector accumulates per-endpoint metrics, keyed by
// "METHOD url". Safe for concurrent use.
type MetricsCollector struct {
	mu         sync.Mutex
	byEndpoint map[string]*EndpointMetrics
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		byEndpoint: make(map[string]*EndpointMetrics),
	}
}

// Metrics returns a copy of the metrics for an endpoint.
func (m *MetricsCollector) Metrics(endpoint string) (EndpointMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.byEndpoint[endpoint]
	if !ok {
		return EndpointMetrics{}, false
	}

	return *metrics, true
}

func (m *MetricsCollector) record(endpoint string, latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.byEndpoint[endpoint]
	if !ok {
		metrics = &EndpointMetrics{}
		m.byEndpoint[endpoint] = metrics
	}

	metrics.Requests++
	metrics.LastRequest = time.Now()

	if latency > 0 {
		metrics.TotalLatency += latency
		metrics.AverageLatency = metrics.TotalLatency / time.Duration(metrics.Requests)
	}

	if failed {
		metrics.Errors++
	}
}

// MetricsRequestInterceptor stamps the request start time.
func MetricsRequestInterceptor(collector *MetricsCollector) RequestInterceptor {
	return func(ctx context.Context, req *RequestInfo) error {
		if req.Meta == nil {
			req.Meta = make(map[string]interface{})
		}

		req.Meta[metaStartTime] = time.Now()

		return nil
	}
}

// MetricsResponseInterceptor records the outcome.
func MetricsResponseInterceptor(collector *MetricsCollector) ResponseInterceptor {
	return func(ctx context.Context, req *RequestInfo, resp *ResponseInfo) error {
		var latency time.Duration
		if start, ok := req.Meta[metaStartTime].(time.Time); ok {
			latency = time.Since(start)
		}

		failed := resp.Err != nil || resp.StatusCode >= http.StatusBadRequest
		collector.record(req.Method+" "+req.URL, latency, failed)

		return nil
	}
}

// CircuitBreakerConfig configures the circuit breaker interceptors.
type CircuitBreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// SuccessThreshold is the half-open success count that closes it.
	SuccessThreshold int
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker sheds requests after repeated failures. Safe for concurrent
// use.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker; nil config selects the defaults.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = &CircuitBreakerConfig{
			Threshold:        constants.CircuitBreakerThreshold,
			Timeout:          constants.CircuitBreakerTimeout,
			SuccessThreshold: constants.CircuitBreakerSuccessThreshold,
		}
	}

	return &CircuitBreaker{config: *config}
}

// Allow reports whether a request may proceed. An expired open circuit moves
// to half-open and lets the probe through.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.lastFailure) <= b.config.Timeout {
			return ErrCircuitBreakerOpen
		}

		b.state = breakerHalfOpen
		b.successes = 0
	}

	return nil
}

func (b *CircuitBreaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.failures++
		b.lastFailure = time.Now()

		if b.state == breakerHalfOpen || b.failures >= b.config.Threshold {
			b.state = breakerOpen
		}

		return
	}

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = breakerClosed
			b.failures = 0
		}
	case breakerClosed:
		b.failures = 0
	case breakerOpen:
	}
}

// CircuitBreakerRequestInterceptor vetoes requests while the circuit is
// open.
func CircuitBreakerRequestInterceptor(breaker *CircuitBreaker) RequestInterceptor {
	return func(ctx context.Context, req *RequestInfo) error {
		return breaker.Allow()
	}
}

// CircuitBreakerResponseInterceptor feeds outcomes into the breaker. Server
// errors and transport failures count as failures; API errors under 500 do
// not.
func CircuitBreakerResponseInterceptor(breaker *CircuitBreaker) ResponseInterceptor {
	return func(ctx context.Context, req *RequestInfo, resp *ResponseInfo) error {
		failed := resp.StatusCode >= http.StatusInternalServerError ||
			(resp.Err != nil && resp.StatusCode == 0)
		breaker.record(failed)

		return nil
	}
}
