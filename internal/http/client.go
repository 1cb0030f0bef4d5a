// Package http provides the HTTP transport used by the API clients. It
// attaches tokens, retries transient failures, and surfaces platform errors
// embedded in otherwise successful responses.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// TokenProvider resolves the token to attach to a request for a given
// target URL. Federation-aware providers return server-scoped tokens for
// off-portal URLs.
type TokenProvider interface {
	GetToken(ctx context.Context, requestURL string) (string, error)
}

// tokenRefresher is implemented by providers whose portal token can be
// force-refreshed after an auth failure.
type tokenRefresher interface {
	RefreshToken(ctx context.Context) error
}

// serverTokenInvalidator is implemented by providers that cache per-server
// tokens.
type serverTokenInvalidator interface {
	InvalidateServerToken(requestURL string)
}

// Request describes an API request. Path may be absolute, which is how job
// URLs on federated servers are addressed.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string

	// Body is JSON-encoded when set. Form takes precedence and is sent
	// urlencoded, which is what GIS operation endpoints expect.
	Body any
	Form url.Values
}

// Response is a fully-read API response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client is the transport shared by all resource clients.
type Client struct {
	baseURL      string
	tokens       TokenProvider
	httpClient   *retryablehttp.Client
	logger       gisapi.Logger
	debug        bool
	userAgent    string
	authRetries  int
	interceptors *gisapi.InterceptorChain
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for debug logging.
func WithLogger(logger gisapi.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig overrides the retry policy for transient failures.
func WithRetryConfig(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = retryMax
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithHTTPClient replaces the underlying standard client, keeping the retry
// wrapper.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = httpClient
	}
}

// WithAuthRetryAttempts sets the total attempts for a request that keeps
// failing with an invalid-token error. One means no retry after a refresh.
func WithAuthRetryAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts >= 1 {
			c.authRetries = attempts
		}
	}
}

// WithInterceptors installs an interceptor chain run around every request.
func WithInterceptors(chain *gisapi.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// NewClient creates a transport rooted at baseURL. tokens may be nil for
// anonymous access.
func NewClient(baseURL string, tokens TokenProvider, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout

	client := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		tokens:      tokens,
		httpClient:  retryClient,
		userAgent:   "gisapi/1.0",
		authRetries: constants.DefaultAuthRetryAttempts,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the transport's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes the request. Platform errors embedded in 200 responses are
// returned as *gisapi.ResponseError alongside the response. Invalid-token
// failures trigger a forced token refresh and a retry, up to the configured
// attempt limit.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var (
		resp *Response
		err  error
	)

	for attempt := 0; attempt < c.authRetries; attempt++ {
		resp, err = c.do(ctx, req)
		if err == nil || !gisapi.IsInvalidToken(err) || c.tokens == nil {
			return resp, err
		}

		if attempt == c.authRetries-1 {
			break
		}

		if c.debug && c.logger != nil {
			c.logger.Debug("Retrying after invalid token", map[string]interface{}{
				"path": req.Path,
			})
		}

		if invalidator, ok := c.tokens.(serverTokenInvalidator); ok {
			invalidator.InvalidateServerToken(c.resolveURL(req.Path))
		}

		if refresher, ok := c.tokens.(tokenRefresher); ok {
			if refreshErr := refresher.RefreshToken(ctx); refreshErr != nil {
				// Keep the auth failure visible alongside the refresh
				// failure so callers can still classify it.
				return resp, errors.Join(err, refreshErr)
			}
		}
	}

	return resp, err
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	fullURL := c.resolveURL(req.Path)

	query := url.Values{}
	for key, values := range req.Query {
		query[key] = values
	}

	if query.Get("f") == "" {
		query.Set("f", "json")
	}

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}

		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL+"?"+query.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if c.tokens != nil {
		token, err := c.tokens.GetToken(ctx, fullURL)
		if err != nil {
			return nil, err
		}

		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	var reqInfo *gisapi.RequestInfo
	if c.interceptors != nil {
		// Headers aliases the outgoing header map, so interceptors can add
		// or override headers in place.
		reqInfo = &gisapi.RequestInfo{
			Method:  req.Method,
			URL:     fullURL,
			Headers: httpReq.Header,
		}

		if err := c.interceptors.RunRequest(ctx, reqInfo); err != nil {
			return nil, err
		}
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    fullURL,
		})
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		doErr := fmt.Errorf("executing request: %w", err)
		c.observeResponse(ctx, reqInfo, nil, doErr)

		return nil, doErr
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		readErr := fmt.Errorf("reading response body: %w", err)
		c.observeResponse(ctx, reqInfo, nil, readErr)

		return nil, readErr
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status": httpResp.StatusCode,
			"url":    fullURL,
		})
	}

	respErr := c.classifyResponse(fullURL, resp)
	c.observeResponse(ctx, reqInfo, resp, respErr)

	return resp, respErr
}

// classifyResponse turns error payloads into *gisapi.ResponseError. The
// platform reports most errors in a 200 body.
func (c *Client) classifyResponse(fullURL string, resp *Response) error {
	if respErr, parseErr := gisapi.ParseResponseError(resp.Body); parseErr == nil && respErr != nil {
		respErr.URL = fullURL
		respErr.StatusCode = resp.StatusCode

		return respErr
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &gisapi.ResponseError{
			Err: gisapi.APIError{
				Code:    resp.StatusCode,
				Message: http.StatusText(resp.StatusCode),
			},
			URL:        fullURL,
			StatusCode: resp.StatusCode,
		}
	}

	return nil
}

// observeResponse feeds the outcome to the response interceptors. Observers
// do not alter the outcome; their errors are only logged.
func (c *Client) observeResponse(ctx context.Context, reqInfo *gisapi.RequestInfo, resp *Response, cause error) {
	if c.interceptors == nil || reqInfo == nil {
		return
	}

	info := &gisapi.ResponseInfo{Err: cause}
	if resp != nil {
		info.StatusCode = resp.StatusCode
		info.Headers = resp.Headers
	}

	if err := c.interceptors.RunResponse(ctx, reqInfo, info); err != nil && c.logger != nil {
		c.logger.Warn("Response interceptor failed", map[string]interface{}{
			"url":   reqInfo.URL,
			"error": err.Error(),
		})
	}
}

// resolveURL keeps absolute paths as-is and roots relative ones at the base
// URL.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.baseURL + path
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST request with a urlencoded form, the calling convention
// for GIS operation endpoints.
func (c *Client) Post(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Form: form})
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}
