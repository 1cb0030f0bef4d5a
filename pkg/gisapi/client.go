package gisapi

import (
	"context"
	"time"
)

// UsersClient provides access to the authenticated principal's profile.
type UsersClient interface {
	// Self fetches the authenticated user's profile. Results are cached;
	// concurrent calls share one in-flight request.
	Self(ctx context.Context) (*UserInfo, error)
	// ClearCache invalidates the cached profile so the next Self call
	// re-fetches.
	ClearCache()
}

// Client is the root of the SDK: resource clients plus portal-level
// operations.
type Client interface {
	Jobs() JobsClient
	Users() UsersClient

	// GetPortalSelf fetches the portal's self-describe document.
	GetPortalSelf(ctx context.Context) (*PortalSelf, error)

	// GetToken returns a valid bearer token for the configured portal,
	// refreshing transparently when needed.
	GetToken(ctx context.Context) (string, error)

	// RefreshCredentials forces a token refresh regardless of expiry.
	RefreshCredentials(ctx context.Context) error
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Config represents client configuration for building a Client.
//
// # Authentication precedence
//
// The concrete client applies the following precedence:
//  1. APIKey: used directly as a static bearer credential; never refreshed.
//  2. ClientID/ClientSecret: OAuth-style client_credentials exchange against
//     the portal token endpoint. A RefreshToken, if also provided, is used
//     to renew access tokens.
//  3. Username/Password: password exchange against the portal token
//     endpoint.
//  4. No credentials: requests are sent without authentication.
//
// # Token URL discovery
//
// If authentication is required and TokenURL is not provided, gisclient.New
// discovers the token endpoint from the portal's rest/info document.
//
// # Timeouts, retries, and TLS
//
// Per-request timeouts should generally be controlled via context passed to
// client methods. Retry behavior can be tuned via RetryMax/RetryWaitMin/
// RetryWaitMax. SkipTLSVerify is only honored during endpoint discovery and
// only when GISAPI_DEV_MODE is set; do not use it in production.
type Config struct {
	// Portal: base URL of the portal's sharing API
	// (e.g., "https://www.example.com/portal/sharing/rest"). gisclient.New
	// normalizes this value by trimming a trailing slash and adding
	// "https://" if no scheme is present.
	Portal string

	// Authentication options (provide one mode)
	// ClientID: OAuth client ID for the client_credentials exchange.
	ClientID string
	// ClientSecret: OAuth client secret used with ClientID.
	ClientSecret string
	// Username: account username for the password exchange.
	Username string
	// Password: account password for the password exchange.
	Password string
	// RefreshToken: optional longer-lived token used to renew access tokens.
	RefreshToken string
	// APIKey: raw API key used directly as a bearer credential.
	APIKey string
	// TokenURL: full token endpoint. If empty and authentication is
	// required, gisclient.New discovers it from rest/info (preferred).
	TokenURL string

	// Optional configurations
	// HTTPTimeout: optional default HTTP timeout where supported.
	HTTPTimeout time.Duration
	// RetryMax: maximum number of retries for transient failures (>=500,
	// 429, and connection errors). If 0, a sensible default is used.
	RetryMax int
	// RetryWaitMin: minimum backoff between retries. Applied when RetryMax > 0.
	RetryWaitMin time.Duration
	// RetryWaitMax: maximum backoff between retries. Applied when RetryMax > 0.
	RetryWaitMax time.Duration
	// PollingRate: default interval between job status polls.
	PollingRate time.Duration
	// AuthRetryAttempts: total attempts for a request that keeps failing
	// with an invalid-token error. Defaults to 2, one refresh plus one
	// retry; 1 disables the retry.
	AuthRetryAttempts int
	// Interceptors: optional chain run by the transport around every
	// request.
	Interceptors *InterceptorChain
	// Debug: enables verbose HTTP request/response logging when a Logger is
	// provided.
	Debug bool
	// Logger: optional structured logger used by the HTTP layer and helpers.
	Logger Logger
	// SkipTLSVerify: if true, TLS verification is skipped during endpoint
	// discovery only, and only when GISAPI_DEV_MODE is set.
	SkipTLSVerify bool
	// UserAgent: overrides the default User-Agent header.
	UserAgent string
	// Cache: optional response cache configuration. If nil, profile caching
	// uses an in-process memory cache.
	Cache *CacheConfig
}
