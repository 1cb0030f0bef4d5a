package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as discovery calls.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the default maximum number of retries.
	DefaultRetryMax = 5

	// LowRetryMax is used for operations that should retry fewer times.
	LowRetryMax = 3

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second

	// ExtendedRetryWaitMax is used for operations that need longer waits.
	ExtendedRetryWaitMax = 30 * time.Second

	// DefaultAuthRetryAttempts is the default attempt limit for the
	// retry-with-refreshed-credentials helper.
	DefaultAuthRetryAttempts = 2
)

// Token lifecycle.
const (
	// TokenExpirationBuffer is the buffer time before token expiration.
	// A token inside the buffer is treated as expired so that it is
	// refreshed before a request can race the real expiry.
	TokenExpirationBuffer = 30 * time.Second

	// DefaultTokenExpirationMinutes is the requested validity for
	// generateToken exchanges, in minutes (the wire unit).
	DefaultTokenExpirationMinutes = 120

	// FederatedTokenCacheTTL bounds how long a federated server token may
	// sit in the cache when the server does not report an expiry.
	FederatedTokenCacheTTL = 30 * time.Minute
)

// Job polling.
const (
	// DefaultPollingRate is the default interval between job status polls.
	DefaultPollingRate = 2 * time.Second

	// QuickPollingRate is used by tests and fast local servers.
	QuickPollingRate = 10 * time.Millisecond

	// DefaultJobPollTimeout is the default timeout for PollUntilComplete.
	DefaultJobPollTimeout = 5 * time.Minute
)

// Cache sizing.
const (
	// DefaultCacheSize is the default cache size limit.
	DefaultCacheSize = 1000

	// DefaultCacheTTL is the default cache time-to-live.
	DefaultCacheTTL = 5 * time.Minute

	// UserInfoCacheTTL is the TTL for cached user profiles.
	UserInfoCacheTTL = 10 * time.Minute

	// MaxCacheValueSize is the maximum size for cached values (1MB).
	MaxCacheValueSize = 1024 * 1024
)

// Circuit breaker.
const (
	// CircuitBreakerThreshold is the failure threshold for the circuit breaker.
	CircuitBreakerThreshold = 5

	// CircuitBreakerSuccessThreshold is the success threshold for the circuit breaker.
	CircuitBreakerSuccessThreshold = 2

	// CircuitBreakerTimeout is the timeout for the circuit breaker.
	CircuitBreakerTimeout = 30 * time.Second
)

// Display and output.
const (
	// JSONIndentSize is the number of spaces for JSON indentation.
	JSONIndentSize = 2

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"

	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"
)

// GIS HTTP semantics. The platform reports auth failures inside a 200
// response body using these codes.
const (
	// CodeInvalidToken is the embedded error code for an invalid or
	// expired token.
	CodeInvalidToken = 498

	// CodeTokenRequired is the embedded error code for a missing token.
	CodeTokenRequired = 499
)
