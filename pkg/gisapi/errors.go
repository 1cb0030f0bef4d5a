package gisapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geoworks-io/gisapi/internal/constants"
)

// APIError represents the error object embedded in a platform response.
// The platform reports most failures inside an HTTP 200 body as
// {"error": {"code": ..., "message": ..., "details": [...]}}.
type APIError struct {
	Code        int      `json:"code"                  yaml:"code"`
	Message     string   `json:"message"               yaml:"message"`
	MessageCode string   `json:"messageCode,omitempty" yaml:"messageCode,omitempty"`
	Details     []string `json:"details,omitempty"     yaml:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.MessageCode != "" {
		return fmt.Sprintf("%s: %s (code: %d)", e.MessageCode, e.Message, e.Code)
	}

	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// ResponseError represents a request that the platform rejected, carrying
// the embedded error plus enough request context to retry or report.
type ResponseError struct {
	Err        APIError `json:"error"`
	URL        string   `json:"-"`
	StatusCode int      `json:"-"`
}

// Error implements the error interface for ResponseError.
func (e *ResponseError) Error() string {
	if e.Err.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}

	return e.Err.Error()
}

// AuthErrorCode discriminates failures of the credential manager's own
// refresh and federation exchanges.
type AuthErrorCode string

const (
	// TokenRefreshFailed: the primary token refresh exchange failed.
	TokenRefreshFailed AuthErrorCode = "TOKEN_REFRESH_FAILED"

	// GenerateTokenForServerFailed: the server-scoped token exchange failed.
	GenerateTokenForServerFailed AuthErrorCode = "GENERATE_TOKEN_FOR_SERVER_FAILED"

	// RefreshTokenExchangeFailed: exchanging the refresh token for a new
	// access token failed.
	RefreshTokenExchangeFailed AuthErrorCode = "REFRESH_TOKEN_EXCHANGE_FAILED"

	// NotFederated: the target server does not trust tokens issued by the
	// configured portal.
	NotFederated AuthErrorCode = "NOT_FEDERATED"

	// UnknownAuthError: the exchange failed for a reason the manager could
	// not classify.
	UnknownAuthError AuthErrorCode = "UNKNOWN_ERROR_CODE"
)

// AuthError is raised exclusively by the credential manager's refresh and
// federation logic. It is fatal to the current refresh attempt but not to
// the manager; the next GetToken call will attempt another refresh.
type AuthError struct {
	Code    AuthErrorCode
	Message string
	URL     string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthError creates an AuthError for the given exchange URL.
func NewAuthError(code AuthErrorCode, message, url string) *AuthError {
	return &AuthError{Code: code, Message: message, URL: url}
}

// Static errors that can be wrapped with context.
var (
	ErrConfigRequired          = errors.New("config is required")
	ErrPortalRequired          = errors.New("portal URL is required")
	ErrNoTokenManager          = errors.New("no token manager configured")
	ErrAPIKeyCannotRefresh     = errors.New("API key credentials cannot be refreshed")
	ErrNoCredentials           = errors.New("no valid credentials available")
	ErrJobNotSucceeded         = errors.New("job has not succeeded")
	ErrJobResultNotFound       = errors.New("job result parameter not found")
	ErrJobURLRequired          = errors.New("job operation URL is required")
	ErrJobIDMissing            = errors.New("submit response missing jobId")
	ErrNoTokenEndpoint         = errors.New("no token endpoint found in portal self response")
	ErrCircuitBreakerOpen      = errors.New("circuit breaker is open")
	ErrSkipTLSOnlyInDev        = errors.New("skipTLS is only allowed in development environments")
	ErrPortalSelfRequestFailed = errors.New("portal self request failed")
	ErrUnknownCredentialType   = errors.New("unknown credential type")
	ErrNotAuthenticated        = errors.New("not authenticated")
	ErrUnknownConfigKey        = errors.New("unknown configuration key")
)

// IsInvalidToken reports whether the error signals an invalid, expired, or
// missing token. These errors are recoverable by refreshing credentials and
// replaying the request; nothing else is.
func IsInvalidToken(err error) bool {
	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Code == constants.CodeInvalidToken || apiErr.Code == constants.CodeTokenRequired
	}

	errResp := &ResponseError{}
	if errors.As(err, &errResp) {
		return errResp.Err.Code == constants.CodeInvalidToken || errResp.Err.Code == constants.CodeTokenRequired
	}

	return false
}

// IsNotFederated reports whether the error is a federation refusal.
func IsNotFederated(err error) bool {
	authErr := &AuthError{}
	if errors.As(err, &authErr) {
		return authErr.Code == NotFederated
	}

	return false
}

// AuthCode extracts the discriminated code from an AuthError, or "" when the
// error is not one.
func AuthCode(err error) AuthErrorCode {
	authErr := &AuthError{}
	if errors.As(err, &authErr) {
		return authErr.Code
	}

	return ""
}

// ParseResponseError parses an embedded platform error from a response body.
// It returns nil when the body does not contain an error object.
func ParseResponseError(data []byte) (*ResponseError, error) {
	var errResp ResponseError

	err := json.Unmarshal(data, &errResp)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal response error: %w", err)
	}

	if errResp.Err.Code == 0 && errResp.Err.Message == "" {
		return nil, nil
	}

	return &errResp, nil
}
