package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// TokenManager supplies a portal-scoped bearer token.
type TokenManager interface {
	// GetToken returns a valid access token, refreshing if necessary.
	GetToken(ctx context.Context) (string, error)

	// RefreshToken forces a token refresh.
	RefreshToken(ctx context.Context) error

	// SetToken manually sets a token with its expiration time.
	SetToken(token string, expiresAt time.Time)
}

// OAuthConfig configures a PortalTokenManager.
type OAuthConfig struct {
	// PortalURL is the portal sharing API root, e.g.
	// "https://example.com/portal/sharing/rest".
	PortalURL string

	// TokenURL is the token endpoint. Derived from PortalURL when empty.
	TokenURL string

	// ClientID and ClientSecret select the client_credentials grant when
	// no username or refresh token is configured.
	ClientID     string
	ClientSecret string

	// Username and Password select the password grant.
	Username string
	Password string

	// RefreshToken selects the refresh_token grant and takes precedence
	// over the other credential pairs.
	RefreshToken string

	// ExpirationMinutes is the requested token validity. Servers may
	// grant less.
	ExpirationMinutes int

	// HTTPClient overrides the client used for token requests.
	HTTPClient *http.Client
}

// PortalTokenManager implements TokenManager against a portal OAuth token
// endpoint. Concurrent refreshes are collapsed into a single request.
type PortalTokenManager struct {
	config     *OAuthConfig
	store      *TokenStore
	group      singleflight.Group
	httpClient *http.Client

	userMu   sync.RWMutex
	userInfo *gisapi.UserInfo
}

// NewPortalTokenManager creates a token manager for the given config.
func NewPortalTokenManager(config *OAuthConfig) *PortalTokenManager {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	if config.TokenURL == "" && config.PortalURL != "" {
		config.TokenURL = strings.TrimSuffix(config.PortalURL, "/") + "/oauth2/token"
	}

	return &PortalTokenManager{
		config:     config,
		store:      NewTokenStore(),
		httpClient: httpClient,
	}
}

// Portal returns the configured portal URL.
func (m *PortalTokenManager) Portal() string {
	return m.config.PortalURL
}

// GetToken returns the cached token when still valid; otherwise it refreshes.
// Concurrent callers share one refresh request.
func (m *PortalTokenManager) GetToken(ctx context.Context) (string, error) {
	if token := m.store.Get(); token.Valid() {
		return token.AccessToken, nil
	}

	value, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have completed the refresh while this one
		// was waiting on the flight.
		if token := m.store.Get(); token.Valid() {
			return token.AccessToken, nil
		}

		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	accessToken, ok := value.(string)
	if !ok {
		return "", gisapi.ErrNoCredentials
	}

	return accessToken, nil
}

// RefreshToken forces a refresh. A forced refresh issued while another
// refresh is in flight joins that flight instead of doubling the request.
func (m *PortalTokenManager) RefreshToken(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})

	return err
}

// SetToken manually installs a token.
func (m *PortalTokenManager) SetToken(token string, expiresAt time.Time) {
	m.store.Set(&Token{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}

// CurrentToken returns the stored token, or nil.
func (m *PortalTokenManager) CurrentToken() *Token {
	return m.store.Get()
}

// refresh performs a token exchange using the strongest configured
// credential. The previous token is kept on failure.
func (m *PortalTokenManager) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("f", "json")

	expiration := m.config.ExpirationMinutes
	if expiration <= 0 {
		expiration = constants.DefaultTokenExpirationMinutes
	}
	form.Set("expiration", strconv.Itoa(expiration))

	var failureCode gisapi.AuthErrorCode

	refreshToken := m.refreshTokenValue()

	switch {
	case refreshToken != "":
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		form.Set("client_id", m.config.ClientID)
		failureCode = gisapi.RefreshTokenExchangeFailed
	case m.config.Username != "" && m.config.Password != "":
		form.Set("grant_type", "password")
		form.Set("username", m.config.Username)
		form.Set("password", m.config.Password)
		form.Set("client_id", m.config.ClientID)
		failureCode = gisapi.TokenRefreshFailed
	case m.config.ClientID != "" && m.config.ClientSecret != "":
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", m.config.ClientID)
		form.Set("client_secret", m.config.ClientSecret)
		failureCode = gisapi.TokenRefreshFailed
	default:
		return "", gisapi.ErrNoCredentials
	}

	token, err := m.exchange(ctx, form)
	if err != nil {
		return "", gisapi.NewAuthError(failureCode, err.Error(), m.config.TokenURL)
	}

	if token.Username == "" {
		token.Username = m.config.Username
	}

	m.store.Set(token)

	return token.AccessToken, nil
}

// exchange POSTs the form to the token endpoint and decodes the response.
func (m *PortalTokenManager) exchange(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if msg := tokenErrorMessage(body); msg != "" || resp.StatusCode >= http.StatusBadRequest {
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)
		}

		return nil, fmt.Errorf("token request failed: %s", msg)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	now := time.Now()

	switch {
	case token.ExpiresIn > 0:
		token.ExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	default:
		// Some deployments omit expires_in; fall back to the exp claim
		// when the token is a JWT.
		if exp, ok := jwtExpiry(token.AccessToken); ok {
			token.ExpiresAt = exp
		}
	}

	if token.RefreshTokenExpiresIn > 0 {
		token.RefreshTokenExpiresAt = now.Add(time.Duration(token.RefreshTokenExpiresIn) * time.Second)
	}

	return &token, nil
}

// refreshTokenValue prefers a rotated refresh token from the last exchange
// over the originally configured one.
func (m *PortalTokenManager) refreshTokenValue() string {
	if token := m.store.Get(); token != nil && token.RefreshToken != "" {
		if token.RefreshTokenExpiresAt.IsZero() || time.Now().Before(token.RefreshTokenExpiresAt) {
			return token.RefreshToken
		}
	}

	return m.config.RefreshToken
}

// jwtExpiry extracts the exp claim from a JWT without verifying its
// signature. Expiry is advisory here; the server still authorizes requests.
func jwtExpiry(raw string) (time.Time, bool) {
	parser := jwt.NewParser()

	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// tokenErrorMessage extracts the server's error message from a token
// response body. Portals report errors both in OAuth form
// ({"error":"invalid_request",...}) and in API form ({"error":{...}}).
func tokenErrorMessage(body []byte) string {
	var structured struct {
		Error struct {
			Code             int    `json:"code"`
			Message          string `json:"message"`
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &structured); err == nil {
		e := structured.Error
		switch {
		case e.Message != "":
			return e.Message
		case e.ErrorDescription != "":
			return fmt.Sprintf("%s: %s", e.Error, e.ErrorDescription)
		case e.Error != "":
			return e.Error
		}
	}

	var flat struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}

	if err := json.Unmarshal(body, &flat); err == nil {
		switch {
		case flat.Message != "":
			return flat.Message
		case flat.ErrorDescription != "":
			return fmt.Sprintf("%s: %s", flat.Error, flat.ErrorDescription)
		case flat.Error != "":
			return flat.Error
		}
	}

	return ""
}
