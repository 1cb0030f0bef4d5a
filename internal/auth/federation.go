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
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// CredentialProvider resolves the token to attach to a request for a given
// target URL. It is what the transport layer consumes.
type CredentialProvider interface {
	GetToken(ctx context.Context, requestURL string) (string, error)
}

// FederationManager routes token requests by origin: requests against the
// portal itself use the primary manager's token, requests against federated
// servers get a server-scoped token exchanged from the portal token.
//
// Server tokens are cached per server root and re-exchanged when they
// expire. A server that does not declare the portal as its owning system is
// rejected without a token exchange.
type FederationManager struct {
	portal     string
	primary    TokenManager
	httpClient *http.Client

	servers *ttlcache.Cache[string, *Token]
	group   singleflight.Group
}

// NewFederationManager creates a federation manager in front of the primary
// token manager.
func NewFederationManager(portal string, primary TokenManager, httpClient *http.Client) *FederationManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	cache := ttlcache.New[string, *Token](
		ttlcache.WithTTL[string, *Token](constants.FederatedTokenCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *Token](),
	)
	go cache.Start()

	return &FederationManager{
		portal:     strings.TrimSuffix(portal, "/"),
		primary:    primary,
		httpClient: httpClient,
		servers:    cache,
	}
}

// Primary returns the wrapped portal token manager.
func (m *FederationManager) Primary() TokenManager {
	return m.primary
}

// GetToken returns the token to use for requestURL. Portal-origin requests
// use the portal token; other origins go through the federated exchange.
func (m *FederationManager) GetToken(ctx context.Context, requestURL string) (string, error) {
	if requestURL == "" || sameOrigin(requestURL, m.portal) {
		return m.primary.GetToken(ctx)
	}

	root, err := serverRestRoot(requestURL)
	if err != nil {
		return "", err
	}

	if item := m.servers.Get(root); item != nil && item.Value().Valid() {
		return item.Value().AccessToken, nil
	}

	value, err, _ := m.group.Do(root, func() (interface{}, error) {
		if item := m.servers.Get(root); item != nil && item.Value().Valid() {
			return item.Value().AccessToken, nil
		}

		token, err := m.exchangeServerToken(ctx, root)
		if err != nil {
			return nil, err
		}

		ttl := constants.FederatedTokenCacheTTL
		if !token.ExpiresAt.IsZero() {
			if until := time.Until(token.ExpiresAt) - constants.TokenExpirationBuffer; until > 0 && until < ttl {
				ttl = until
			}
		}
		m.servers.Set(root, token, ttl)

		return token.AccessToken, nil
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

// InvalidateServerToken drops the cached token for the server owning
// requestURL, forcing a fresh exchange on the next request.
func (m *FederationManager) InvalidateServerToken(requestURL string) {
	if root, err := serverRestRoot(requestURL); err == nil {
		m.servers.Delete(root)
	}
}

// Stop releases the cache's background goroutine.
func (m *FederationManager) Stop() {
	m.servers.Stop()
}

// exchangeServerToken verifies that the server is federated with the portal
// and trades the portal token for a server token.
func (m *FederationManager) exchangeServerToken(ctx context.Context, root string) (*Token, error) {
	info, err := m.serverInfo(ctx, root)
	if err != nil {
		return nil, err
	}

	if info.OwningSystemURL == "" || !sameOrigin(info.OwningSystemURL, m.portal) {
		return nil, gisapi.NewAuthError(gisapi.NotFederated,
			fmt.Sprintf("server %s is not federated with portal %s", root, m.portal), root)
	}

	portalToken, err := m.primary.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	tokenURL := info.TokenServicesURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(info.OwningSystemURL, "/") + "/sharing/rest/generateToken"
	}

	form := url.Values{}
	form.Set("f", "json")
	form.Set("token", portalToken)
	form.Set("serverUrl", root)
	form.Set("expiration", strconv.Itoa(constants.DefaultTokenExpirationMinutes))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating server token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, gisapi.NewAuthError(gisapi.GenerateTokenForServerFailed, err.Error(), tokenURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gisapi.NewAuthError(gisapi.GenerateTokenForServerFailed, err.Error(), tokenURL)
	}

	if msg := tokenErrorMessage(body); msg != "" || resp.StatusCode >= http.StatusBadRequest {
		if msg == "" {
			msg = fmt.Sprintf("generateToken returned status %d", resp.StatusCode)
		}

		return nil, gisapi.NewAuthError(gisapi.GenerateTokenForServerFailed, msg, tokenURL)
	}

	var generated struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
		SSL     bool   `json:"ssl"`
	}

	if err := json.Unmarshal(body, &generated); err != nil {
		return nil, gisapi.NewAuthError(gisapi.GenerateTokenForServerFailed,
			fmt.Sprintf("parsing generateToken response: %v", err), tokenURL)
	}

	if generated.Token == "" {
		return nil, gisapi.NewAuthError(gisapi.GenerateTokenForServerFailed,
			"generateToken response missing token", tokenURL)
	}

	token := &Token{
		AccessToken: generated.Token,
		SSL:         generated.SSL,
	}
	if generated.Expires > 0 {
		token.ExpiresAt = time.UnixMilli(generated.Expires)
	}

	return token, nil
}

// serverInfo fetches the server's rest/info document.
func (m *FederationManager) serverInfo(ctx context.Context, root string) (*gisapi.ServerInfo, error) {
	infoURL := root + "/info?f=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating server info request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting server info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading server info: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("server info returned status %d", resp.StatusCode)
	}

	var info gisapi.ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing server info: %w", err)
	}

	return &info, nil
}

// sameOrigin reports whether two URLs share a scheme-agnostic host. Ports
// are compared as written.
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}

	ub, err := url.Parse(b)
	if err != nil {
		return false
	}

	return strings.EqualFold(ua.Host, ub.Host)
}

// serverRestRoot derives the REST API root of the server owning u, e.g.
// "https://gis.example.com/server/rest" from a service request URL.
func serverRestRoot(u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}

	path := parsed.Path
	if idx := strings.Index(path, "/rest/"); idx >= 0 {
		path = path[:idx+len("/rest")]
	} else if strings.HasSuffix(path, "/rest") {
		// already the root
	} else {
		path = strings.TrimSuffix(path, "/") + "/rest"
	}

	return parsed.Scheme + "://" + parsed.Host + path, nil
}
