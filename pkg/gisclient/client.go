// Package gisclient is the main entry point for creating API clients.
package gisclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/geoworks-io/gisapi/internal/client"
	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// DevModeEnvVar gates TLS verification skipping during endpoint discovery.
const DevModeEnvVar = "GISAPI_DEV_MODE"

// New creates a client for the portal named in config. The portal URL is
// normalized, and when credentials require a token endpoint that is not
// configured it is discovered from the portal's rest/info document.
func New(ctx context.Context, config *gisapi.Config) (gisapi.Client, error) {
	if config == nil {
		return nil, gisapi.ErrConfigRequired
	}

	if config.Portal == "" {
		return nil, gisapi.ErrPortalRequired
	}

	config.Portal = normalizePortal(config.Portal)

	if needsAuth(config) && config.TokenURL == "" && config.APIKey == "" {
		tokenURL, err := discoverTokenEndpoint(ctx, config)
		if err != nil {
			return nil, err
		}

		config.TokenURL = tokenURL
	}

	return client.New(config)
}

// NewWithAPIKey creates a client authenticating with a static API key.
func NewWithAPIKey(ctx context.Context, portal, apiKey string) (gisapi.Client, error) {
	return New(ctx, &gisapi.Config{Portal: portal, APIKey: apiKey})
}

// NewWithPassword creates a client authenticating with username and
// password.
func NewWithPassword(ctx context.Context, portal, username, password string) (gisapi.Client, error) {
	return New(ctx, &gisapi.Config{Portal: portal, Username: username, Password: password})
}

// NewWithClientCredentials creates a client authenticating with OAuth
// application credentials.
func NewWithClientCredentials(ctx context.Context, portal, clientID, clientSecret string) (gisapi.Client, error) {
	return New(ctx, &gisapi.Config{Portal: portal, ClientID: clientID, ClientSecret: clientSecret})
}

// needsAuth reports whether the config carries credentials that require a
// token endpoint.
func needsAuth(config *gisapi.Config) bool {
	return config.APIKey != "" || config.ClientID != "" ||
		config.Username != "" || config.RefreshToken != ""
}

// normalizePortal trims a trailing slash and defaults the scheme to https.
func normalizePortal(portal string) string {
	portal = strings.TrimSuffix(portal, "/")

	if !strings.HasPrefix(portal, "http://") && !strings.HasPrefix(portal, "https://") {
		portal = "https://" + portal
	}

	return portal
}

// discoverTokenEndpoint reads the portal's rest/info document and derives
// the OAuth token endpoint from its token services URL.
func discoverTokenEndpoint(ctx context.Context, config *gisapi.Config) (string, error) {
	httpClient := &http.Client{Timeout: constants.ShortHTTPTimeout}

	if config.SkipTLSVerify {
		if os.Getenv(DevModeEnvVar) == "" {
			return "", gisapi.ErrSkipTLSOnlyInDev
		}

		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // dev-mode only, gated above
		}
	}

	infoURL := config.Portal + "/info?f=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating portal info request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting portal info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading portal info: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("portal info returned status %d", resp.StatusCode)
	}

	var info gisapi.ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parsing portal info: %w", err)
	}

	if info.TokenServicesURL == "" {
		return "", gisapi.ErrNoTokenEndpoint
	}

	// Portals advertise the legacy generateToken endpoint; the OAuth
	// endpoint lives next to it.
	if base, ok := strings.CutSuffix(info.TokenServicesURL, "/generateToken"); ok {
		return base + "/oauth2/token", nil
	}

	return info.TokenServicesURL, nil
}
