// Package client implements the API clients on top of the shared transport.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/geoworks-io/gisapi/internal/auth"
	"github.com/geoworks-io/gisapi/internal/constants"
	gishttp "github.com/geoworks-io/gisapi/internal/http"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// Client implements gisapi.Client.
type Client struct {
	config     *gisapi.Config
	httpClient *gishttp.Client
	tokens     auth.TokenManager
	federation *auth.FederationManager

	jobs  *JobsClient
	users *UsersClient
}

// New creates a client from the given config. The config's Portal must be
// normalized (scheme present, no trailing slash) by the caller; gisclient.New
// does this and is the usual entry point.
func New(config *gisapi.Config) (*Client, error) {
	if config == nil {
		return nil, gisapi.ErrConfigRequired
	}

	if config.Portal == "" {
		return nil, gisapi.ErrPortalRequired
	}

	client := &Client{config: config}

	client.tokens = createTokenManager(config)

	var provider gishttp.TokenProvider
	if client.tokens != nil {
		client.federation = auth.NewFederationManager(config.Portal, client.tokens, nil)
		provider = client.federation
	}

	httpOpts := []gishttp.Option{}
	if config.Logger != nil {
		httpOpts = append(httpOpts, gishttp.WithLogger(config.Logger))
	}

	if config.Debug {
		httpOpts = append(httpOpts, gishttp.WithDebug(true))
	}

	if config.RetryMax > 0 {
		httpOpts = append(httpOpts,
			gishttp.WithRetryConfig(config.RetryMax, config.RetryWaitMin, config.RetryWaitMax))
	}

	if config.UserAgent != "" {
		httpOpts = append(httpOpts, gishttp.WithUserAgent(config.UserAgent))
	}

	if config.AuthRetryAttempts > 0 {
		httpOpts = append(httpOpts, gishttp.WithAuthRetryAttempts(config.AuthRetryAttempts))
	}

	if config.Interceptors != nil {
		httpOpts = append(httpOpts, gishttp.WithInterceptors(config.Interceptors))
	}

	client.httpClient = gishttp.NewClient(config.Portal, provider, httpOpts...)

	pollingRate := config.PollingRate
	if pollingRate <= 0 {
		pollingRate = constants.DefaultPollingRate
	}

	client.jobs = NewJobsClient(client.httpClient, config.Logger, pollingRate)

	cache, err := userCache(config)
	if err != nil {
		return nil, fmt.Errorf("building user cache: %w", err)
	}

	client.users = NewUsersClient(client.httpClient, cache)

	return client, nil
}

// createTokenManager picks the credential mode: API key, then OAuth app
// credentials, then username/password, then anonymous.
func createTokenManager(config *gisapi.Config) auth.TokenManager {
	switch {
	case config.APIKey != "":
		return auth.NewAPIKeyManager(config.APIKey)
	case config.ClientID != "" || config.Username != "" || config.RefreshToken != "":
		return auth.NewPortalTokenManager(&auth.OAuthConfig{
			PortalURL:    config.Portal,
			TokenURL:     config.TokenURL,
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Username:     config.Username,
			Password:     config.Password,
			RefreshToken: config.RefreshToken,
		})
	default:
		return nil
	}
}

func userCache(config *gisapi.Config) (gisapi.Cache, error) {
	if config.Cache == nil {
		return gisapi.NewMemoryCache(constants.DefaultCacheSize), nil
	}

	return gisapi.NewCacheFromConfig(config.Cache)
}

// Jobs returns the jobs client.
func (c *Client) Jobs() gisapi.JobsClient {
	return c.jobs
}

// Users returns the users client.
func (c *Client) Users() gisapi.UsersClient {
	return c.users
}

// GetPortalSelf fetches the portal's self-describe document.
func (c *Client) GetPortalSelf(ctx context.Context) (*gisapi.PortalSelf, error) {
	resp, err := c.httpClient.Get(ctx, "/portals/self", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gisapi.ErrPortalSelfRequestFailed, err)
	}

	var self gisapi.PortalSelf
	if err := json.Unmarshal(resp.Body, &self); err != nil {
		return nil, fmt.Errorf("parsing portal self response: %w", err)
	}

	return &self, nil
}

// GetToken returns a valid portal token.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", gisapi.ErrNoTokenManager
	}

	return c.tokens.GetToken(ctx)
}

// RefreshCredentials forces a token refresh regardless of expiry.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	if c.tokens == nil {
		return gisapi.ErrNoTokenManager
	}

	return c.tokens.RefreshToken(ctx)
}

// TokenManager exposes the underlying credential manager for session
// persistence.
func (c *Client) TokenManager() auth.TokenManager {
	return c.tokens
}

// HTTPClient exposes the transport for sibling packages.
func (c *Client) HTTPClient() *gishttp.Client {
	return c.httpClient
}

// Close releases background resources.
func (c *Client) Close() {
	if c.federation != nil {
		c.federation.Stop()
	}
}
