package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// GetUser returns the authenticated user's profile from the portal,
// fetching it at most once until the cache is cleared. Concurrent first
// calls share one request.
func (m *PortalTokenManager) GetUser(ctx context.Context) (*gisapi.UserInfo, error) {
	m.userMu.RLock()
	cached := m.userInfo
	m.userMu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	value, err, _ := m.group.Do("user", func() (interface{}, error) {
		m.userMu.RLock()
		cached := m.userInfo
		m.userMu.RUnlock()

		if cached != nil {
			return cached, nil
		}

		info, err := m.fetchUser(ctx)
		if err != nil {
			return nil, err
		}

		m.userMu.Lock()
		m.userInfo = info
		m.userMu.Unlock()

		return info, nil
	})
	if err != nil {
		return nil, err
	}

	info, ok := value.(*gisapi.UserInfo)
	if !ok {
		return nil, gisapi.ErrNotAuthenticated
	}

	return info, nil
}

// GetUsername resolves the username without a network call when possible:
// configured username first, then the username echoed by the token
// endpoint, then the user profile.
func (m *PortalTokenManager) GetUsername(ctx context.Context) (string, error) {
	if m.config.Username != "" {
		return m.config.Username, nil
	}

	if token := m.store.Get(); token != nil && token.Username != "" {
		return token.Username, nil
	}

	info, err := m.GetUser(ctx)
	if err != nil {
		return "", err
	}

	return info.Username, nil
}

// ClearCachedUserInfo drops the cached profile so the next GetUser fetches
// a fresh one.
func (m *PortalTokenManager) ClearCachedUserInfo() {
	m.userMu.Lock()
	defer m.userMu.Unlock()

	m.userInfo = nil
}

func (m *PortalTokenManager) fetchUser(ctx context.Context) (*gisapi.UserInfo, error) {
	if m.config.PortalURL == "" {
		return nil, gisapi.ErrPortalRequired
	}

	accessToken, err := m.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	selfURL := m.config.PortalURL + "/community/self?f=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, selfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting user profile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading user profile: %w", err)
	}

	if respErr, perr := gisapi.ParseResponseError(body); perr == nil && respErr != nil {
		respErr.URL = selfURL
		respErr.StatusCode = resp.StatusCode

		return nil, respErr
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("user profile request returned status %d", resp.StatusCode)
	}

	var info gisapi.UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing user profile: %w", err)
	}

	return &info, nil
}
