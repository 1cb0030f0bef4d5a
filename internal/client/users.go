package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/geoworks-io/gisapi/internal/constants"
	gishttp "github.com/geoworks-io/gisapi/internal/http"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

const userSelfCacheKey = "community:self"

// UsersClient implements gisapi.UsersClient. The profile is cached and
// concurrent first fetches are collapsed into one request.
type UsersClient struct {
	httpClient *gishttp.Client
	cache      gisapi.Cache
	group      singleflight.Group
}

// NewUsersClient creates a users client backed by the given cache.
func NewUsersClient(httpClient *gishttp.Client, cache gisapi.Cache) *UsersClient {
	return &UsersClient{
		httpClient: httpClient,
		cache:      cache,
	}
}

// Self fetches the authenticated user's profile.
func (c *UsersClient) Self(ctx context.Context) (*gisapi.UserInfo, error) {
	if entry, err := c.cache.Get(ctx, userSelfCacheKey); err == nil {
		var info gisapi.UserInfo
		if err := json.Unmarshal(entry.Data, &info); err == nil {
			return &info, nil
		}
	}

	value, err, _ := c.group.Do(userSelfCacheKey, func() (interface{}, error) {
		resp, err := c.httpClient.Get(ctx, "/community/self", nil)
		if err != nil {
			return nil, fmt.Errorf("fetching user profile: %w", err)
		}

		var info gisapi.UserInfo
		if err := json.Unmarshal(resp.Body, &info); err != nil {
			return nil, fmt.Errorf("parsing user profile: %w", err)
		}

		_ = c.cache.Set(ctx, userSelfCacheKey, &gisapi.CacheEntry{
			Data:      resp.Body,
			ExpiresAt: time.Now().Add(constants.UserInfoCacheTTL),
		})

		return &info, nil
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

// ClearCache invalidates the cached profile.
func (c *UsersClient) ClearCache() {
	_ = c.cache.Delete(context.Background(), userSelfCacheKey)
}
