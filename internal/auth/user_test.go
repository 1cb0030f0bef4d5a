package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserPortal(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/community/self" {
			http.NotFound(w, r)
			return
		}

		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"alice","fullName":"Alice Example","role":"org_user"}`))
	}))
	t.Cleanup(server.Close)

	return server
}

func newUserManager(portalURL string) *PortalTokenManager {
	manager := NewPortalTokenManager(&OAuthConfig{PortalURL: portalURL})
	manager.SetToken("tok", time.Now().Add(time.Hour))

	return manager
}

func TestGetUserCachesProfile(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	portal := newUserPortal(t, &hits)
	manager := newUserManager(portal.URL)

	info, err := manager.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "Alice Example", info.FullName)

	_, err = manager.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestGetUserConcurrentFirstCalls(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	portal := newUserPortal(t, &hits)
	manager := newUserManager(portal.URL)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			info, err := manager.GetUser(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "alice", info.Username)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
}

func TestClearCachedUserInfoForcesRefetch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	portal := newUserPortal(t, &hits)
	manager := newUserManager(portal.URL)

	_, err := manager.GetUser(context.Background())
	require.NoError(t, err)

	manager.ClearCachedUserInfo()

	_, err = manager.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetUsernamePrefersConfiguredName(t *testing.T) {
	t.Parallel()

	manager := NewPortalTokenManager(&OAuthConfig{
		PortalURL: "http://unused.invalid",
		Username:  "alice",
		Password:  "secret",
	})

	name, err := manager.GetUsername(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestGetUsernameFromTokenResponse(t *testing.T) {
	t.Parallel()

	manager := NewPortalTokenManager(&OAuthConfig{PortalURL: "http://unused.invalid"})
	manager.store.Set(&Token{AccessToken: "tok", Username: "bob"})

	name, err := manager.GetUsername(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}
