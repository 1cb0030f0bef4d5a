package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// staticTokenManager hands out a fixed portal token.
type staticTokenManager struct {
	token string
}

func (m *staticTokenManager) GetToken(_ context.Context) (string, error) {
	return m.token, nil
}

func (m *staticTokenManager) RefreshToken(_ context.Context) error { return nil }

func (m *staticTokenManager) SetToken(token string, _ time.Time) { m.token = token }

// fakeServer is a GIS server with an rest/info document and a portal-side
// generateToken endpoint.
type fakeServer struct {
	infoHits     atomic.Int64
	generateHits atomic.Int64

	server *httptest.Server
	portal *httptest.Server
}

func newFakeServer(t *testing.T, federated bool) *fakeServer {
	t.Helper()

	f := &fakeServer{}

	f.portal = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sharing/rest/generateToken" {
			http.NotFound(w, r)
			return
		}

		f.generateHits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "portal-token", r.PostForm.Get("token"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":   "server-token",
			"expires": time.Now().Add(time.Hour).UnixMilli(),
			"ssl":     true,
		})
	}))
	t.Cleanup(f.portal.Close)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/arcgis/rest/info" {
			http.NotFound(w, r)
			return
		}

		f.infoHits.Add(1)

		owning := ""
		if federated {
			owning = f.portal.URL
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"currentVersion":   11.2,
			"owningSystemUrl":  owning,
			"tokenServicesUrl": f.portal.URL + "/sharing/rest/generateToken",
		})
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeServer) serviceURL() string {
	return f.server.URL + "/arcgis/rest/services/Demo/GPServer/Buffer"
}

func TestFederationPortalOriginUsesPrimaryToken(t *testing.T) {
	t.Parallel()

	manager := NewFederationManager("https://portal.example.com/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	token, err := manager.GetToken(context.Background(),
		"https://portal.example.com/sharing/rest/community/self")
	require.NoError(t, err)
	assert.Equal(t, "portal-token", token)
}

func TestFederationExchangesServerToken(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, true)

	manager := NewFederationManager(fake.portal.URL+"/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	token, err := manager.GetToken(context.Background(), fake.serviceURL())
	require.NoError(t, err)
	assert.Equal(t, "server-token", token)
	assert.Equal(t, int64(1), fake.infoHits.Load())
	assert.Equal(t, int64(1), fake.generateHits.Load())

	// Second call for the same server hits the cache.
	token, err = manager.GetToken(context.Background(), fake.serviceURL())
	require.NoError(t, err)
	assert.Equal(t, "server-token", token)
	assert.Equal(t, int64(1), fake.infoHits.Load())
	assert.Equal(t, int64(1), fake.generateHits.Load())
}

func TestFederationRejectsUnfederatedServer(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, false)

	manager := NewFederationManager("https://portal.example.com/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	_, err := manager.GetToken(context.Background(), fake.serviceURL())
	require.Error(t, err)
	assert.True(t, gisapi.IsNotFederated(err))

	// The exchange is never attempted.
	assert.Equal(t, int64(0), fake.generateHits.Load())
}

func TestFederationCollapsesConcurrentExchanges(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, true)

	manager := NewFederationManager(fake.portal.URL+"/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	const callers = 8

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = manager.GetToken(context.Background(), fake.serviceURL())
		}()
	}

	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}

	assert.Equal(t, int64(1), fake.generateHits.Load())
}

func TestFederationInvalidateServerToken(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, true)

	manager := NewFederationManager(fake.portal.URL+"/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	_, err := manager.GetToken(context.Background(), fake.serviceURL())
	require.NoError(t, err)

	manager.InvalidateServerToken(fake.serviceURL())

	_, err = manager.GetToken(context.Background(), fake.serviceURL())
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.generateHits.Load())
}

func TestFederationGenerateTokenFailure(t *testing.T) {
	t.Parallel()

	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"unable to generate token"}}`))
	}))
	t.Cleanup(portal.Close)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"owningSystemUrl":%q,"tokenServicesUrl":%q}`,
			portal.URL, portal.URL+"/sharing/rest/generateToken")
	}))
	t.Cleanup(server.Close)

	manager := NewFederationManager(portal.URL+"/sharing/rest",
		&staticTokenManager{token: "portal-token"}, nil)
	t.Cleanup(manager.Stop)

	_, err := manager.GetToken(context.Background(), server.URL+"/arcgis/rest/services/X")
	require.Error(t, err)
	assert.Equal(t, gisapi.GenerateTokenForServerFailed, gisapi.AuthCode(err))
	assert.Contains(t, err.Error(), "unable to generate token")
}

func TestServerRestRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{
			in:   "https://gis.example.com/arcgis/rest/services/Demo/GPServer/Buffer",
			want: "https://gis.example.com/arcgis/rest",
		},
		{
			in:   "https://gis.example.com/server/rest",
			want: "https://gis.example.com/server/rest",
		},
		{
			in:   "https://gis.example.com",
			want: "https://gis.example.com/rest",
		},
	}

	for _, tt := range tests {
		root, err := serverRestRoot(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, root)
	}
}
