package auth

import (
	"context"
	"sync"
	"time"

	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// APIKeyManager implements TokenManager for a long-lived API key. The key is
// handed out as-is and never refreshed.
type APIKeyManager struct {
	mu  sync.RWMutex
	key string
}

// NewAPIKeyManager creates a manager for a static API key.
func NewAPIKeyManager(key string) *APIKeyManager {
	return &APIKeyManager{key: key}
}

// GetToken returns the API key.
func (m *APIKeyManager) GetToken(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.key == "" {
		return "", gisapi.ErrNoCredentials
	}

	return m.key, nil
}

// RefreshToken fails; API keys cannot be refreshed.
func (m *APIKeyManager) RefreshToken(_ context.Context) error {
	return gisapi.ErrAPIKeyCannotRefresh
}

// SetToken replaces the key. The expiration time is ignored.
func (m *APIKeyManager) SetToken(token string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.key = token
}
