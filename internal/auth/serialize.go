package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// Credential type discriminators in the serialized form.
const (
	credTypeAPIKey      = "api-key"
	credTypeOAuthApp    = "oauth-app"
	credTypeUserSession = "user-session"
)

// serializedCredentials is the persisted form of a token manager. Secrets
// are included; callers own storing the blob safely.
type serializedCredentials struct {
	Type string `json:"type"`

	Portal   string `json:"portal,omitempty"`
	TokenURL string `json:"tokenUrl,omitempty"`

	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`

	AccessToken string    `json:"accessToken,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
}

// Serialize writes the manager's credentials and current token to JSON so a
// session can be restored later without re-authenticating.
func (m *PortalTokenManager) Serialize() ([]byte, error) {
	credType := credTypeOAuthApp
	if m.config.Username != "" || m.config.RefreshToken != "" {
		credType = credTypeUserSession
	}

	serialized := serializedCredentials{
		Type:         credType,
		Portal:       m.config.PortalURL,
		TokenURL:     m.config.TokenURL,
		ClientID:     m.config.ClientID,
		ClientSecret: m.config.ClientSecret,
		Username:     m.config.Username,
		Password:     m.config.Password,
	}

	if token := m.store.Get(); token != nil {
		serialized.AccessToken = token.AccessToken
		serialized.ExpiresAt = token.ExpiresAt
		serialized.RefreshToken = token.RefreshToken
	}

	if serialized.RefreshToken == "" {
		serialized.RefreshToken = m.config.RefreshToken
	}

	data, err := json.Marshal(serialized)
	if err != nil {
		return nil, fmt.Errorf("serializing credentials: %w", err)
	}

	return data, nil
}

// Serialize writes the API key to JSON.
func (m *APIKeyManager) Serialize() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(serializedCredentials{
		Type:   credTypeAPIKey,
		APIKey: m.key,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing credentials: %w", err)
	}

	return data, nil
}

// DeserializeTokenManager restores a token manager from its serialized
// form, dispatching on the type discriminator.
func DeserializeTokenManager(data []byte) (TokenManager, error) {
	var serialized serializedCredentials
	if err := json.Unmarshal(data, &serialized); err != nil {
		return nil, fmt.Errorf("parsing serialized credentials: %w", err)
	}

	switch serialized.Type {
	case credTypeAPIKey:
		return NewAPIKeyManager(serialized.APIKey), nil

	case credTypeOAuthApp, credTypeUserSession:
		manager := NewPortalTokenManager(&OAuthConfig{
			PortalURL:    serialized.Portal,
			TokenURL:     serialized.TokenURL,
			ClientID:     serialized.ClientID,
			ClientSecret: serialized.ClientSecret,
			Username:     serialized.Username,
			Password:     serialized.Password,
			RefreshToken: serialized.RefreshToken,
		})

		if serialized.AccessToken != "" {
			manager.store.Set(&Token{
				AccessToken:  serialized.AccessToken,
				RefreshToken: serialized.RefreshToken,
				ExpiresAt:    serialized.ExpiresAt,
			})
		}

		return manager, nil

	default:
		return nil, fmt.Errorf("%w: %q", gisapi.ErrUnknownCredentialType, serialized.Type)
	}
}
