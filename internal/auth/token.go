package auth

import (
	"sync"
	"time"

	"github.com/geoworks-io/gisapi/internal/constants"
)

// Token represents a bearer token issued by the portal token endpoint.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the wire field (seconds); ExpiresAt is the absolute
	// expiry derived from it at receipt time.
	ExpiresIn int64     `json:"expires_in,omitempty"`
	ExpiresAt time.Time `json:"-"`

	// RefreshTokenExpiresIn is set when the server rotates refresh tokens
	// with their own validity window.
	RefreshTokenExpiresIn int64     `json:"refresh_token_expires_in,omitempty"`
	RefreshTokenExpiresAt time.Time `json:"-"`

	Username string `json:"username,omitempty"`
	SSL      bool   `json:"ssl,omitempty"`
}

// Valid reports whether the token can still be handed out. Tokens inside the
// expiration buffer count as expired so a request cannot race the real
// expiry.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return time.Now().Add(constants.TokenExpirationBuffer).Before(t.ExpiresAt)
}

// TokenStore holds the current token behind a read-write lock.
type TokenStore struct {
	mu    sync.RWMutex
	token *Token
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Get returns the current token, or nil.
func (s *TokenStore) Get() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// Set replaces the current token.
func (s *TokenStore) Set(token *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// Clear removes the current token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
}
