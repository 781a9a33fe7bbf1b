// Package auth holds the client-side credential plumbing: a token holder
// with change notification, and claim decoding for the local identity.
package auth

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the token payload this client cares about.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Identity is who the local user is, as asserted by the token.
type Identity struct {
	UserID      string
	DisplayName string
}

// TokenSupplier is a CredentialSupplier backed by an in-memory token.
// The surrounding application stores and refreshes the token; this type
// only holds the current value and signals changes.
type TokenSupplier struct {
	mu       sync.RWMutex
	token    string
	nextID   int
	watchers map[int]func()
}

func NewTokenSupplier(token string) *TokenSupplier {
	return &TokenSupplier{
		token:    token,
		watchers: make(map[int]func()),
	}
}

func (s *TokenSupplier) CurrentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the credential and notifies watchers. An empty token
// means logout.
func (s *TokenSupplier) SetToken(token string) {
	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	watchers := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

func (s *TokenSupplier) OnChange(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// LocalIdentity decodes the current token's claims without verifying the
// signature. Verification is the server's job; the client only needs to
// know who it is, so it never echoes itself as "typing".
func (s *TokenSupplier) LocalIdentity() (Identity, error) {
	token := s.CurrentToken()
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, err
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.UserID
	}
	return Identity{UserID: claims.UserID, DisplayName: name}, nil
}
