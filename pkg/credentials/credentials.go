// Package credentials holds the authentication material of a Helix client
// and the rule for replacing its cached token.
package credentials

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrEmptySecret is returned by Validate when a client secret is blank.
	ErrEmptySecret = errors.New("client secret is empty")

	// ErrEmptyToken is returned by Validate when an OAuth token is blank.
	ErrEmptyToken = errors.New("oauth token is empty")

	// ErrNoCredentials is returned by Validate for a nil Credentials value.
	ErrNoCredentials = errors.New("no credentials given")
)

// Credentials is one of SecretOnly, TokenOnly or SecretAndToken.
type Credentials interface {
	isCredentials()
}

// SecretOnly can mint tokens but has none cached yet.
type SecretOnly struct {
	ClientSecret string
	Scopes       []string
}

// TokenOnly carries a token and cannot mint a replacement when it expires.
type TokenOnly struct {
	Token string
}

// SecretAndToken carries a cached token and the means to mint a new one.
type SecretAndToken struct {
	ClientSecret string
	Scopes       []string
	Token        string
}

func (SecretOnly) isCredentials()     {}
func (TokenOnly) isCredentials()      {}
func (SecretAndToken) isCredentials() {}

// FromClientSecret uses the given client secret to generate new OAuth tokens.
func FromClientSecret(clientSecret string, scopes ...string) Credentials {
	return SecretOnly{ClientSecret: clientSecret, Scopes: cloneScopes(scopes)}
}

// FromToken uses the given OAuth token. When it expires, the error is passed
// to the caller.
func FromToken(token string) Credentials {
	return TokenOnly{Token: token}
}

// FromClientSecretAndToken uses the given OAuth token and falls back to the
// client secret to mint a new one once the token is rejected.
func FromClientSecretAndToken(clientSecret, token string, scopes ...string) Credentials {
	return SecretAndToken{ClientSecret: clientSecret, Scopes: cloneScopes(scopes), Token: token}
}

// Validate reports whether c can be used to construct a client.
func Validate(c Credentials) error {
	switch c := c.(type) {
	case SecretOnly:
		if strings.TrimSpace(c.ClientSecret) == "" {
			return ErrEmptySecret
		}
	case TokenOnly:
		if strings.TrimSpace(c.Token) == "" {
			return ErrEmptyToken
		}
	case SecretAndToken:
		if strings.TrimSpace(c.ClientSecret) == "" {
			return ErrEmptySecret
		}
		if strings.TrimSpace(c.Token) == "" {
			return ErrEmptyToken
		}
	default:
		return ErrNoCredentials
	}
	return nil
}

// withToken returns c with its cached token replaced. A known secret is kept,
// so SecretOnly becomes SecretAndToken and nothing is ever downgraded.
func withToken(c Credentials, token string) Credentials {
	switch c := c.(type) {
	case SecretOnly:
		return SecretAndToken{ClientSecret: c.ClientSecret, Scopes: c.Scopes, Token: token}
	case SecretAndToken:
		c.Token = token
		return c
	default:
		return TokenOnly{Token: token}
	}
}

func cloneScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	return append([]string(nil), scopes...)
}

// Store is the credential cell shared by every request of one client.
// Readers never observe a partially replaced value: SetToken swaps the whole
// Credentials under the write lock.
type Store struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewStore creates a store holding c.
func NewStore(c Credentials) *Store {
	return &Store{creds: c}
}

// Load returns the current credentials.
func (s *Store) Load() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// CachedToken returns the cached token, if any.
func (s *Store) CachedToken() (string, bool) {
	switch c := s.Load().(type) {
	case TokenOnly:
		return c.Token, true
	case SecretAndToken:
		return c.Token, true
	default:
		return "", false
	}
}

// CanMint reports whether a client secret is known.
func (s *Store) CanMint() bool {
	switch s.Load().(type) {
	case SecretOnly, SecretAndToken:
		return true
	default:
		return false
	}
}

// SetToken replaces the cached token in place.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = withToken(s.creds, token)
}
