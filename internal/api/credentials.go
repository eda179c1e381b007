package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the token pair of one logged-in user. It is passed
// explicitly to every authenticated call and updated in place when the
// access token is refreshed.
//
// All methods are safe for concurrent use.
type Credentials struct {
	mu        sync.RWMutex
	access    string
	refresh   string
	tokenType string

	// refreshMu serialises refreshes so concurrent 401s trigger one refresh.
	refreshMu sync.Mutex
}

// NewCredentials creates credentials from a token pair.
func NewCredentials(pair TokenPair) *Credentials {
	c := &Credentials{}
	c.Update(pair)
	return c
}

// Update replaces the stored tokens. An empty refresh token in pair keeps
// the current one.
func (c *Credentials) Update(pair TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = pair.AccessToken
	if pair.RefreshToken != "" {
		c.refresh = pair.RefreshToken
	}
	c.tokenType = pair.TokenType
}

// Clear forgets both tokens.
func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh, c.tokenType = "", "", ""
}

// AccessToken returns the current access token.
func (c *Credentials) AccessToken() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// RefreshToken returns the current refresh token.
func (c *Credentials) RefreshToken() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh
}

// LoggedIn reports whether an access token is present.
func (c *Credentials) LoggedIn() bool {
	return c.AccessToken() != ""
}

// ExpiresAt returns the exp claim of the access token. The token signature is
// not verified; the value is informational only.
func (c *Credentials) ExpiresAt() (time.Time, bool) {
	tok := c.AccessToken()
	if tok == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
