// Package identity supplies the current owner scope to the storage layer.
// An empty scope means nobody is signed in; the storage manager then works
// local-only.
package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

type Provider interface {
	CurrentOwnerScope() string
	AccessToken() string
}

// Static is a fixed identity.
type Static struct {
	Owner string
	Token string
}

func (s Static) CurrentOwnerScope() string { return s.Owner }
func (s Static) AccessToken() string       { return s.Token }

// TokenProvider derives the owner from the subject of a JWT access token.
// The token is not verified here; the server does that. An expired token
// yields no owner.
type TokenProvider struct {
	mu    sync.RWMutex
	token string
	owner string
	exp   time.Time
	now   func() time.Time
}

func NewTokenProvider(token string) (*TokenProvider, error) {
	p := &TokenProvider{now: time.Now}
	if err := p.SetToken(token); err != nil {
		return nil, err
	}
	return p, nil
}

// SetToken replaces the token. An empty token signs out.
func (p *TokenProvider) SetToken(token string) error {
	var (
		owner string
		exp   time.Time
	)
	if token != "" {
		claims := jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		if claims.Subject == "" {
			return fmt.Errorf("%w: no subject", common.ErrInvalidToken)
		}
		owner = claims.Subject
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token, p.owner, p.exp = token, owner, exp
	return nil
}

func (p *TokenProvider) CurrentOwnerScope() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.exp.IsZero() && !p.now().Before(p.exp) {
		return ""
	}
	return p.owner
}

func (p *TokenProvider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Expired reports whether the current token is past its expiry.
func (p *TokenProvider) Expired() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != "" && !p.exp.IsZero() && !p.now().Before(p.exp)
}

