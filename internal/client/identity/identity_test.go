package identity

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestStatic(t *testing.T) {
	var p Provider = Static{Owner: "o1", Token: "t"}
	assert.Equal(t, "o1", p.CurrentOwnerScope())
	assert.Equal(t, "t", p.AccessToken())
}

func TestTokenProvider_OwnerFromSubject(t *testing.T) {
	tok := sign(t, jwt.RegisteredClaims{Subject: "coach-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	p, err := NewTokenProvider(tok)
	require.NoError(t, err)
	assert.Equal(t, "coach-1", p.CurrentOwnerScope())
	assert.Equal(t, tok, p.AccessToken())
	assert.False(t, p.Expired())
}

func TestTokenProvider_ExpiredTokenHasNoOwner(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewTokenProvider(sign(t, jwt.RegisteredClaims{Subject: "coach-1", ExpiresAt: jwt.NewNumericDate(exp)}))
	require.NoError(t, err)

	p.now = func() time.Time { return exp.Add(-time.Second) }
	assert.Equal(t, "coach-1", p.CurrentOwnerScope())

	p.now = func() time.Time { return exp }
	assert.Empty(t, p.CurrentOwnerScope())
	assert.True(t, p.Expired())
}

func TestTokenProvider_EmptyAndInvalid(t *testing.T) {
	p, err := NewTokenProvider("")
	require.NoError(t, err)
	assert.Empty(t, p.CurrentOwnerScope())

	_, err = NewTokenProvider("not-a-jwt")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = NewTokenProvider(sign(t, jwt.RegisteredClaims{}))
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	require.NoError(t, p.SetToken(sign(t, jwt.RegisteredClaims{Subject: "x"})))
	assert.Equal(t, "x", p.CurrentOwnerScope())
	require.NoError(t, p.SetToken(""))
	assert.Empty(t, p.CurrentOwnerScope())
}
