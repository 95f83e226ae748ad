package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg, err := NewTokenConfig(time.Hour)
	require.NoError(t, err)

	token, err := GenerateToken("session-1", cfg)
	require.NoError(t, err)

	session, err := ParseToken(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
	assert.Greater(t, session.ExpiresAt, session.IssuedAt)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	cfg, err := NewTokenConfig(time.Hour)
	require.NoError(t, err)
	token, err := GenerateToken("s", cfg)
	require.NoError(t, err)

	payload, sig, _ := strings.Cut(token, ".")
	_, err = ParseToken(payload+"x."+sig, cfg)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken("garbage", cfg)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenConfig(time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(token, other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenExpired(t *testing.T) {
	cfg := &TokenConfig{Secret: []byte("k"), Expiration: -2 * time.Second}
	token, err := GenerateToken("s", cfg)
	require.NoError(t, err)

	_, err = ParseToken(token, cfg)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCheckAccessKey(t *testing.T) {
	assert.True(t, CheckAccessKey("abc", "abc"))
	assert.False(t, CheckAccessKey("abd", "abc"))
	assert.False(t, CheckAccessKey("", ""))
}
