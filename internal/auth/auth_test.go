package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/errors"
)

func requireErrorCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	var enhanced *errors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Equal(t, code, enhanced.Code)
}

func TestValidateAPIKey(t *testing.T) {
	a := New(config.AuthConfig{APIKeys: []string{"secret-key-1", "secret-key-2"}})

	first, err := a.ValidateAPIKey("secret-key-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "key-"))

	second, err := a.ValidateAPIKey("secret-key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// the label is stable across calls so rate limiting sticks to one client
	again, err := a.ValidateAPIKey("secret-key-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestValidateAPIKeyRejected(t *testing.T) {
	a := New(config.AuthConfig{APIKeys: []string{"secret-key-1"}})

	_, err := a.ValidateAPIKey("wrong-key")
	requireErrorCode(t, err, errors.ErrCodeInvalidAPIKey)

	_, err = a.ValidateAPIKey("")
	requireErrorCode(t, err, errors.ErrCodeNotAuthenticated)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "test-secret", SessionExpiry: time.Hour})

	token, err := a.CreateSessionToken("sess-1", "key-abc123")
	require.NoError(t, err)

	claims, err := a.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "key-abc123", claims.ClientID)
	assert.Equal(t, "sess-1", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestSessionTokenExpired(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "test-secret", SessionExpiry: -time.Minute})

	token, err := a.CreateSessionToken("sess-1", "")
	require.NoError(t, err)

	_, err = a.ValidateSessionToken(token)
	requireErrorCode(t, err, errors.ErrCodeNotAuthenticated)
}

func TestSessionTokenWrongSecret(t *testing.T) {
	issuer := New(config.AuthConfig{JWTSecret: "secret-a"})
	verifier := New(config.AuthConfig{JWTSecret: "secret-b"})

	token, err := issuer.CreateSessionToken("sess-1", "")
	require.NoError(t, err)

	_, err = verifier.ValidateSessionToken(token)
	requireErrorCode(t, err, errors.ErrCodeNotAuthenticated)
}

func TestSessionTokenRejectsNonHMAC(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "test-secret"})

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{SessionID: "sess-1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.ValidateSessionToken(token)
	requireErrorCode(t, err, errors.ErrCodeNotAuthenticated)
}

func TestSessionTokenNotBoundToSession(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "test-secret"})

	token, err := a.CreateSessionToken("", "")
	require.NoError(t, err)

	_, err = a.ValidateSessionToken(token)
	requireErrorCode(t, err, errors.ErrCodeNotAuthenticated)
}

func TestValidateAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	a := New(config.AuthConfig{AdminKeyHash: string(hash)})

	assert.True(t, a.ValidateAdminKey("admin-secret"))
	assert.False(t, a.ValidateAdminKey("wrong"))
	assert.False(t, a.ValidateAdminKey(""))
}

func TestValidateAdminKeyUnconfigured(t *testing.T) {
	a := New(config.AuthConfig{})

	assert.False(t, a.ValidateAdminKey("anything"))
}

func TestNewDefaults(t *testing.T) {
	a := New(config.AuthConfig{})

	assert.Equal(t, 24*time.Hour, a.SessionExpiry())
	assert.False(t, a.AllowAnonymous())

	// a generated secret still round-trips tokens within the process
	token, err := a.CreateSessionToken("sess-1", "")
	require.NoError(t, err)
	claims, err := a.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
}
