// Package auth guards the HTTP surface: static API keys for the chat API,
// JWT tokens binding a chat session, a bcrypt-verified admin key, and
// per-client rate limiting.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

// Claims bind a session token to one chat session
type Claims struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates API keys, session tokens, and the admin key
type Authenticator struct {
	cfg     config.AuthConfig
	keys    map[string]string // SHA-256 hex digest -> client label
	limiter *RateLimiter
	logger  *observability.Logger
}

// New builds an Authenticator from configuration. API keys are hashed at
// construction so plaintext keys never sit in memory longer than needed.
func New(cfg config.AuthConfig) *Authenticator {
	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = 24 * time.Hour
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 60
	}
	if cfg.JWTSecret == "" {
		// ephemeral secret: issued tokens stop verifying after a restart,
		// acceptable for setups that did not configure one
		cfg.JWTSecret = generateRandomString(32)
	}

	keys := make(map[string]string, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		digest := hashAPIKey(key)
		keys[digest] = "key-" + digest[:8]
	}

	return &Authenticator{
		cfg:     cfg,
		keys:    keys,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  observability.NewLogger("auth"),
	}
}

// AllowAnonymous reports whether unauthenticated chat access is configured
func (a *Authenticator) AllowAnonymous() bool {
	return a.cfg.AllowAnonymous
}

// SessionExpiry returns the lifetime of issued session tokens
func (a *Authenticator) SessionExpiry() time.Duration {
	return a.cfg.SessionExpiry
}

// ValidateAPIKey checks a presented key against the configured set and
// returns the client label used for rate limiting and logging
func (a *Authenticator) ValidateAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.NewNotAuthenticatedError()
	}

	candidate := []byte(hashAPIKey(key))
	for digest, client := range a.keys {
		if subtle.ConstantTimeCompare([]byte(digest), candidate) == 1 {
			return client, nil
		}
	}
	return "", errors.NewInvalidAPIKeyError()
}

// CreateSessionToken issues a signed JWT bound to a chat session
func (a *Authenticator) CreateSessionToken(sessionID, clientID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		ClientID:  clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.SessionExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "database-ai",
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", errors.NewTokenCreationError(err)
	}
	return signed, nil
}

// ValidateSessionToken parses and verifies a session token
func (a *Authenticator) ValidateSessionToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotAuthenticated, "Invalid session token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "Invalid session token")
	}
	if claims.SessionID == "" {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "Token is not bound to a session")
	}
	return claims, nil
}

// ValidateAdminKey checks the presented key against the configured bcrypt
// hash. An empty hash locks the admin surface entirely.
func (a *Authenticator) ValidateAdminKey(key string) bool {
	if a.cfg.AdminKeyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminKeyHash), []byte(key)) == nil
}

// LimiterStats exposes the rate limiter's state for the admin surface
func (a *Authenticator) LimiterStats() map[string]interface{} {
	return a.limiter.Stats()
}

// generateRandomString generates a random hex string of length bytes
func generateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

// hashAPIKey hashes an API key using SHA-256
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
