// Package session persists chat sessions and cached suggestion lists in
// Redis. A session record carries conversation metadata only; the
// conversation history itself lives with the in-process agent.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

const (
	sessionPrefix    = "chat_session:"
	suggestionPrefix = "suggestions:"
	sessionIDLen     = 32

	// SuggestionTTL bounds how stale a cached suggestion list can get
	SuggestionTTL = 10 * time.Minute
)

// Session is one chat conversation's server-side record
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	QuestionCount int       `json:"question_count"`
}

// Manager stores chat sessions in Redis. The TTL slides forward on Touch, so
// an active conversation never expires under the user.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new session manager
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Create stores a fresh session record and returns it
func (m *Manager) Create(ctx context.Context, userID string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := m.put(ctx, session); err != nil {
		return nil, err
	}

	observability.GetGlobalMetrics().Inc(observability.MetricSessionsCreated, nil)
	return session, nil
}

// Get retrieves a session by ID. Expired records are gone from Redis, so a
// miss and an expiry look the same to the caller.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := m.redis.Get(ctx, sessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, errors.NewSessionNotFoundError(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Touch records activity on a session: bumps the last-active timestamp,
// counts a question, and slides the TTL forward.
func (m *Manager) Touch(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.LastActiveAt = time.Now().UTC()
	session.QuestionCount++

	if err := m.put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Delete removes a session record
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.redis.Del(ctx, sessionPrefix+sessionID).Err()
}

// CachedSuggestions returns the suggestion list cached under key. Callers
// treat any error as a miss, matching the read-through idiom used for query
// caching.
func (m *Manager) CachedSuggestions(ctx context.Context, key string) ([]string, error) {
	data, err := m.redis.Get(ctx, suggestionPrefix+key).Result()
	if err != nil {
		return nil, err
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(data), &suggestions); err != nil {
		return nil, err
	}

	observability.GetGlobalMetrics().Inc(observability.MetricSuggestionCacheHits, nil)
	return suggestions, nil
}

// CacheSuggestions stores a suggestion list under key for SuggestionTTL
func (m *Manager) CacheSuggestions(ctx context.Context, key string, suggestions []string) error {
	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}
	return m.redis.Set(ctx, suggestionPrefix+key, data, SuggestionTTL).Err()
}

func (m *Manager) put(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.redis.Set(ctx, sessionPrefix+session.ID, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// generateSessionID generates a cryptographically secure random session ID
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
