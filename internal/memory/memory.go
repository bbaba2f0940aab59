// Package memory persists successful query generations so later questions can
// be prompted with similar past examples.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/seanankenbruck/database-ai/internal/config"
)

// Example is a remembered (question, query) pair returned for few-shot
// prompting
type Example struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Store      string    `json:"store"`
	QueryText  string    `json:"query_text"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a pgvector-backed record of past successful generations
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL and verifies the connection
func New(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Ping tests the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a successful generation keyed by question and store. Asking
// the same question again overwrites the remembered query.
func (s *Store) Record(ctx context.Context, question, store, queryText string) error {
	vector := pgvector.NewVector(Embed(question))

	insertQuery := `
		INSERT INTO query_memory (id, question, store, query_text, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (question, store) DO UPDATE SET
			query_text = $4,
			embedding = $5,
			updated_at = $6
	`

	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx, insertQuery, id, question, store, queryText, vector, now)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}

	return nil
}

// FindSimilar returns up to limit remembered queries for the given store whose
// questions are close to the probe question, best match first. Matches below
// the similarity floor are dropped.
func (s *Store) FindSimilar(ctx context.Context, question, store string, limit int) ([]Example, error) {
	if limit <= 0 {
		limit = 3
	}

	vector := pgvector.NewVector(Embed(question))

	query := `
		SELECT id, question, store, query_text,
		       1 - (embedding <=> $1) as similarity,
		       created_at
		FROM query_memory
		WHERE store = $2
		  AND 1 - (embedding <=> $1) > 0.8
		ORDER BY similarity DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, vector, store, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar questions: %w", err)
	}
	defer rows.Close()

	var examples []Example
	for rows.Next() {
		var example Example
		err := rows.Scan(
			&example.ID,
			&example.Question,
			&example.Store,
			&example.QueryText,
			&example.Similarity,
			&example.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan example row: %w", err)
		}

		examples = append(examples, example)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating example rows: %w", err)
	}

	return examples, nil
}
