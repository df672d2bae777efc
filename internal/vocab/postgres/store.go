// Package postgres stores vocabulary words in PostgreSQL.
//
// The table is the durable record of every word the service has learned:
// words merged at runtime are appended here, and a rebuild streams them back
// so it reproduces the live vocabulary. The trie itself is never stored in
// the database; fast reloads use the snapshot format.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	added, _ := store.Add(ctx, []string{"काठमाडौं"}, "api")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/shabda/internal/vocab"
)

var _ vocab.WordSource = (*Store)(nil)

const ddlVocabularyWords = `
CREATE TABLE IF NOT EXISTS vocabulary_words (
    word      TEXT         PRIMARY KEY,
    source    TEXT         NOT NULL DEFAULT '',
    added_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vocabulary_words_added_at
    ON vocabulary_words (added_at);
`

// Migrate creates the vocabulary table when it does not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVocabularyWords); err != nil {
		return fmt.Errorf("postgres migrate: vocabulary_words: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed word store. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Name implements [vocab.WordSource].
func (s *Store) Name() string { return "postgres" }

// Ping checks connectivity. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Add stores words under source, skipping words already present. It returns
// the number of rows inserted.
func (s *Store) Add(ctx context.Context, words []string, source string) (int, error) {
	uniq := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, dup := seen[w]; dup || w == "" {
			continue
		}
		seen[w] = struct{}{}
		uniq = append(uniq, w)
	}
	if len(uniq) == 0 {
		return 0, nil
	}

	const q = `
		INSERT INTO vocabulary_words (word, source)
		SELECT w, $2 FROM unnest($1::text[]) AS w
		ON CONFLICT (word) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, uniq, source)
	if err != nil {
		return 0, fmt.Errorf("postgres store: add words: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stream calls fn for every stored word in word order.
func (s *Store) Stream(ctx context.Context, fn func(word string) error) error {
	rows, err := s.pool.Query(ctx, `SELECT word FROM vocabulary_words ORDER BY word`)
	if err != nil {
		return fmt.Errorf("postgres store: stream words: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return fmt.Errorf("postgres store: scan word: %w", err)
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres store: stream words: %w", err)
	}
	return nil
}

// Count returns the number of stored words.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM vocabulary_words`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count words: %w", err)
	}
	return n, nil
}
