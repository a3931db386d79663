package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat history in PostgreSQL with the same window semantics
// as InMemoryStore.
type PostgresStore struct {
	pool   *pgxpool.Pool
	window int
}

func NewPostgresStore(ctx context.Context, databaseURL string, window int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, window: normalizeWindow(window)}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_id ON chat_turns (session_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM chat_turns WHERE session_id=$1 ORDER BY id DESC LIMIT $2`,
		sessionID,
		s.window,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, s.window)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if len(turns) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, t := range turns {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_turns (session_id, role, content) VALUES ($1, $2, $3)`,
				sessionID, string(t.Role), t.Content,
			); err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_turns WHERE session_id=$1 AND id NOT IN (
				SELECT id FROM chat_turns WHERE session_id=$1 ORDER BY id DESC LIMIT $2
			)`,
			sessionID, s.window,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
