// Package history persists conversation turns to PostgreSQL.
//
// Persistence is best-effort from the engine's point of view: a failed
// write is logged by the caller and the voice loop keeps going. The store
// is also read by the platform's dashboard, which is why turns survive the
// session's rolling in-memory history.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleo-ai/parleo/internal/turn"
)

// Compile-time interface check.
var _ turn.Store = (*Store)(nil)

const ddlConversationTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id             BIGSERIAL    PRIMARY KEY,
    correlation_id TEXT         NOT NULL DEFAULT '',
    fence          BIGINT       NOT NULL,
    state          TEXT         NOT NULL,
    user_text      TEXT         NOT NULL DEFAULT '',
    response_text  TEXT         NOT NULL DEFAULT '',
    audio_bytes    BIGINT       NOT NULL DEFAULT 0,
    started_at     TIMESTAMPTZ  NOT NULL,
    saved_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_correlation
    ON conversation_turns (correlation_id, saved_at);
`

// SavedTurn is one persisted exchange as read back from the store.
type SavedTurn struct {
	ID            int64
	CorrelationID string
	Fence         uint64
	State         string
	UserText      string
	ResponseText  string
	AudioBytes    int64
	StartedAt     time.Time
	SavedAt       time.Time
}

// Store is the PostgreSQL-backed transcript store. All operations are safe
// for concurrent use; the pool handles its own synchronisation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate ensures all required tables and indexes exist. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationTurns); err != nil {
		return fmt.Errorf("history: apply schema: %w", err)
	}
	return nil
}

// SaveTurn implements [turn.Store].
func (s *Store) SaveTurn(ctx context.Context, correlationID string, t *turn.Turn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_turns
		    (correlation_id, fence, state, user_text, response_text, audio_bytes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		correlationID, int64(t.Fence), t.State.String(), t.UserText, t.ResponseText,
		int64(t.AudioBytes()), t.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("history: save turn fence=%d: %w", t.Fence, err)
	}
	return nil
}

// RecentTurns returns up to limit turns for the given correlation id,
// newest first.
func (s *Store) RecentTurns(ctx context.Context, correlationID string, limit int) ([]SavedTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, correlation_id, fence, state, user_text, response_text,
		       audio_bytes, started_at, saved_at
		FROM conversation_turns
		WHERE correlation_id = $1
		ORDER BY saved_at DESC
		LIMIT $2`,
		correlationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query recent turns: %w", err)
	}
	defer rows.Close()

	var out []SavedTurn
	for rows.Next() {
		var st SavedTurn
		var fence int64
		if err := rows.Scan(&st.ID, &st.CorrelationID, &fence, &st.State,
			&st.UserText, &st.ResponseText, &st.AudioBytes, &st.StartedAt, &st.SavedAt); err != nil {
			return nil, fmt.Errorf("history: scan turn: %w", err)
		}
		st.Fence = uint64(fence)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate turns: %w", err)
	}
	return out, nil
}

// Ping verifies database connectivity, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
