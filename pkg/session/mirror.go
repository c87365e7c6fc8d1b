package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/models"
)

// PostgresMirror persists session snapshots as JSONB rows so a restarted
// process can inspect recent conversations. It is write-mostly: the
// in-memory store remains the source of truth while the process lives.
type PostgresMirror struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// upsertSessionSQL replaces the mirrored row, but only while the
// incoming snapshot is at least as new. Mirror writes run in independent
// goroutines, so an older snapshot can arrive after a newer one; the
// updated_at guard keeps it from winning.
const upsertSessionSQL = `
	INSERT INTO engine_sessions (id, phase, status, payload, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		phase      = EXCLUDED.phase,
		status     = EXCLUDED.status,
		payload    = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at
	WHERE engine_sessions.updated_at <= EXCLUDED.updated_at
`

// NewPostgresMirror creates a mirror backed by the given pool.
func NewPostgresMirror(pool *pgxpool.Pool, logger *zap.Logger) *PostgresMirror {
	return &PostgresMirror{
		pool:   pool,
		logger: logger.Named("mirror"),
	}
}

// Upsert writes the full session snapshot, replacing any prior row.
func (m *PostgresMirror) Upsert(ctx context.Context, sess *models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	_, err = m.pool.Exec(ctx, upsertSessionSQL,
		sess.ID, string(sess.Phase), string(sess.Status), payload, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// Remove deletes the mirrored row for the session.
func (m *PostgresMirror) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM engine_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

var _ Mirror = (*PostgresMirror)(nil)
