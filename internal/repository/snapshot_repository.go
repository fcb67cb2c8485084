package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotRepository stores answer snapshots. Rows are append-only; the
// submitted row wins, otherwise the newest one is the current state.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Latest returns the current answers document for a registration, or pgx.ErrNoRows.
func (r *SnapshotRepository) Latest(ctx context.Context, registrationID int64) (json.RawMessage, error) {
	var answers []byte
	err := r.pool.QueryRow(ctx,
		`SELECT answers FROM snapshots
		 WHERE registration_id = $1
		 ORDER BY final DESC, created_at DESC, id DESC
		 LIMIT 1`, registrationID,
	).Scan(&answers)
	if err != nil {
		return nil, err
	}
	return answers, nil
}

// Append stores an autosave taken at at. Nothing is written once the
// registration is final; the row lock makes a concurrent Submit finish first.
func (r *SnapshotRepository) Append(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO snapshots (registration_id, answers, created_at)
		 SELECT id, $2::jsonb, $3 FROM registrations
		 WHERE id = $1 AND NOT final
		 FOR SHARE`,
		registrationID, string(answers), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Submit closes the registration and stores its final answers in one
// transaction. It returns pgx.ErrNoRows when the registration is already final.
func (r *SnapshotRepository) Submit(ctx context.Context, registrationID int64, answers json.RawMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE registrations SET final = TRUE WHERE id = $1 AND NOT final`, registrationID)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (registration_id, answers, final) VALUES ($1, $2::jsonb, TRUE)`,
		registrationID, string(answers)); err != nil {
		return fmt.Errorf("insert final snapshot: %w", err)
	}
	return tx.Commit(ctx)
}
