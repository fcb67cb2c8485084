package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/hourglass/internal/model"
)

// AnomalyRepository handles anomaly data access. Inserts go through the
// anomaly worker in batches.
type AnomalyRepository struct {
	pool *pgxpool.Pool
}

// NewAnomalyRepository creates a new AnomalyRepository.
func NewAnomalyRepository(pool *pgxpool.Pool) *AnomalyRepository {
	return &AnomalyRepository{pool: pool}
}

// HasOpen reports whether a registration has an anomaly that was not forgiven.
func (r *AnomalyRepository) HasOpen(ctx context.Context, registrationID int64) (bool, error) {
	var open bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM anomalies WHERE registration_id = $1 AND NOT forgiven)`,
		registrationID,
	).Scan(&open)
	return open, err
}

// ListByExam returns the anomalies of an exam, newest first.
func (r *AnomalyRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Anomaly, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.registration_id, a.reason, a.forgiven, a.created_at
		 FROM anomalies a
		 JOIN registrations reg ON reg.id = a.registration_id
		 WHERE reg.exam_id = $1
		 ORDER BY a.created_at DESC, a.id DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	anomalies := []model.Anomaly{}
	for rows.Next() {
		var a model.Anomaly
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.Reason, &a.Forgiven, &a.CreatedAt); err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// Forgive marks an anomaly as forgiven and returns its registration id, or pgx.ErrNoRows.
func (r *AnomalyRepository) Forgive(ctx context.Context, id int64) (int64, error) {
	var registrationID int64
	err := r.pool.QueryRow(ctx,
		`UPDATE anomalies SET forgiven = TRUE WHERE id = $1 RETURNING registration_id`, id,
	).Scan(&registrationID)
	return registrationID, err
}
