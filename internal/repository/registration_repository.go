package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/hourglass/internal/model"
)

const registrationColumns = `id, user_id, exam_id, exam_version_id, room_id, start_time, end_time, final`

// RegistrationRepository handles registration and accommodation data access.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	reg := &model.Registration{}
	err := row.Scan(&reg.ID, &reg.UserID, &reg.ExamID, &reg.ExamVersionID, &reg.RoomID,
		&reg.StartTime, &reg.EndTime, &reg.Final)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// GetByExamAndUser retrieves the registration of a user for an exam.
func (r *RegistrationRepository) GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID))
}

// GetByID retrieves a registration by id.
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*model.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
}

// MarkStarted records the first start of an attempt. Later calls keep the
// original time, which is returned.
func (r *RegistrationRepository) MarkStarted(ctx context.Context, id int64, at time.Time) (time.Time, error) {
	var started time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE registrations SET start_time = COALESCE(start_time, $2)
		 WHERE id = $1
		 RETURNING start_time`, id, at,
	).Scan(&started)
	return started, err
}

// Finalize closes a registration. It is idempotent.
func (r *RegistrationRepository) Finalize(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE registrations SET final = TRUE, end_time = COALESCE(end_time, NOW())
		 WHERE id = $1`, id)
	return err
}

// FinalizeExam closes every open registration of an exam and returns how many changed.
func (r *RegistrationRepository) FinalizeExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE registrations SET final = TRUE, end_time = COALESCE(end_time, NOW())
		 WHERE exam_id = $1 AND NOT final`, examID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListOpenStarted returns registrations that have begun but are not final.
func (r *RegistrationRepository) ListOpenStarted(ctx context.Context) ([]model.Registration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE NOT final AND start_time IS NOT NULL
		 ORDER BY exam_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// GetAccommodation returns the accommodation of a registration, or pgx.ErrNoRows.
func (r *RegistrationRepository) GetAccommodation(ctx context.Context, registrationID int64) (*model.Accommodation, error) {
	a := &model.Accommodation{}
	err := r.pool.QueryRow(ctx,
		`SELECT registration_id, new_start_time, percent_time_expansion
		 FROM accommodations WHERE registration_id = $1`, registrationID,
	).Scan(&a.RegistrationID, &a.NewStartTime, &a.PercentTimeExpansion)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a registration. An existing one for the same user and exam is returned unchanged.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.Registration) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO registrations (user_id, exam_id, exam_version_id, room_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, exam_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id, start_time, end_time, final`,
		reg.UserID, reg.ExamID, reg.ExamVersionID, reg.RoomID,
	).Scan(&reg.ID, &reg.StartTime, &reg.EndTime, &reg.Final)
}

// UpsertAccommodation sets the accommodation of a registration.
func (r *RegistrationRepository) UpsertAccommodation(ctx context.Context, a *model.Accommodation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accommodations (registration_id, new_start_time, percent_time_expansion)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (registration_id) DO UPDATE
		 SET new_start_time = EXCLUDED.new_start_time,
		     percent_time_expansion = EXCLUDED.percent_time_expansion`,
		a.RegistrationID, a.NewStartTime, a.PercentTimeExpansion)
	return err
}
