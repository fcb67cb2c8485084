package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/hourglass/internal/model"
)

// QuestionRepository handles questions students send to staff.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// Create stores a question.
func (r *QuestionRepository) Create(ctx context.Context, registrationID int64, body string) (*model.ProfQuestion, error) {
	q := &model.ProfQuestion{Body: body}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO student_questions (registration_id, body)
		 VALUES ($1, $2)
		 RETURNING id, created_at`, registrationID, body,
	).Scan(&q.ID, &q.Time)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListByRegistration returns a student's questions, oldest first.
func (r *QuestionRepository) ListByRegistration(ctx context.Context, registrationID int64) ([]model.ProfQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, body, created_at FROM student_questions
		 WHERE registration_id = $1
		 ORDER BY created_at, id`, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.ProfQuestion
	for rows.Next() {
		var q model.ProfQuestion
		if err := rows.Scan(&q.ID, &q.Body, &q.Time); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListByExam returns every question asked during an exam, newest first.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StaffQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.registration_id, reg.user_id, q.body, q.created_at
		 FROM student_questions q
		 JOIN registrations reg ON reg.id = q.registration_id
		 WHERE reg.exam_id = $1
		 ORDER BY q.created_at DESC, q.id DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.StaffQuestion{}
	for rows.Next() {
		var q model.StaffQuestion
		if err := rows.Scan(&q.ID, &q.RegistrationID, &q.UserID, &q.Body, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
