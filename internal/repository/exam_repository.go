package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/hourglass/internal/model"
)

// ExamRepository handles exam, version and room data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	var policies []string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, duration_minutes, start_time, end_time, policies, created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.DurationMinutes, &e.StartTime, &e.EndTime, &policies, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Policies = toPolicies(policies)
	return e, nil
}

// GetVersion retrieves an exam version with its parsed content document.
func (r *ExamRepository) GetVersion(ctx context.Context, id int64) (*model.ExamVersion, error) {
	v := &model.ExamVersion{}
	var content []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, name, content FROM exam_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.ExamID, &v.Name, &content)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &v.Content); err != nil {
		return nil, fmt.Errorf("decode version %d content: %w", id, err)
	}
	return v, nil
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	policies := make([]string, len(e.Policies))
	for i, p := range e.Policies {
		policies[i] = string(p)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (name, duration_minutes, start_time, end_time, policies)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		e.Name, e.DurationMinutes, e.StartTime, e.EndTime, policies,
	).Scan(&e.ID, &e.CreatedAt)
}

// CreateVersion inserts a version of an exam's content.
func (r *ExamRepository) CreateVersion(ctx context.Context, v *model.ExamVersion) error {
	content, err := json.Marshal(v.Content)
	if err != nil {
		return fmt.Errorf("encode version content: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_versions (exam_id, name, content)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		v.ExamID, v.Name, content,
	).Scan(&v.ID)
}

// CreateRoom inserts a room for an exam and returns its id.
func (r *ExamRepository) CreateRoom(ctx context.Context, examID uuid.UUID, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rooms (exam_id, name) VALUES ($1, $2) RETURNING id`,
		examID, name,
	).Scan(&id)
	return id, err
}

func toPolicies(raw []string) []model.Policy {
	policies := make([]model.Policy, 0, len(raw))
	for _, p := range raw {
		policies = append(policies, model.Policy(p))
	}
	return policies
}
