package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/hourglass/internal/model"
)

// MessageRepository handles proctor message data access.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create stores a message and fills in its id and time.
func (r *MessageRepository) Create(ctx context.Context, senderID int, m *model.AddressedMessage) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO messages (exam_id, category, sender_id, registration_id, room_id, exam_version_id, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		m.ExamID, m.Type, senderID, m.RegistrationID, m.RoomID, m.ExamVersionID, m.Body,
	).Scan(&m.ID, &m.Time)
}

// ListFor returns the messages visible to a registration with an id above afterID.
func (r *MessageRepository) ListFor(ctx context.Context, reg *model.Registration, afterID int64) (model.MessagesByCategory, error) {
	var out model.MessagesByCategory
	rows, err := r.pool.Query(ctx,
		`SELECT id, category, body, created_at
		 FROM messages
		 WHERE exam_id = $1 AND id > $2 AND (
		     category = 'exam'
		     OR (category = 'personal' AND registration_id = $3)
		     OR (category = 'room' AND room_id = $4)
		     OR (category = 'version' AND exam_version_id = $5)
		 )
		 ORDER BY id`,
		reg.ExamID, afterID, reg.ID, reg.RoomID, reg.ExamVersionID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Type, &m.Body, &m.Time); err != nil {
			return out, err
		}
		out.Add(m)
	}
	return out, rows.Err()
}

// ListByExam returns every message of an exam in send order.
func (r *MessageRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AddressedMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category, body, created_at, exam_id, registration_id, room_id, exam_version_id
		 FROM messages WHERE exam_id = $1 ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []model.AddressedMessage{}
	for rows.Next() {
		var m model.AddressedMessage
		if err := rows.Scan(&m.ID, &m.Type, &m.Body, &m.Time, &m.ExamID,
			&m.RegistrationID, &m.RoomID, &m.ExamVersionID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
