package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/hourglass/internal/model"
)

// The interfaces below are satisfied by the pgx repositories and the Redis
// store. Lookups that find nothing return pgx.ErrNoRows or cache.ErrMiss.

type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetVersion(ctx context.Context, id int64) (*model.ExamVersion, error)
}

type RegistrationStore interface {
	GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error)
	GetByID(ctx context.Context, id int64) (*model.Registration, error)
	MarkStarted(ctx context.Context, id int64, at time.Time) (time.Time, error)
	Finalize(ctx context.Context, id int64) error
	FinalizeExam(ctx context.Context, examID uuid.UUID) (int64, error)
	ListOpenStarted(ctx context.Context) ([]model.Registration, error)
	GetAccommodation(ctx context.Context, registrationID int64) (*model.Accommodation, error)
}

// SnapshotStore keeps persisted answers. Append drops autosaves for a final
// registration; Submit finalizes and stores atomically.
type SnapshotStore interface {
	Latest(ctx context.Context, registrationID int64) (json.RawMessage, error)
	Append(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) (bool, error)
	Submit(ctx context.Context, registrationID int64, answers json.RawMessage) error
}

type AnomalyStore interface {
	HasOpen(ctx context.Context, registrationID int64) (bool, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Anomaly, error)
	Forgive(ctx context.Context, id int64) (int64, error)
}

type MessageStore interface {
	Create(ctx context.Context, senderID int, m *model.AddressedMessage) error
	ListFor(ctx context.Context, reg *model.Registration, afterID int64) (model.MessagesByCategory, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AddressedMessage, error)
}

type QuestionStore interface {
	Create(ctx context.Context, registrationID int64, body string) (*model.ProfQuestion, error)
	ListByRegistration(ctx context.Context, registrationID int64) ([]model.ProfQuestion, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StaffQuestion, error)
}

// HotStore is the Redis side of the take endpoint.
type HotStore interface {
	Content(ctx context.Context, versionID int64) (*model.ExamVersionContent, error)
	SetContent(ctx context.Context, versionID int64, content *model.ExamVersionContent) error
	LatestSnapshot(ctx context.Context, registrationID int64) (json.RawMessage, error)
	SaveSnapshot(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) error
	LockedOut(ctx context.Context, registrationID int64) (bool, error)
	ClearLockout(ctx context.Context, registrationID int64) error
	RecordAnomaly(ctx context.Context, registrationID int64, reason string, at time.Time) error
	PublishMessage(ctx context.Context, m *model.AddressedMessage) error
	SubscribeMessages(ctx context.Context, examID uuid.UUID) (<-chan model.AddressedMessage, error)
}
