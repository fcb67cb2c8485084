package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/model"
)

var (
	ErrAnomalyNotFound      = errors.New("anomaly not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrMessageTarget        = errors.New("message target is not part of this exam")
)

// ProctorService implements the staff side of a running exam.
type ProctorService struct {
	exams     ExamStore
	regs      RegistrationStore
	anomalies AnomalyStore
	messages  MessageStore
	questions QuestionStore
	hot       HotStore
	now       func() time.Time
	log       zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(
	exams ExamStore,
	regs RegistrationStore,
	anomalies AnomalyStore,
	messages MessageStore,
	questions QuestionStore,
	hot HotStore,
	log zerolog.Logger,
) *ProctorService {
	return &ProctorService{
		exams:     exams,
		regs:      regs,
		anomalies: anomalies,
		messages:  messages,
		questions: questions,
		hot:       hot,
		now:       time.Now,
		log:       log.With().Str("component", "proctor_service").Logger(),
	}
}

func (s *ProctorService) exam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// SendMessage stores a message and pushes it to connected students. Students
// that miss the push pick it up with their next snapshot.
func (s *ProctorService) SendMessage(ctx context.Context, examID uuid.UUID, senderID int, req *model.SendMessageRequest) (*model.AddressedMessage, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return nil, err
	}

	m := &model.AddressedMessage{
		Message: model.Message{Type: req.Type, Body: req.Body},
		ExamID:  examID,
	}
	switch req.Type {
	case model.MessagePersonal:
		reg, err := s.regs.GetByID(ctx, req.RegistrationID)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && reg.ExamID != examID) {
			return nil, ErrMessageTarget
		}
		if err != nil {
			return nil, fmt.Errorf("get registration: %w", err)
		}
		m.RegistrationID = &reg.ID
	case model.MessageRoom:
		id := req.RoomID
		m.RoomID = &id
	case model.MessageVersion:
		version, err := s.exams.GetVersion(ctx, req.ExamVersionID)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && version.ExamID != examID) {
			return nil, ErrMessageTarget
		}
		if err != nil {
			return nil, fmt.Errorf("get version: %w", err)
		}
		m.ExamVersionID = &version.ID
	}

	if err := s.messages.Create(ctx, senderID, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.hot.PublishMessage(ctx, m); err != nil {
		s.log.Warn().Err(err).Int64("message_id", m.ID).Msg("Publish failed, students will receive it on next snapshot")
	}
	return m, nil
}

// ListMessages returns everything sent during an exam.
func (s *ProctorService) ListMessages(ctx context.Context, examID uuid.UUID) ([]model.AddressedMessage, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return nil, err
	}
	return s.messages.ListByExam(ctx, examID)
}

// ListAnomalies returns an exam's anomalies.
func (s *ProctorService) ListAnomalies(ctx context.Context, examID uuid.UUID) ([]model.Anomaly, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return nil, err
	}
	return s.anomalies.ListByExam(ctx, examID)
}

// ForgiveAnomaly lifts a lockout once no unforgiven anomaly remains.
func (s *ProctorService) ForgiveAnomaly(ctx context.Context, anomalyID int64) error {
	registrationID, err := s.anomalies.Forgive(ctx, anomalyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAnomalyNotFound
		}
		return fmt.Errorf("forgive anomaly: %w", err)
	}

	open, err := s.anomalies.HasOpen(ctx, registrationID)
	if err != nil {
		return fmt.Errorf("check anomalies: %w", err)
	}
	if open {
		return nil
	}
	if err := s.hot.ClearLockout(ctx, registrationID); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	s.log.Info().Int64("registration_id", registrationID).Msg("Lockout lifted")
	return nil
}

// ListQuestions returns what students asked during an exam.
func (s *ProctorService) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.StaffQuestion, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return nil, err
	}
	return s.questions.ListByExam(ctx, examID)
}

// FinalizeExam closes every registration of an exam.
func (s *ProctorService) FinalizeExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return 0, err
	}
	n, err := s.regs.FinalizeExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("finalize exam: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int64("count", n).Msg("Exam finalized")
	return n, nil
}

// FinalizeRegistration closes one registration.
func (s *ProctorService) FinalizeRegistration(ctx context.Context, registrationID int64) error {
	if _, err := s.regs.GetByID(ctx, registrationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRegistrationNotFound
		}
		return fmt.Errorf("get registration: %w", err)
	}
	return s.regs.Finalize(ctx, registrationID)
}

// FinalizeExpired closes started registrations whose window has passed and
// returns how many were closed.
func (s *ProctorService) FinalizeExpired(ctx context.Context) (int, error) {
	regs, err := s.regs.ListOpenStarted(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open registrations: %w", err)
	}

	now := s.now()
	exams := make(map[uuid.UUID]*model.Exam)
	closed := 0
	for i := range regs {
		reg := &regs[i]
		exam, ok := exams[reg.ExamID]
		if !ok {
			exam, err = s.exam(ctx, reg.ExamID)
			if err != nil {
				return closed, err
			}
			exams[reg.ExamID] = exam
		}

		acc, err := s.regs.GetAccommodation(ctx, reg.ID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return closed, fmt.Errorf("get accommodation: %w", err)
		}

		if now.Before(model.Window(exam, reg, acc, now).Ends) {
			continue
		}
		if err := s.regs.Finalize(ctx, reg.ID); err != nil {
			return closed, fmt.Errorf("finalize registration %d: %w", reg.ID, err)
		}
		closed++
	}
	return closed, nil
}
