package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/hourglass/internal/cache"
	"github.com/stemsi/hourglass/internal/model"
)

var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrNotRegistered     = errors.New("not registered for this exam")
	ErrRegistrationFinal = errors.New("registration is final")
	ErrExamNotAvailable  = errors.New("exam is not open yet")
	ErrInvalidAnswers    = errors.New("invalid answers document")
)

// TakeService implements the student side of an attempt.
type TakeService struct {
	exams     ExamStore
	regs      RegistrationStore
	snapshots SnapshotStore
	anomalies AnomalyStore
	messages  MessageStore
	questions QuestionStore
	hot       HotStore
	now       func() time.Time
	log       zerolog.Logger
}

// NewTakeService creates a new TakeService.
func NewTakeService(
	exams ExamStore,
	regs RegistrationStore,
	snapshots SnapshotStore,
	anomalies AnomalyStore,
	messages MessageStore,
	questions QuestionStore,
	hot HotStore,
	log zerolog.Logger,
) *TakeService {
	return &TakeService{
		exams:     exams,
		regs:      regs,
		snapshots: snapshots,
		anomalies: anomalies,
		messages:  messages,
		questions: questions,
		hot:       hot,
		now:       time.Now,
		log:       log.With().Str("component", "take_service").Logger(),
	}
}

// Info returns what a student needs before starting.
func (s *TakeService) Info(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamInfo, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if _, err := s.registration(ctx, examID, userID); err != nil {
		return nil, err
	}
	return &model.ExamInfo{
		ID:        exam.ID,
		Name:      exam.Name,
		Policies:  exam.Policies,
		StartTime: exam.StartTime,
		EndTime:   exam.EndTime,
	}, nil
}

// Registration returns the student's registration for an exam.
func (s *TakeService) Registration(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error) {
	return s.registration(ctx, examID, userID)
}

func (s *TakeService) registration(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error) {
	reg, err := s.regs.GetByExamAndUser(ctx, examID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// openRegistration returns a registration that still accepts work.
func (s *TakeService) openRegistration(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error) {
	reg, err := s.registration(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	if reg.Final {
		return nil, ErrRegistrationFinal
	}
	return reg, nil
}

func (s *TakeService) accommodation(ctx context.Context, registrationID int64) (*model.Accommodation, error) {
	acc, err := s.regs.GetAccommodation(ctx, registrationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get accommodation: %w", err)
	}
	return acc, nil
}

// lockedOut checks the Redis flag first and falls back to the database, so an
// anomaly still queued for persistence already counts.
func (s *TakeService) lockedOut(ctx context.Context, registrationID int64) (bool, error) {
	flagged, err := s.hot.LockedOut(ctx, registrationID)
	if err != nil {
		s.log.Warn().Err(err).Int64("registration_id", registrationID).Msg("Lockout flag lookup failed")
	}
	if flagged {
		return true, nil
	}
	open, err := s.anomalies.HasOpen(ctx, registrationID)
	if err != nil {
		return false, fmt.Errorf("check anomalies: %w", err)
	}
	return open, nil
}

// Start begins or resumes an attempt and returns everything the client needs.
func (s *TakeService) Start(ctx context.Context, examID uuid.UUID, userID int) (*model.StartResponse, error) {
	var (
		exam *model.Exam
		reg  *model.Registration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := s.exams.GetByID(gctx, examID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrExamNotFound
			}
			return fmt.Errorf("get exam: %w", err)
		}
		exam = e
		return nil
	})
	g.Go(func() error {
		r, err := s.openRegistration(gctx, examID, userID)
		reg = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	locked, err := s.lockedOut(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return &model.StartResponse{Type: model.StartAnomalous}, nil
	}

	acc, err := s.accommodation(ctx, reg.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	opens := exam.StartTime
	if acc != nil && acc.NewStartTime != nil {
		opens = *acc.NewStartTime
	}
	if now.Before(opens) {
		return nil, ErrExamNotAvailable
	}

	started, err := s.regs.MarkStarted(ctx, reg.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark started: %w", err)
	}
	reg.StartTime = &started

	window := model.Window(exam, reg, acc, now)
	if !now.Before(window.Ends) {
		if err := s.regs.Finalize(ctx, reg.ID); err != nil {
			return nil, fmt.Errorf("finalize expired registration: %w", err)
		}
		return nil, ErrRegistrationFinal
	}

	resp := &model.StartResponse{Type: model.StartContents, Time: &window}
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		content, err := s.content(gctx, reg.ExamVersionID)
		resp.Exam = content
		return err
	})
	g.Go(func() error {
		answers, err := s.latestAnswers(gctx, reg.ID)
		resp.Answers = answers
		return err
	})
	g.Go(func() error {
		msgs, err := s.messages.ListFor(gctx, reg, 0)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		resp.Messages = &msgs
		return nil
	})
	g.Go(func() error {
		qs, err := s.questions.ListByRegistration(gctx, reg.ID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		resp.Questions = qs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("registration_id", reg.ID).
		Int("user_id", userID).
		Time("ends", window.Ends).
		Msg("Attempt started")
	return resp, nil
}

func (s *TakeService) content(ctx context.Context, versionID int64) (*model.ExamVersionContent, error) {
	content, err := s.hot.Content(ctx, versionID)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Int64("version_id", versionID).Msg("Content cache read failed")
	}

	version, err := s.exams.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if err := s.hot.SetContent(ctx, versionID, &version.Content); err != nil {
		s.log.Warn().Err(err).Int64("version_id", versionID).Msg("Content cache write failed")
	}
	return &version.Content, nil
}

// latestAnswers returns nil when nothing was saved yet.
func (s *TakeService) latestAnswers(ctx context.Context, registrationID int64) (*model.AnswersState, error) {
	raw, err := s.hot.LatestSnapshot(ctx, registrationID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn().Err(err).Int64("registration_id", registrationID).Msg("Snapshot cache read failed")
		}
		raw, err = s.snapshots.Latest(ctx, registrationID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("latest snapshot: %w", err)
		}
	}

	var answers model.AnswersState
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &answers, nil
}

func decodeAnswers(raw *json.RawMessage) (json.RawMessage, error) {
	if raw == nil {
		return nil, ErrInvalidAnswers
	}
	var answers model.AnswersState
	if err := json.Unmarshal(*raw, &answers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	// Re-encode so only well-formed answers are stored.
	return json.Marshal(answers)
}

// Snapshot stores the student's answers and returns messages newer than lastMessageID.
func (s *TakeService) Snapshot(ctx context.Context, examID uuid.UUID, userID int, answers *json.RawMessage, lastMessageID int64) (*model.SnapshotResponse, error) {
	reg, err := s.openRegistration(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.lockedOut(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return &model.SnapshotResponse{Lockout: true}, nil
	}

	clean, err := decodeAnswers(answers)
	if err != nil {
		return nil, err
	}
	if err := s.hot.SaveSnapshot(ctx, reg.ID, clean, s.now()); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	msgs, err := s.messages.ListFor(ctx, reg, lastMessageID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &model.SnapshotResponse{Messages: msgs}, nil
}

// Submit writes the final answers straight to the database and closes the registration.
func (s *TakeService) Submit(ctx context.Context, examID uuid.UUID, userID int, answers *json.RawMessage) (*model.SubmitResponse, error) {
	reg, err := s.openRegistration(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.lockedOut(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return &model.SubmitResponse{Lockout: true}, nil
	}

	clean, err := decodeAnswers(answers)
	if err != nil {
		return nil, err
	}
	if err := s.snapshots.Submit(ctx, reg.ID, clean); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegistrationFinal
		}
		return nil, fmt.Errorf("submit: %w", err)
	}

	s.log.Info().Int64("registration_id", reg.ID).Int("user_id", userID).Msg("Attempt submitted")
	return &model.SubmitResponse{}, nil
}

// Question records a question for staff.
func (s *TakeService) Question(ctx context.Context, examID uuid.UUID, userID int, body string) (*model.QuestionResponse, error) {
	reg, err := s.openRegistration(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.questions.Create(ctx, reg.ID, body); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return &model.QuestionResponse{Success: true}, nil
}

// ReportAnomaly locks the registration out until staff forgive it.
func (s *TakeService) ReportAnomaly(ctx context.Context, examID uuid.UUID, userID int, reason string) error {
	reg, err := s.openRegistration(ctx, examID, userID)
	if err != nil {
		return err
	}
	if err := s.hot.RecordAnomaly(ctx, reg.ID, reason, s.now()); err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	s.log.Warn().Int64("registration_id", reg.ID).Str("reason", reason).Msg("Anomaly reported")
	return nil
}

// Subscribe streams the messages addressed to reg as they are sent.
func (s *TakeService) Subscribe(ctx context.Context, reg *model.Registration) (<-chan model.Message, error) {
	in, err := s.hot.SubscribeMessages(ctx, reg.ExamID)
	if err != nil {
		return nil, err
	}
	out := make(chan model.Message)
	go func() {
		defer close(out)
		for m := range in {
			if !m.For(reg) {
				continue
			}
			select {
			case out <- m.Message:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
