package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/hourglass/internal/model"
)

// Status is the top-level state of an attempt.
type Status string

const (
	StatusBeforeLockdown  Status = "BEFORE_LOCKDOWN"
	StatusLockdownFailed  Status = "LOCKDOWN_FAILED"
	StatusLockdownIgnored Status = "LOCKDOWN_IGNORED"
	StatusLockedDown      Status = "LOCKED_DOWN"
	StatusLoading         Status = "LOADING"
	StatusLoadFailed      Status = "LOAD_FAILED"
	StatusLockedOut       Status = "LOCKED_OUT"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusSubmitted       Status = "SUBMITTED"
)

var transitions = map[Status][]Status{
	StatusBeforeLockdown:  {StatusLockdownFailed, StatusLockdownIgnored, StatusLockedDown},
	StatusLockdownFailed:  {StatusBeforeLockdown},
	StatusLockdownIgnored: {StatusLoading},
	StatusLockedDown:      {StatusLoading},
	StatusLoading:         {StatusLoadFailed, StatusLockedOut, StatusInProgress},
	StatusLoadFailed:      {StatusLoading},
	StatusInProgress:      {StatusSubmitted, StatusLockedOut},
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusLockedOut || s == StatusSubmitted
}

func (s Status) canMoveTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	DefaultSnapshotInterval = 10 * time.Second
	DefaultHomePath         = "/"
)

// Config tunes a Session. The zero value is usable.
type Config struct {
	Policies         []model.Policy
	SnapshotInterval time.Duration
	// Preview renders the exam without saving or auto-submitting.
	Preview  bool
	HomePath string
	Push     PushSource
	Now      func() time.Time
	Logger   *zerolog.Logger
}

// Session is one student's attempt at one exam. Every method is safe for
// concurrent use; handlers run one at a time and network calls happen
// outside the lock.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	log       zerolog.Logger
	transport Transport
	guard     *Guard
	navigator Navigator

	status     Status
	lockdown   LockdownState
	err        error
	content    *model.ExamVersionContent
	window     model.TimeInfo
	answers    AnswerStore
	navigation Navigation
	inbox      Inbox
	sync       Synchronizer
	redirected bool
	done       chan struct{}
}

func NewSession(transport Transport, env Environment, navigator Navigator, cfg Config) *Session {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.HomePath == "" {
		cfg.HomePath = DefaultHomePath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.With().Str("component", "attempt").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "attempt").Logger()
	}

	return &Session{
		cfg:       cfg,
		log:       logger,
		transport: transport,
		guard:     NewGuard(env),
		navigator: navigator,
		status:    StatusBeforeLockdown,
		lockdown:  LockdownState{Status: LockdownBefore},
		sync:      newSynchronizer(),
		done:      make(chan struct{}),
	}
}

// setStatus must be called with s.mu held.
func (s *Session) setStatus(to Status) error {
	if !s.status.canMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.status, to)
	}
	s.log.Debug().Str("from", string(s.status)).Str("to", string(to)).Msg("Attempt status changed")
	s.status = to
	if to.Terminal() {
		s.sync.stop()
		close(s.done)
	}
	return nil
}

// redirectOnce must be called with s.mu held.
func (s *Session) redirectOnce() {
	if s.redirected || s.navigator == nil {
		return
	}
	s.redirected = true
	s.navigator.Redirect(s.cfg.HomePath)
}

// Begin locks the environment down and loads the exam.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusBeforeLockdown {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: begin from %s", ErrIllegalTransition, s.status)
	}
	s.mu.Unlock()

	result, err := s.guard.Attempt(ctx, s.cfg.Policies)

	s.mu.Lock()
	if s.status != StatusBeforeLockdown {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: lockdown finished in %s", ErrIllegalTransition, s.status)
	}
	if err != nil {
		s.lockdown = LockdownState{Status: LockdownFailed, Message: Message(err)}
		s.err = err
		_ = s.setStatus(StatusLockdownFailed)
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Lockdown failed")
		return err
	}
	s.lockdown = LockdownState{Status: result}
	next := StatusLockedDown
	if result == LockdownIgnored {
		next = StatusLockdownIgnored
	}
	_ = s.setStatus(next)
	s.mu.Unlock()

	return s.load(ctx)
}

// RetryLockdown starts over after a failed lockdown.
func (s *Session) RetryLockdown(ctx context.Context) error {
	s.mu.Lock()
	if err := s.setStatus(StatusBeforeLockdown); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lockdown = LockdownState{Status: LockdownBefore}
	s.err = nil
	s.mu.Unlock()
	return s.Begin(ctx)
}

// RetryLoad fetches the exam again after a load failure.
func (s *Session) RetryLoad(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusLoadFailed {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: retry load from %s", ErrIllegalTransition, s.status)
	}
	s.mu.Unlock()
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	if err := s.setStatus(StatusLoading); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	resp, err := s.transport.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusLoading {
		return nil
	}

	if err == nil && resp != nil && resp.Type == model.StartAnomalous {
		s.err = ErrAnomalous
		_ = s.setStatus(StatusLockedOut)
		s.log.Warn().Msg("Registration is anomalous, attempt locked out")
		return ErrAnomalous
	}
	var nav Navigation
	if err == nil {
		err = validateStart(resp)
	}
	if err == nil {
		if nav = NewNavigation(resp.Exam); len(nav.PageCoords) == 0 {
			err = ErrEmptyExam
		}
	}
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrLoad, err)
		_ = s.setStatus(StatusLoadFailed)
		s.log.Error().Err(err).Msg("Failed to load exam")
		return s.err
	}

	s.content = resp.Exam
	s.window = *resp.Time
	state := resp.Exam.EmptyAnswers()
	if resp.Answers != nil {
		state = *resp.Answers
	}
	s.answers = NewAnswerStore(state, resp.Exam)
	s.navigation = nav
	var messages model.MessagesByCategory
	if resp.Messages != nil {
		messages = *resp.Messages
	}
	s.inbox = NewInbox(messages, resp.Questions)
	s.lockdown.Loaded = true
	s.err = nil
	_ = s.setStatus(StatusInProgress)

	s.log.Info().
		Int("questions", len(resp.Exam.Questions)).
		Time("ends", s.window.Ends).
		Msg("Exam loaded")
	return nil
}

func validateStart(resp *model.StartResponse) error {
	switch {
	case resp == nil:
		return errors.New("empty response")
	case resp.Type != model.StartContents:
		return fmt.Errorf("unknown start response type %q", resp.Type)
	case resp.Exam == nil || resp.Time == nil:
		return errors.New("incomplete start response")
	case len(resp.Exam.Questions) == 0:
		return ErrEmptyExam
	}
	return nil
}

// Save pushes the answers to the server and merges any new messages. A call
// made while another save is pending is skipped.
func (s *Session) Save(ctx context.Context) (SaveOutcome, error) {
	s.mu.Lock()
	if s.status != StatusInProgress || !s.sync.begin() {
		s.mu.Unlock()
		return SaveSkipped, nil
	}
	answers := s.answers.State()
	lastID := s.inbox.LastMessageID()
	s.mu.Unlock()

	resp, err := s.transport.Snapshot(ctx, answers, lastID)
	if err == nil && resp == nil {
		err = errors.New("empty snapshot response")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		s.sync.pending = false
		return SaveSkipped, nil
	}
	if err != nil {
		s.sync.fail(err)
		s.log.Warn().Err(err).Msg("Snapshot failed")
		return SaveFailed, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if resp.Lockout {
		s.sync.lockout()
		s.err = ErrLockout
		_ = s.setStatus(StatusLockedOut)
		s.log.Warn().Msg("Locked out during snapshot")
		s.redirectOnce()
		return SaveLockedOut, ErrLockout
	}
	s.inbox.Merge(resp.Messages)
	s.sync.succeed()
	return SaveSucceeded, nil
}

// Submit ends the attempt. The request is sent and then the student is
// redirected whatever the outcome; a failed submit is only logged.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusInProgress {
		defer s.mu.Unlock()
		return ErrNotInProgress
	}
	answers := s.answers.State()
	_ = s.setStatus(StatusSubmitted)
	s.mu.Unlock()

	if err := s.transport.Submit(ctx, answers); err != nil {
		s.log.Error().Err(err).Msg("Submit request failed")
	} else {
		s.log.Info().Msg("Exam submitted")
	}

	s.mu.Lock()
	s.redirectOnce()
	s.mu.Unlock()
	return nil
}

// Run drives an in-progress attempt until it ends or ctx is cancelled:
// periodic snapshots, auto-submit at the end time and pushed messages.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusInProgress {
		defer s.mu.Unlock()
		return ErrNotInProgress
	}
	ends := s.window.Ends
	s.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()
	// Ends the push subscription and any in-flight save when Run returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tick <-chan time.Time
	var deadline <-chan time.Time
	if !s.cfg.Preview {
		ticker := time.NewTicker(s.cfg.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C

		timer := time.NewTimer(max(ends.Sub(s.cfg.Now()), 0))
		defer timer.Stop()
		deadline = timer.C
	}

	var pushed <-chan model.Message
	if s.cfg.Push != nil {
		ch, err := s.cfg.Push.Subscribe(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Push channel unavailable, relying on snapshots")
		} else {
			pushed = ch
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-tick:
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.Save(ctx)
			}()
		case <-deadline:
			s.log.Info().Msg("Time is up, submitting")
			return s.Submit(ctx)
		case msg, ok := <-pushed:
			if !ok {
				pushed = nil
				continue
			}
			s.ReceiveMessage(msg)
		}
	}
}

// Done is closed once the attempt reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

// UpdateAnswer records v at c.
func (s *Session) UpdateAnswer(c model.Coordinate, v model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return ErrNotInProgress
	}
	s.answers = s.answers.Update(c, v)
	return nil
}

func (s *Session) UpdateScratch(scratch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return ErrNotInProgress
	}
	s.answers = s.answers.WithScratch(scratch)
	return nil
}

func (s *Session) navigate(fn func(Navigation) Navigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content == nil {
		return ErrNotInProgress
	}
	s.navigation = fn(s.navigation)
	return nil
}

func (s *Session) TogglePagination() error {
	return s.navigate(Navigation.TogglePagination)
}

func (s *Session) ViewQuestion(c PaginationCoordinate) error {
	return s.navigate(func(n Navigation) Navigation { return n.ViewQuestion(c) })
}

func (s *Session) SpyQuestion(c PaginationCoordinate) error {
	return s.navigate(func(n Navigation) Navigation { return n.SpyQuestion(c) })
}

func (s *Session) PrevQuestion() error {
	return s.navigate(Navigation.PrevQuestion)
}

func (s *Session) NextQuestion() error {
	return s.navigate(Navigation.NextQuestion)
}

func (s *Session) ActivateWaypoints(enabled bool) error {
	return s.navigate(func(n Navigation) Navigation { return n.ActivateWaypoints(enabled) })
}

// AskQuestion sends body to staff. The question is listed as SENDING right
// away and its local id is returned even when sending fails.
func (s *Session) AskQuestion(ctx context.Context, body string) (int64, error) {
	s.mu.Lock()
	if s.status != StatusInProgress {
		defer s.mu.Unlock()
		return 0, ErrNotInProgress
	}
	id := s.inbox.Ask(body, s.cfg.Now())
	s.mu.Unlock()

	err := s.transport.AskQuestion(ctx, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return id, nil
	}
	if err != nil {
		s.inbox.QuestionFailed(id)
		s.log.Warn().Err(err).Int64("question_id", id).Msg("Failed to send question")
		return id, fmt.Errorf("%w: %w", ErrQuestionSend, err)
	}
	s.inbox.QuestionSucceeded(id)
	return id, nil
}

// ReceiveMessage merges a pushed message.
func (s *Session) ReceiveMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return
	}
	s.inbox.Receive(msg)
}

// OpenMessages marks every message as read.
func (s *Session) OpenMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox.MarkOpened(s.cfg.Now())
}

// ReportAnomaly tells the server the environment was compromised. The
// resulting lockout arrives with the next snapshot.
func (s *Session) ReportAnomaly(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.status != StatusInProgress {
		defer s.mu.Unlock()
		return ErrNotInProgress
	}
	s.mu.Unlock()

	if err := s.transport.ReportAnomaly(ctx, reason); err != nil {
		return fmt.Errorf("report anomaly: %w", err)
	}
	s.log.Warn().Str("reason", reason).Msg("Anomaly reported")
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err is the error behind the current status, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Lockdown() LockdownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockdown
}

func (s *Session) Snapshot() SnapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync.State()
}

func (s *Session) Answer(c model.Coordinate) model.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Get(c)
}

// Answers returns the current store. Stores are immutable so the caller may
// keep it.
func (s *Session) Answers() AnswerStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers
}

func (s *Session) Navigation() Navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigation
}

// Messages lists every message newest first.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbox.Chronological()
}

func (s *Session) Unread() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbox.Unread()
}

func (s *Session) Questions() []model.ProfQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbox.Questions()
}

func (s *Session) TimeInfo() model.TimeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Content is nil until the exam has loaded.
func (s *Session) Content() *model.ExamVersionContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}
