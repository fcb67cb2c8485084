// Package servicetest provides an in-memory implementation of every store the
// services depend on, for tests that should not need PostgreSQL or Redis.
package servicetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/hourglass/internal/cache"
	"github.com/stemsi/hourglass/internal/model"
)

// Memory satisfies ExamStore, SnapshotStore, AnomalyStore and HotStore.
// RegistrationStore, MessageStore and QuestionStore share method names with
// those, so they are served by the adapters returned from RegistrationStore,
// MessageStore and QuestionStore.
type Memory struct {
	mu sync.Mutex

	Exams          map[uuid.UUID]*model.Exam
	Versions       map[int64]*model.ExamVersion
	Registrations  map[int64]*model.Registration
	Accommodations map[int64]*model.Accommodation
	Snapshots      map[int64][]StoredSnapshot
	Anomalies      []model.Anomaly
	Messages       []model.AddressedMessage
	Questions      []model.StaffQuestion

	ContentCache    map[int64]*model.ExamVersionContent
	LatestSnapshots map[int64]json.RawMessage
	Lockouts        map[int64]bool
	// Jobs holds snapshots sent to the persistence queue, in order.
	Jobs []cache.SnapshotJob

	nextID      int64
	subscribers map[uuid.UUID][]chan model.AddressedMessage
}

func NewMemory() *Memory {
	return &Memory{
		Exams:           make(map[uuid.UUID]*model.Exam),
		Versions:        make(map[int64]*model.ExamVersion),
		Registrations:   make(map[int64]*model.Registration),
		Accommodations:  make(map[int64]*model.Accommodation),
		Snapshots:       make(map[int64][]StoredSnapshot),
		ContentCache:    make(map[int64]*model.ExamVersionContent),
		LatestSnapshots: make(map[int64]json.RawMessage),
		Lockouts:        make(map[int64]bool),
		subscribers:     make(map[uuid.UUID][]chan model.AddressedMessage),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// AddExam registers an exam with one version and returns the version id.
func (m *Memory) AddExam(exam *model.Exam, content model.ExamVersionContent) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exam.ID == uuid.Nil {
		exam.ID = uuid.New()
	}
	m.Exams[exam.ID] = exam
	v := &model.ExamVersion{ID: m.id(), ExamID: exam.ID, Name: "v1", Content: content}
	m.Versions[v.ID] = v
	return v.ID
}

// AddRegistration stores reg with a fresh id.
func (m *Memory) AddRegistration(reg *model.Registration) *model.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg.ID = m.id()
	m.Registrations[reg.ID] = reg
	return reg
}

// AddAnomaly stores an unforgiven anomaly.
func (m *Memory) AddAnomaly(registrationID int64, reason string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := model.Anomaly{ID: m.id(), RegistrationID: registrationID, Reason: reason, CreatedAt: time.Now()}
	m.Anomalies = append(m.Anomalies, a)
	return a.ID
}

// ─── ExamStore ───────────────────────────────────────────────────────────────

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetVersion(ctx context.Context, id int64) (*model.ExamVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Versions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *v
	return &cp, nil
}

// ─── RegistrationStore ───────────────────────────────────────────────────────

// Registrations adapts Memory to RegistrationStore.
type Registrations struct{ m *Memory }

func (m *Memory) RegistrationStore() *Registrations { return &Registrations{m: m} }

func (s *Registrations) GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.Registration, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Registrations {
		if r.ExamID == examID && r.UserID == userID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *Registrations) GetByID(ctx context.Context, id int64) (*model.Registration, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Registrations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

// Registration returns a copy of the stored registration.
func (m *Memory) Registration(id int64) model.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.Registrations[id]
}

func (s *Registrations) MarkStarted(ctx context.Context, id int64, at time.Time) (time.Time, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Registrations[id]
	if !ok {
		return time.Time{}, pgx.ErrNoRows
	}
	if r.StartTime == nil {
		r.StartTime = &at
	}
	return *r.StartTime, nil
}

func (s *Registrations) Finalize(ctx context.Context, id int64) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Registrations[id]; ok {
		r.Final = true
	}
	return nil
}

func (s *Registrations) FinalizeExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.Registrations {
		if r.ExamID == examID && !r.Final {
			r.Final = true
			n++
		}
	}
	return n, nil
}

func (s *Registrations) ListOpenStarted(ctx context.Context) ([]model.Registration, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Registration
	for _, r := range m.Registrations {
		if !r.Final && r.StartTime != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Registrations) GetAccommodation(ctx context.Context, registrationID int64) (*model.Accommodation, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accommodations[registrationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

// ─── SnapshotStore ───────────────────────────────────────────────────────────

// StoredSnapshot is one persisted snapshot row.
type StoredSnapshot struct {
	Answers json.RawMessage
	At      time.Time
	Final   bool
}

// Latest prefers the submitted row, then the newest autosave.
func (m *Memory) Latest(ctx context.Context, registrationID int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.Snapshots[registrationID]
	if len(snaps) == 0 {
		return nil, pgx.ErrNoRows
	}
	best := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.Final != best.Final {
			if snap.Final {
				best = snap
			}
			continue
		}
		if !snap.At.Before(best.At) {
			best = snap
		}
	}
	return best.Answers, nil
}

func (m *Memory) Append(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.Registrations[registrationID]
	if !ok || reg.Final {
		return false, nil
	}
	m.Snapshots[registrationID] = append(m.Snapshots[registrationID], StoredSnapshot{Answers: answers, At: at})
	return true, nil
}

func (m *Memory) Submit(ctx context.Context, registrationID int64, answers json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.Registrations[registrationID]
	if !ok || reg.Final {
		return pgx.ErrNoRows
	}
	reg.Final = true
	m.Snapshots[registrationID] = append(m.Snapshots[registrationID], StoredSnapshot{Answers: answers, At: time.Now(), Final: true})
	return nil
}

// ─── AnomalyStore ────────────────────────────────────────────────────────────

func (m *Memory) HasOpen(ctx context.Context, registrationID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Anomalies {
		if a.RegistrationID == registrationID && !a.Forgiven {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Anomaly{}
	for _, a := range m.Anomalies {
		if r, ok := m.Registrations[a.RegistrationID]; ok && r.ExamID == examID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) Forgive(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Anomalies {
		if m.Anomalies[i].ID == id {
			m.Anomalies[i].Forgiven = true
			return m.Anomalies[i].RegistrationID, nil
		}
	}
	return 0, pgx.ErrNoRows
}

// ─── MessageStore / QuestionStore ────────────────────────────────────────────

func (m *Memory) MessageStore() *Messages { return &Messages{m: m} }

func (m *Memory) QuestionStore() *Questions { return &Questions{m: m} }

// ─── HotStore ────────────────────────────────────────────────────────────────

func (m *Memory) Content(ctx context.Context, versionID int64) (*model.ExamVersionContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ContentCache[versionID]
	if !ok {
		return nil, cache.ErrMiss
	}
	return c, nil
}

func (m *Memory) SetContent(ctx context.Context, versionID int64, content *model.ExamVersionContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContentCache[versionID] = content
	return nil
}

func (m *Memory) LatestSnapshot(ctx context.Context, registrationID int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.LatestSnapshots[registrationID]
	if !ok {
		return nil, cache.ErrMiss
	}
	return raw, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LatestSnapshots[registrationID] = answers
	m.Jobs = append(m.Jobs, cache.SnapshotJob{RegistrationID: registrationID, Answers: answers, Timestamp: at.Unix()})
	return nil
}

func (m *Memory) LockedOut(ctx context.Context, registrationID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Lockouts[registrationID], nil
}

func (m *Memory) ClearLockout(ctx context.Context, registrationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Lockouts, registrationID)
	return nil
}

// RecordAnomaly persists immediately, standing in for the flag plus the worker.
func (m *Memory) RecordAnomaly(ctx context.Context, registrationID int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lockouts[registrationID] = true
	m.Anomalies = append(m.Anomalies, model.Anomaly{ID: m.id(), RegistrationID: registrationID, Reason: reason, CreatedAt: at})
	return nil
}

func (m *Memory) PublishMessage(ctx context.Context, msg *model.AddressedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers[msg.ExamID] {
		select {
		case ch <- *msg:
		default:
		}
	}
	return nil
}

// SubscribeMessages buffers a handful of messages per subscriber and drops
// the rest, like a slow Redis subscriber would.
func (m *Memory) SubscribeMessages(ctx context.Context, examID uuid.UUID) (<-chan model.AddressedMessage, error) {
	ch := make(chan model.AddressedMessage, 16)
	m.mu.Lock()
	m.subscribers[examID] = append(m.subscribers[examID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[examID]
		for i, c := range subs {
			if c == ch {
				m.subscribers[examID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers counts open subscriptions for an exam.
func (m *Memory) Subscribers(examID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[examID])
}

// Messages adapts Memory to MessageStore.
type Messages struct{ m *Memory }

func (s *Messages) Create(ctx context.Context, senderID int, msg *model.AddressedMessage) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	msg.Time = time.Now().UTC()
	m.Messages = append(m.Messages, *msg)
	return nil
}

func (s *Messages) ListFor(ctx context.Context, reg *model.Registration, afterID int64) (model.MessagesByCategory, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var out model.MessagesByCategory
	for i := range m.Messages {
		msg := &m.Messages[i]
		if msg.ID > afterID && msg.For(reg) {
			out.Add(msg.Message)
		}
	}
	return out, nil
}

func (s *Messages) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AddressedMessage, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.AddressedMessage{}
	for _, msg := range m.Messages {
		if msg.ExamID == examID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Questions adapts Memory to QuestionStore.
type Questions struct{ m *Memory }

func (s *Questions) Create(ctx context.Context, registrationID int64, body string) (*model.ProfQuestion, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	reg := s.m.Registrations[registrationID]
	q := model.StaffQuestion{ID: s.m.id(), RegistrationID: registrationID, Body: body, CreatedAt: time.Now().UTC()}
	if reg != nil {
		q.UserID = reg.UserID
	}
	s.m.Questions = append(s.m.Questions, q)
	return &model.ProfQuestion{ID: q.ID, Body: q.Body, Time: q.CreatedAt}, nil
}

func (s *Questions) ListByRegistration(ctx context.Context, registrationID int64) ([]model.ProfQuestion, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.ProfQuestion
	for _, q := range s.m.Questions {
		if q.RegistrationID == registrationID {
			out = append(out, model.ProfQuestion{ID: q.ID, Body: q.Body, Time: q.CreatedAt})
		}
	}
	return out, nil
}

func (s *Questions) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StaffQuestion, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []model.StaffQuestion{}
	for _, q := range s.m.Questions {
		if r, ok := s.m.Registrations[q.RegistrationID]; ok && r.ExamID == examID {
			out = append(out, q)
		}
	}
	return out, nil
}
