package service_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/model"
	"github.com/stemsi/hourglass/internal/service"
	"github.com/stemsi/hourglass/internal/service/servicetest"
)

const studentID = 41

type fixture struct {
	mem     *servicetest.Memory
	take    *service.TakeService
	proctor *service.ProctorService
	exam    *model.Exam
	reg     *model.Registration
	ctx     context.Context
}

func sampleContent() model.ExamVersionContent {
	return model.ExamVersionContent{
		Questions: []model.Question{{
			Description: model.HTMLVal{Type: "HTML", Value: "Explain"},
			Parts: []model.Part{{
				Description: model.HTMLVal{Type: "HTML", Value: "part a"},
				Points:      2,
				Body:        []model.BodyItem{{Type: model.BodyText}, {Type: model.BodyYesNo}},
			}},
		}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := servicetest.NewMemory()
	exam := &model.Exam{
		Name:            "Compilers midterm",
		DurationMinutes: 90,
		StartTime:       time.Now().Add(-time.Hour),
		EndTime:         time.Now().Add(3 * time.Hour),
		Policies:        []model.Policy{model.PolicyTolerateWindowed},
	}
	versionID := mem.AddExam(exam, sampleContent())
	room := int64(7)
	reg := mem.AddRegistration(&model.Registration{UserID: studentID, ExamID: exam.ID, ExamVersionID: versionID, RoomID: &room})

	log := zerolog.Nop()
	return &fixture{
		mem:     mem,
		take:    service.NewTakeService(mem, mem.RegistrationStore(), mem, mem, mem.MessageStore(), mem.QuestionStore(), mem, log),
		proctor: service.NewProctorService(mem, mem.RegistrationStore(), mem, mem.MessageStore(), mem.QuestionStore(), mem, log),
		exam:    exam,
		reg:     reg,
		ctx:     context.Background(),
	}
}

func rawAnswers(t *testing.T, s model.AnswersState) *json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	raw := json.RawMessage(b)
	return &raw
}

func TestStart_ReturnsContentsAndWindow(t *testing.T) {
	f := newFixture(t)

	resp, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)

	assert.Equal(t, model.StartContents, resp.Type)
	require.NotNil(t, resp.Exam)
	assert.Len(t, resp.Exam.Questions, 1)
	assert.Nil(t, resp.Answers)
	require.NotNil(t, resp.Time)
	assert.Equal(t, 90*time.Minute, resp.Time.Ends.Sub(resp.Time.Began))

	stored := f.mem.Registration(f.reg.ID)
	require.NotNil(t, stored.StartTime)
	assert.Contains(t, f.mem.ContentCache, f.reg.ExamVersionID)

	again, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.True(t, again.Time.Began.Equal(resp.Time.Began), "resuming keeps the original start")
}

func TestStart_ResumesLatestAnswers(t *testing.T) {
	f := newFixture(t)
	saved := model.AnswersState{
		Answers: [][][]model.Answer{{{model.TextAnswer("from the database"), model.NoAnswer{}}}},
	}
	stored, err := f.mem.Append(f.ctx, f.reg.ID, *rawAnswers(t, saved), time.Now())
	require.NoError(t, err)
	require.True(t, stored)

	resp, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	require.NotNil(t, resp.Answers)
	assert.Equal(t, model.TextAnswer("from the database"), resp.Answers.Answers[0][0][0])

	cached := model.AnswersState{
		Answers: [][][]model.Answer{{{model.TextAnswer("from redis"), model.NoAnswer{}}}},
		Scratch: "notes",
	}
	_, err = f.take.Snapshot(f.ctx, f.exam.ID, studentID, rawAnswers(t, cached), 0)
	require.NoError(t, err)

	resp, err = f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, model.TextAnswer("from redis"), resp.Answers.Answers[0][0][0])
	assert.Equal(t, "notes", resp.Answers.Scratch)
}

func TestStart_Anomalous(t *testing.T) {
	f := newFixture(t)
	f.mem.AddAnomaly(f.reg.ID, "left fullscreen")

	resp, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, model.StartAnomalous, resp.Type)
	assert.Nil(t, resp.Exam)
}

func TestStart_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture)
		userID int
		examID func(f *fixture) uuid.UUID
		want   error
	}{
		{
			name:   "unknown exam",
			userID: studentID,
			examID: func(*fixture) uuid.UUID { return uuid.New() },
			want:   service.ErrExamNotFound,
		},
		{
			name:   "not registered",
			userID: studentID + 1,
			want:   service.ErrNotRegistered,
		},
		{
			name:   "final",
			userID: studentID,
			mutate: func(f *fixture) { f.mem.Registrations[f.reg.ID].Final = true },
			want:   service.ErrRegistrationFinal,
		},
		{
			name:   "not open yet",
			userID: studentID,
			mutate: func(f *fixture) { f.mem.Exams[f.exam.ID].StartTime = time.Now().Add(time.Hour) },
			want:   service.ErrExamNotAvailable,
		},
		{
			name:   "window already over",
			userID: studentID,
			mutate: func(f *fixture) {
				began := time.Now().Add(-2 * time.Hour)
				f.mem.Registrations[f.reg.ID].StartTime = &began
			},
			want: service.ErrRegistrationFinal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			examID := f.exam.ID
			if tt.examID != nil {
				examID = tt.examID(f)
			}
			_, err := f.take.Start(f.ctx, examID, tt.userID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStart_AccommodationOpensEarlyAndStretches(t *testing.T) {
	f := newFixture(t)
	f.mem.Exams[f.exam.ID].StartTime = time.Now().Add(time.Hour)
	early := time.Now().Add(-time.Minute)
	f.mem.Accommodations[f.reg.ID] = &model.Accommodation{RegistrationID: f.reg.ID, NewStartTime: &early, PercentTimeExpansion: 50}

	resp, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, 135*time.Minute, resp.Time.Ends.Sub(resp.Time.Began))
}

func TestSnapshot_ReturnsMessagesAboveWatermark(t *testing.T) {
	f := newFixture(t)
	send := func(req model.SendMessageRequest) int64 {
		m, err := f.proctor.SendMessage(f.ctx, f.exam.ID, 1, &req)
		require.NoError(t, err)
		return m.ID
	}
	first := send(model.SendMessageRequest{Type: model.MessageExam, Body: "Welcome"})
	send(model.SendMessageRequest{Type: model.MessageRoom, Body: "Room 7: quiet please", RoomID: 7})
	send(model.SendMessageRequest{Type: model.MessageRoom, Body: "Room 8 only", RoomID: 8})
	send(model.SendMessageRequest{Type: model.MessagePersonal, Body: "Check 2b", RegistrationID: f.reg.ID})

	resp, err := f.take.Snapshot(f.ctx, f.exam.ID, studentID, rawAnswers(t, model.AnswersState{}), first)
	require.NoError(t, err)

	assert.False(t, resp.Lockout)
	assert.Empty(t, resp.Messages.Exam)
	require.Len(t, resp.Messages.Room, 1)
	assert.Equal(t, "Room 7: quiet please", resp.Messages.Room[0].Body)
	require.Len(t, resp.Messages.Personal, 1)
	assert.Len(t, f.mem.Jobs, 1)
}

func TestSnapshot_LockoutAfterAnomaly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.take.ReportAnomaly(f.ctx, f.exam.ID, studentID, "window blurred"))

	resp, err := f.take.Snapshot(f.ctx, f.exam.ID, studentID, rawAnswers(t, model.AnswersState{}), 0)
	require.NoError(t, err)
	assert.True(t, resp.Lockout)
	assert.Empty(t, f.mem.Jobs, "locked out answers are not stored")
}

func TestSnapshot_RejectsMalformedAnswers(t *testing.T) {
	f := newFixture(t)
	raw := json.RawMessage(`{"answers":[[[{"type":"Essay","value":"x"}]]]}`)

	_, err := f.take.Snapshot(f.ctx, f.exam.ID, studentID, &raw, 0)
	assert.ErrorIs(t, err, service.ErrInvalidAnswers)

	_, err = f.take.Snapshot(f.ctx, f.exam.ID, studentID, nil, 0)
	assert.ErrorIs(t, err, service.ErrInvalidAnswers)
}

func TestSubmit_PersistsAndFinalizes(t *testing.T) {
	f := newFixture(t)
	yes := true
	final := model.AnswersState{Answers: [][][]model.Answer{{{model.TextAnswer("done"), model.YesNoAnswer{Value: &yes}}}}}

	resp, err := f.take.Submit(f.ctx, f.exam.ID, studentID, rawAnswers(t, final))
	require.NoError(t, err)
	assert.False(t, resp.Lockout)
	require.Len(t, f.mem.Snapshots[f.reg.ID], 1)
	assert.True(t, f.mem.Snapshots[f.reg.ID][0].Final)
	assert.True(t, f.mem.Registration(f.reg.ID).Final)

	_, err = f.take.Snapshot(f.ctx, f.exam.ID, studentID, rawAnswers(t, final), 0)
	assert.ErrorIs(t, err, service.ErrRegistrationFinal)
}

func TestQuestion_VisibleToStaff(t *testing.T) {
	f := newFixture(t)

	resp, err := f.take.Question(f.ctx, f.exam.ID, studentID, "Is 1a asking for big-O?")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	qs, err := f.proctor.ListQuestions(f.ctx, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, studentID, qs[0].UserID)

	started, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	require.Len(t, started.Questions, 1)
	assert.Equal(t, "Is 1a asking for big-O?", started.Questions[0].Body)
}

func TestSubscribe_FiltersByRecipient(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()

	reg := f.mem.Registration(f.reg.ID)
	ch, err := f.take.Subscribe(ctx, &reg)
	require.NoError(t, err)

	_, err = f.proctor.SendMessage(ctx, f.exam.ID, 1, &model.SendMessageRequest{Type: model.MessageRoom, Body: "other room", RoomID: 99})
	require.NoError(t, err)
	_, err = f.proctor.SendMessage(ctx, f.exam.ID, 1, &model.SendMessageRequest{Type: model.MessageExam, Body: "everyone"})
	require.NoError(t, err)

	select {
	case m := <-ch:
		assert.Equal(t, "everyone", m.Body)
		assert.Equal(t, model.MessageExam, m.Type)
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
}

// gatedHotStore parks the first lockout check until release is closed.
type gatedHotStore struct {
	*servicetest.Memory
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedHotStore) LockedOut(ctx context.Context, registrationID int64) (bool, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.Memory.LockedOut(ctx, registrationID)
}

func TestSubmit_WinsOverConcurrentSnapshot(t *testing.T) {
	f := newFixture(t)
	hot := &gatedHotStore{Memory: f.mem, entered: make(chan struct{}), release: make(chan struct{})}
	take := service.NewTakeService(f.mem, f.mem.RegistrationStore(), f.mem, f.mem, f.mem.MessageStore(), f.mem.QuestionStore(), hot, zerolog.Nop())

	draft := model.AnswersState{Answers: [][][]model.Answer{{{model.TextAnswer("draft"), model.NoAnswer{}}}}}
	final := model.AnswersState{Answers: [][][]model.Answer{{{model.TextAnswer("final"), model.NoAnswer{}}}}}

	draftRaw := rawAnswers(t, draft)
	snapshotErr := make(chan error, 1)
	go func() {
		_, err := take.Snapshot(f.ctx, f.exam.ID, studentID, draftRaw, 0)
		snapshotErr <- err
	}()
	<-hot.entered

	_, err := take.Submit(f.ctx, f.exam.ID, studentID, rawAnswers(t, final))
	require.NoError(t, err)
	close(hot.release)
	require.NoError(t, <-snapshotErr)

	// The late autosave reached the queue; persisting it must not displace the submission.
	require.Len(t, f.mem.Jobs, 1)
	job := f.mem.Jobs[0]
	stored, err := f.mem.Append(f.ctx, job.RegistrationID, job.Answers, time.Unix(job.Timestamp, 0).Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, stored)

	latest, err := f.mem.Latest(f.ctx, f.reg.ID)
	require.NoError(t, err)
	assert.Contains(t, string(latest), "final")
	assert.NotContains(t, string(latest), "draft")
}

func TestSubmit_Twice(t *testing.T) {
	f := newFixture(t)
	answers := rawAnswers(t, model.AnswersState{})

	_, err := f.take.Submit(f.ctx, f.exam.ID, studentID, answers)
	require.NoError(t, err)
	_, err = f.take.Submit(f.ctx, f.exam.ID, studentID, answers)
	assert.ErrorIs(t, err, service.ErrRegistrationFinal)
}

func TestMemoryLatest_PrefersSubmittedRow(t *testing.T) {
	f := newFixture(t)
	early := time.Now()

	_, err := f.mem.Append(f.ctx, f.reg.ID, json.RawMessage(`"autosave"`), early.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.mem.Submit(f.ctx, f.reg.ID, json.RawMessage(`"submitted"`)))

	latest, err := f.mem.Latest(f.ctx, f.reg.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `"submitted"`, string(latest))
}
