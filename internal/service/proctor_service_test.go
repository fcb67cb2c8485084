package service_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/model"
	"github.com/stemsi/hourglass/internal/service"
)

func TestSendMessage_RejectsForeignTargets(t *testing.T) {
	f := newFixture(t)
	other := &model.Exam{Name: "Other", DurationMinutes: 30, StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)}
	otherVersion := f.mem.AddExam(other, sampleContent())
	foreign := f.mem.AddRegistration(&model.Registration{UserID: 99, ExamID: other.ID, ExamVersionID: otherVersion})

	_, err := f.proctor.SendMessage(f.ctx, f.exam.ID, 1, &model.SendMessageRequest{
		Type: model.MessagePersonal, Body: "hi", RegistrationID: foreign.ID,
	})
	assert.ErrorIs(t, err, service.ErrMessageTarget)

	_, err = f.proctor.SendMessage(f.ctx, f.exam.ID, 1, &model.SendMessageRequest{
		Type: model.MessageVersion, Body: "hi", ExamVersionID: otherVersion,
	})
	assert.ErrorIs(t, err, service.ErrMessageTarget)

	_, err = f.proctor.SendMessage(f.ctx, uuid.New(), 1, &model.SendMessageRequest{Type: model.MessageExam, Body: "hi"})
	assert.ErrorIs(t, err, service.ErrExamNotFound)
}

func TestSendMessage_SharesOneSequence(t *testing.T) {
	f := newFixture(t)
	var ids []int64
	for _, req := range []model.SendMessageRequest{
		{Type: model.MessageExam, Body: "a"},
		{Type: model.MessageVersion, Body: "b", ExamVersionID: f.reg.ExamVersionID},
		{Type: model.MessagePersonal, Body: "c", RegistrationID: f.reg.ID},
	} {
		req := req
		m, err := f.proctor.SendMessage(f.ctx, f.exam.ID, 1, &req)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	assert.IsIncreasing(t, ids)

	all, err := f.proctor.ListMessages(f.ctx, f.exam.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestForgiveAnomaly_LiftsLockoutWhenNoneRemain(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.take.ReportAnomaly(f.ctx, f.exam.ID, studentID, "left fullscreen"))
	require.NoError(t, f.take.ReportAnomaly(f.ctx, f.exam.ID, studentID, "left fullscreen again"))

	anomalies, err := f.proctor.ListAnomalies(f.ctx, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, anomalies, 2)

	require.NoError(t, f.proctor.ForgiveAnomaly(f.ctx, anomalies[0].ID))
	assert.True(t, f.mem.Lockouts[f.reg.ID], "one anomaly is still open")

	require.NoError(t, f.proctor.ForgiveAnomaly(f.ctx, anomalies[1].ID))
	assert.False(t, f.mem.Lockouts[f.reg.ID])

	resp, err := f.take.Start(f.ctx, f.exam.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, model.StartContents, resp.Type)

	assert.ErrorIs(t, f.proctor.ForgiveAnomaly(f.ctx, 12345), service.ErrAnomalyNotFound)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	second := f.mem.AddRegistration(&model.Registration{UserID: 77, ExamID: f.exam.ID, ExamVersionID: f.reg.ExamVersionID})

	require.NoError(t, f.proctor.FinalizeRegistration(f.ctx, second.ID))
	assert.True(t, f.mem.Registration(second.ID).Final)
	assert.ErrorIs(t, f.proctor.FinalizeRegistration(f.ctx, 999), service.ErrRegistrationNotFound)

	n, err := f.proctor.FinalizeExam(f.ctx, f.exam.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, f.mem.Registration(f.reg.ID).Final)
}

func TestFinalizeExpired(t *testing.T) {
	f := newFixture(t)
	longAgo := time.Now().Add(-2 * time.Hour)
	f.mem.Registrations[f.reg.ID].StartTime = &longAgo

	recent := time.Now().Add(-10 * time.Minute)
	fresh := f.mem.AddRegistration(&model.Registration{UserID: 77, ExamID: f.exam.ID, ExamVersionID: f.reg.ExamVersionID, StartTime: &recent})

	stretched := f.mem.AddRegistration(&model.Registration{UserID: 78, ExamID: f.exam.ID, ExamVersionID: f.reg.ExamVersionID, StartTime: &longAgo})
	f.mem.Accommodations[stretched.ID] = &model.Accommodation{RegistrationID: stretched.ID, PercentTimeExpansion: 100}

	unstarted := f.mem.AddRegistration(&model.Registration{UserID: 79, ExamID: f.exam.ID, ExamVersionID: f.reg.ExamVersionID})

	closed, err := f.proctor.FinalizeExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.True(t, f.mem.Registration(f.reg.ID).Final)
	assert.False(t, f.mem.Registration(fresh.ID).Final)
	assert.False(t, f.mem.Registration(stretched.ID).Final)
	assert.False(t, f.mem.Registration(unstarted.ID).Final)
}
