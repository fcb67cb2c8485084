package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/attempt"
	"github.com/stemsi/hourglass/internal/client"
	"github.com/stemsi/hourglass/internal/model"
)

type redirects struct {
	mu    sync.Mutex
	paths []string
}

func (r *redirects) Redirect(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *redirects) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func beginOverHTTP(t *testing.T, h *harness, srv *httptest.Server) (*attempt.Session, *redirects) {
	t.Helper()
	logger := zerolog.Nop()
	c, err := client.New(client.Options{
		BaseURL: srv.URL,
		ExamID:  h.exam.ID.String(),
		Token:   h.student,
		Logger:  &logger,
	})
	require.NoError(t, err)

	ctx := context.Background()
	info, err := c.ExamInfo(ctx)
	require.NoError(t, err)

	nav := &redirects{}
	s := attempt.NewSession(c, nil, nav, attempt.Config{
		Policies:         info.Policies,
		SnapshotInterval: time.Hour,
		Logger:           &logger,
	})
	require.NoError(t, s.Begin(ctx))
	require.Equal(t, attempt.StatusInProgress, s.Status())
	return s, nav
}

func TestSessionOverHTTP_FullAttempt(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()
	ctx := context.Background()

	s, nav := beginOverHTTP(t, h, srv)
	assert.Equal(t, attempt.LockdownIgnored, s.Lockdown().Status)

	origin := model.Coordinate{}
	require.NoError(t, s.UpdateAnswer(origin, model.TextAnswer("static routes")))
	outcome, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, attempt.SaveSucceeded, outcome)
	assert.Equal(t, attempt.SnapshotSuccess, s.Snapshot().Status)
	assert.Contains(t, string(h.mem.LatestSnapshots[h.reg.ID]), "static routes")

	rec, _ := h.do(http.MethodPost, "/api/proctor/exams/"+h.exam.ID.String()+"/messages", h.proctor,
		map[string]interface{}{"type": "exam", "body": "Ten minutes left"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err = s.Save(ctx)
	require.NoError(t, err)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ten minutes left", msgs[0].Body)
	assert.True(t, s.Unread())

	id, err := s.AskQuestion(ctx, "Is IPv6 in scope?")
	require.NoError(t, err)
	qs := s.Questions()
	require.Len(t, qs, 1)
	assert.Equal(t, id, qs[0].ID)
	assert.Equal(t, model.QuestionSent, qs[0].Status)
	require.Len(t, h.mem.Questions, 1)
	assert.Equal(t, "Is IPv6 in scope?", h.mem.Questions[0].Body)

	require.NoError(t, s.Submit(ctx))
	assert.Equal(t, attempt.StatusSubmitted, s.Status())
	assert.Equal(t, []string{"/"}, nav.Paths())
	assert.True(t, h.mem.Registration(h.reg.ID).Final)
}

func TestSessionOverHTTP_AnomalyLocksOut(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()
	ctx := context.Background()

	s, nav := beginOverHTTP(t, h, srv)
	require.NoError(t, s.ReportAnomaly(ctx, "left fullscreen"))

	outcome, err := s.Save(ctx)
	assert.ErrorIs(t, err, attempt.ErrLockout)
	assert.Equal(t, attempt.SaveLockedOut, outcome)
	assert.Equal(t, attempt.StatusLockedOut, s.Status())
	assert.Equal(t, attempt.SnapshotFailure, s.Snapshot().Status)
	assert.Equal(t, []string{"/"}, nav.Paths())

	outcome, err = s.Save(ctx)
	assert.NoError(t, err)
	assert.Equal(t, attempt.SaveSkipped, outcome)
	assert.Equal(t, []string{"/"}, nav.Paths())
}

func TestSessionOverHTTP_ResumesSavedAnswers(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()
	ctx := context.Background()

	first, _ := beginOverHTTP(t, h, srv)
	require.NoError(t, first.UpdateAnswer(model.Coordinate{}, model.TextAnswer("first draft")))
	require.NoError(t, first.UpdateScratch("notes"))
	_, err := first.Save(ctx)
	require.NoError(t, err)

	second, _ := beginOverHTTP(t, h, srv)
	assert.Equal(t, model.TextAnswer("first draft"), second.Answer(model.Coordinate{}))
	assert.Equal(t, "notes", second.Answers().Scratch())
}
