package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/model"
	ws "github.com/stemsi/hourglass/internal/websocket"
)

const examID = "3f1c9a52-8d0e-4c55-9a7e-2b6f4d1e0c11"

func writeData(t *testing.T, w http.ResponseWriter, status int, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"data": data}))
}

func writeFail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  nil,
		"error": map[string]string{"code": code, "message": "nope"},
	})
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL, ExamID: examID, Token: "student-token"})
	require.NoError(t, err)
	return c
}

func TestClient_SendsCSRFTokenFromExamInfo(t *testing.T) {
	var seen []model.TakeRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/student/exams/"+examID, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: DefaultCSRFCookie, Value: "csrf-123", Path: "/"})
		writeData(t, w, http.StatusOK, model.ExamInfo{Name: "Midterm", Policies: []model.Policy{model.PolicyTolerateWindowed}})
	})
	mux.HandleFunc("/api/student/exams/"+examID+"/take", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(CSRFHeader) != "csrf-123" || r.Header.Get("Authorization") != "Bearer student-token" {
			writeFail(w, http.StatusForbidden, "CSRF_INVALID")
			return
		}
		var req model.TakeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)
		writeData(t, w, http.StatusOK, model.QuestionResponse{Success: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, srv)
	info, err := c.ExamInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Midterm", info.Name)
	assert.Equal(t, []model.Policy{model.PolicyTolerateWindowed}, info.Policies)

	require.NoError(t, c.AskQuestion(context.Background(), "is 3b a typo?"))
	require.Len(t, seen, 1)
	assert.Equal(t, model.TaskQuestion, seen[0].Task)
	assert.Equal(t, "is 3b a typo?", seen[0].Question.Body)
}

func TestClient_SnapshotForbiddenIsLockout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusForbidden, "ANOMALOUS")
	}))
	defer srv.Close()

	c := newClient(t, srv)
	resp, err := c.Snapshot(context.Background(), model.AnswersState{}, 0)

	require.NoError(t, err)
	assert.True(t, resp.Lockout)

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrForbidden)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ANOMALOUS", apiErr.Code)
}

func TestClient_SnapshotCarriesAnswersAndWatermark(t *testing.T) {
	var got struct {
		Task          model.TakeTask     `json:"task"`
		Answers       model.AnswersState `json:"answers"`
		LastMessageID int64              `json:"lastMessageId"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeData(t, w, http.StatusOK, model.SnapshotResponse{
			Messages: model.MessagesByCategory{Room: []model.Message{{ID: 12, Type: model.MessageRoom, Body: "10 minutes left"}}},
		})
	}))
	defer srv.Close()

	answers := model.AnswersState{Answers: [][][]model.Answer{{{model.TextAnswer("42")}}}, Scratch: "s"}
	resp, err := newClient(t, srv).Snapshot(context.Background(), answers, 11)

	require.NoError(t, err)
	assert.False(t, resp.Lockout)
	require.Len(t, resp.Messages.Room, 1)
	assert.Equal(t, model.TaskSnapshot, got.Task)
	assert.Equal(t, int64(11), got.LastMessageID)
	assert.Equal(t, answers, got.Answers)
}

func TestClient_ServerErrorIsNotLockout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusInternalServerError, "INTERNAL_ERROR")
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Snapshot(context.Background(), model.AnswersState{}, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestClient_QuestionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, http.StatusOK, model.QuestionResponse{Success: false})
	}))
	defer srv.Close()

	assert.Error(t, newClient(t, srv).AskQuestion(context.Background(), "hello"))
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com", ExamID: examID})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "http://example.com"})
	assert.Error(t, err)
}

func TestClient_SubscribeDeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/student/exams/"+examID+"/messages", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		_ = ws.WriteTyped(conn, ws.MessageEvent{
			Event:   ws.EventMessage,
			Message: model.Message{ID: 7, Type: model.MessageExam, Body: "Pencils down soon"},
		})
		_ = ws.WriteClose(conn, "bye")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := newClient(t, srv).Subscribe(ctx)
	require.NoError(t, err)

	select {
	case m, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, int64(7), m.ID)
		assert.Equal(t, "Pencils down soon", m.Body)
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	for range ch {
	}
}
