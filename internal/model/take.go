package model

import (
	"encoding/json"
	"time"
)

// TakeTask selects the operation of a POST to the take endpoint.
type TakeTask string

const (
	TaskStart    TakeTask = "start"
	TaskSnapshot TakeTask = "snapshot"
	TaskSubmit   TakeTask = "submit"
	TaskQuestion TakeTask = "question"
)

// TakeRequest is the body of POST /api/student/exams/:exam_id/take.
// Answers stays raw until the task is known so start requests carry no grid.
type TakeRequest struct {
	Task          TakeTask         `json:"task" binding:"required"`
	Answers       *json.RawMessage `json:"answers,omitempty"`
	LastMessageID int64            `json:"lastMessageId" binding:"min=0"`
	Question      *QuestionBody    `json:"question,omitempty"`
}

type QuestionBody struct {
	Body string `json:"body" binding:"required,notblank,max=2000"`
}

// StartResponseType distinguishes the two start outcomes.
type StartResponseType string

const (
	StartAnomalous StartResponseType = "ANOMALOUS"
	StartContents  StartResponseType = "CONTENTS"
)

// TimeInfo is the attempt window.
type TimeInfo struct {
	Began time.Time `json:"began"`
	Ends  time.Time `json:"ends"`
}

// StartResponse is either {type: ANOMALOUS} or the full CONTENTS payload.
type StartResponse struct {
	Type      StartResponseType   `json:"type"`
	Time      *TimeInfo           `json:"time,omitempty"`
	Exam      *ExamVersionContent `json:"exam,omitempty"`
	Answers   *AnswersState       `json:"answers,omitempty"`
	Messages  *MessagesByCategory `json:"messages,omitempty"`
	Questions []ProfQuestion      `json:"questions,omitempty"`
}

// SnapshotResponse carries the lockout flag and messages newer than the
// client's watermark.
type SnapshotResponse struct {
	Lockout  bool               `json:"lockout"`
	Messages MessagesByCategory `json:"messages"`
}

type SubmitResponse struct {
	Lockout bool `json:"lockout"`
}

type QuestionResponse struct {
	Success bool `json:"success"`
}

// AnomalyRequest is sent by the student client when it detects an integrity violation.
type AnomalyRequest struct {
	Reason string `json:"reason" binding:"required,notblank,max=500"`
}
