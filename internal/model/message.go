package model

import "time"

// MessageType is the category a proctor message was addressed to.
type MessageType string

const (
	MessagePersonal MessageType = "personal"
	MessageRoom     MessageType = "room"
	MessageVersion  MessageType = "version"
	MessageExam     MessageType = "exam"
)

// AllMessageTypes lists every MessageType.
var AllMessageTypes = []MessageType{MessagePersonal, MessageRoom, MessageVersion, MessageExam}

func (t MessageType) Valid() bool {
	switch t {
	case MessagePersonal, MessageRoom, MessageVersion, MessageExam:
		return true
	}
	return false
}

// Message is a proctor-sent message or announcement. IDs come from a single
// server sequence shared by all categories.
type Message struct {
	ID   int64       `json:"id"`
	Type MessageType `json:"type"`
	Body string      `json:"body"`
	Time time.Time   `json:"time"`
}

// MessagesByCategory holds messages split by MessageType.
type MessagesByCategory struct {
	Personal []Message `json:"personal"`
	Room     []Message `json:"room"`
	Version  []Message `json:"version"`
	Exam     []Message `json:"exam"`
}

// Category returns the slice for t.
func (m MessagesByCategory) Category(t MessageType) []Message {
	switch t {
	case MessagePersonal:
		return m.Personal
	case MessageRoom:
		return m.Room
	case MessageVersion:
		return m.Version
	case MessageExam:
		return m.Exam
	}
	return nil
}

// WithCategory returns a copy of m with the slice for t replaced.
func (m MessagesByCategory) WithCategory(t MessageType, msgs []Message) MessagesByCategory {
	switch t {
	case MessagePersonal:
		m.Personal = msgs
	case MessageRoom:
		m.Room = msgs
	case MessageVersion:
		m.Version = msgs
	case MessageExam:
		m.Exam = msgs
	}
	return m
}

// Len counts messages in every category.
func (m MessagesByCategory) Len() int {
	return len(m.Personal) + len(m.Room) + len(m.Version) + len(m.Exam)
}

// Add appends msg to its own category.
func (m *MessagesByCategory) Add(msg Message) {
	*m = m.WithCategory(msg.Type, append(m.Category(msg.Type), msg))
}

// ProfQuestionStatus tracks delivery of a student question.
type ProfQuestionStatus string

const (
	QuestionSending ProfQuestionStatus = "SENDING"
	QuestionFailed  ProfQuestionStatus = "FAILED"
	QuestionSent    ProfQuestionStatus = "SENT"
)

// ProfQuestion is a question a student sent to staff.
type ProfQuestion struct {
	ID     int64              `json:"id"`
	Body   string             `json:"body"`
	Time   time.Time          `json:"time"`
	Status ProfQuestionStatus `json:"status,omitempty"`
}
