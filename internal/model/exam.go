package model

import (
	"time"

	"github.com/google/uuid"
)

// Policy relaxes parts of the client lockdown for an exam.
type Policy string

const (
	PolicyIgnoreLockdown   Policy = "IGNORE_LOCKDOWN"
	PolicyTolerateWindowed Policy = "TOLERATE_WINDOWED"
)

// PolicyPermits reports whether query is among policies.
func PolicyPermits(policies []Policy, query Policy) bool {
	for _, p := range policies {
		if p == query {
			return true
		}
	}
	return false
}

// Exam is a scheduled exam.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Policies        []Policy  `json:"policies"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExamVersion is one variant of an exam's content.
type ExamVersion struct {
	ID      int64              `json:"id"`
	ExamID  uuid.UUID          `json:"exam_id"`
	Name    string             `json:"name"`
	Content ExamVersionContent `json:"content"`
}

// ExamInfo is what a student sees before starting: enough to run lockdown.
type ExamInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Policies  []Policy  `json:"policies"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Registration binds a student to an exam version and room.
type Registration struct {
	ID            int64      `json:"id"`
	UserID        int        `json:"user_id"`
	ExamID        uuid.UUID  `json:"exam_id"`
	ExamVersionID int64      `json:"exam_version_id"`
	RoomID        *int64     `json:"room_id,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Final         bool       `json:"final"`
}

// Accommodation shifts or stretches a registration's window.
type Accommodation struct {
	RegistrationID       int64      `json:"registration_id"`
	NewStartTime         *time.Time `json:"new_start_time,omitempty"`
	PercentTimeExpansion int        `json:"percent_time_expansion"`
}

// Window computes the attempt window for a registration. The attempt begins
// at the recorded start (else now), lasts the exam duration stretched by the
// accommodation, and never runs past the (equally stretched) exam end time.
func Window(exam *Exam, reg *Registration, acc *Accommodation, now time.Time) TimeInfo {
	began := now
	if reg.StartTime != nil {
		began = *reg.StartTime
	}

	duration := time.Duration(exam.DurationMinutes) * time.Minute
	latest := exam.EndTime
	if acc != nil && acc.PercentTimeExpansion > 0 {
		extra := duration * time.Duration(acc.PercentTimeExpansion) / 100
		duration += extra
		latest = latest.Add(extra)
	}

	ends := began.Add(duration)
	if ends.After(latest) {
		ends = latest
	}
	if reg.EndTime != nil && reg.EndTime.Before(ends) {
		ends = *reg.EndTime
	}
	return TimeInfo{Began: began.UTC(), Ends: ends.UTC()}
}

// Anomaly is a recorded integrity violation for a registration.
type Anomaly struct {
	ID             int64     `json:"id"`
	RegistrationID int64     `json:"registration_id"`
	Reason         string    `json:"reason"`
	Forgiven       bool      `json:"forgiven"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendMessageRequest is sent by staff to message students.
type SendMessageRequest struct {
	Type           MessageType `json:"type" binding:"required,oneof=personal room version exam"`
	Body           string      `json:"body" binding:"required,notblank,max=5000"`
	RegistrationID int64       `json:"registration_id" binding:"required_if=Type personal"`
	RoomID         int64       `json:"room_id" binding:"required_if=Type room"`
	ExamVersionID  int64       `json:"exam_version_id" binding:"required_if=Type version"`
}

// StaffQuestion is a student question as listed for staff.
type StaffQuestion struct {
	ID             int64     `json:"id"`
	RegistrationID int64     `json:"registration_id"`
	UserID         int       `json:"user_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// AddressedMessage is a stored message together with its recipients. It is
// what the push channel fans out.
type AddressedMessage struct {
	Message
	ExamID         uuid.UUID `json:"exam_id"`
	RegistrationID *int64    `json:"registration_id,omitempty"`
	RoomID         *int64    `json:"room_id,omitempty"`
	ExamVersionID  *int64    `json:"exam_version_id,omitempty"`
}

// For reports whether reg is among the recipients.
func (m *AddressedMessage) For(reg *Registration) bool {
	if reg.ExamID != m.ExamID {
		return false
	}
	switch m.Type {
	case MessageExam:
		return true
	case MessagePersonal:
		return m.RegistrationID != nil && *m.RegistrationID == reg.ID
	case MessageRoom:
		return m.RoomID != nil && reg.RoomID != nil && *m.RoomID == *reg.RoomID
	case MessageVersion:
		return m.ExamVersionID != nil && *m.ExamVersionID == reg.ExamVersionID
	}
	return false
}
