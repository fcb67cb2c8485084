package attempt

import (
	"context"

	"github.com/stemsi/hourglass/internal/model"
)

// Transport is the server boundary of one attempt. Implementations are bound
// to a single exam and carry the student's credentials.
type Transport interface {
	Start(ctx context.Context) (*model.StartResponse, error)
	// Snapshot must report an authorization rejection as Lockout rather than
	// as an error.
	Snapshot(ctx context.Context, answers model.AnswersState, lastMessageID int64) (*model.SnapshotResponse, error)
	Submit(ctx context.Context, answers model.AnswersState) error
	AskQuestion(ctx context.Context, body string) error
	ReportAnomaly(ctx context.Context, reason string) error
}

// Navigator leaves the exam. Redirect is called with the session lock held
// and must not call back into the Session.
type Navigator interface {
	Redirect(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Redirect(path string) { f(path) }

// PushSource delivers messages as staff send them. The channel is closed
// when the subscription ends.
type PushSource interface {
	Subscribe(ctx context.Context) (<-chan model.Message, error)
}
