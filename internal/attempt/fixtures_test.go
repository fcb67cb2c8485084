package attempt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/hourglass/internal/model"
)

func textPart(kinds ...model.BodyKind) model.Part {
	p := model.Part{Description: model.HTMLVal{Type: "HTML", Value: "part"}, Points: 1}
	for _, k := range kinds {
		p.Body = append(p.Body, model.BodyItem{Type: k})
	}
	return p
}

// twoQuestionExam has question 0 folded into one page with two parts and
// question 1 split into a page per part.
func twoQuestionExam() *model.ExamVersionContent {
	return &model.ExamVersionContent{
		Questions: []model.Question{
			{
				SeparateSubparts: false,
				Parts:            []model.Part{textPart(model.BodyText), textPart(model.BodyYesNo, model.BodyMultipleChoice)},
			},
			{
				SeparateSubparts: true,
				Parts:            []model.Part{textPart(model.BodyCode), textPart(model.BodyHTML, model.BodyMatching)},
			},
		},
	}
}

type fakeEnv struct {
	supported  bool
	fullscreen bool
	grant      bool
	requestErr error
	requests   int
}

func (e *fakeEnv) Supported() bool    { return e.supported }
func (e *fakeEnv) IsFullscreen() bool { return e.fullscreen }

func (e *fakeEnv) RequestFullscreen(ctx context.Context) error {
	e.requests++
	if e.requestErr != nil {
		return e.requestErr
	}
	if e.grant {
		e.fullscreen = true
	}
	return nil
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type snapshotCall struct {
	answers model.AnswersState
	lastID  int64
}

// fakeTransport answers from canned values. A non-nil gate blocks snapshot
// calls until it is closed; questionGate does the same for questions.
type fakeTransport struct {
	mu sync.Mutex

	start    *model.StartResponse
	startErr error
	starts   int

	snapshot    *model.SnapshotResponse
	snapshotErr error
	snapshots   []snapshotCall
	gate        chan struct{}
	entered     chan struct{}

	submits   []model.AnswersState
	submitErr error

	questions       []string
	questionErr     error
	questionGate    chan struct{}
	questionEntered chan struct{}

	nilSnapshot bool

	anomalies []string
}

func (t *fakeTransport) Start(ctx context.Context) (*model.StartResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	return t.start, t.startErr
}

func (t *fakeTransport) Snapshot(ctx context.Context, answers model.AnswersState, lastID int64) (*model.SnapshotResponse, error) {
	t.mu.Lock()
	t.snapshots = append(t.snapshots, snapshotCall{answers: answers, lastID: lastID})
	gate, entered := t.gate, t.entered
	t.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshotErr != nil {
		return nil, t.snapshotErr
	}
	if t.nilSnapshot {
		return nil, nil
	}
	if t.snapshot == nil {
		return &model.SnapshotResponse{}, nil
	}
	return t.snapshot, nil
}

func (t *fakeTransport) Submit(ctx context.Context, answers model.AnswersState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submits = append(t.submits, answers)
	return t.submitErr
}

func (t *fakeTransport) AskQuestion(ctx context.Context, body string) error {
	t.mu.Lock()
	t.questions = append(t.questions, body)
	gate, entered := t.questionGate, t.questionEntered
	t.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.questionErr
}

func (t *fakeTransport) ReportAnomaly(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anomalies = append(t.anomalies, reason)
	return nil
}

func (t *fakeTransport) SnapshotCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.snapshots)
}

func (t *fakeTransport) SubmitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.submits)
}

var errNetwork = errors.New("connection refused")

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func contentsResponse(content *model.ExamVersionContent) *model.StartResponse {
	return &model.StartResponse{
		Type: model.StartContents,
		Time: &model.TimeInfo{Began: fixedNow, Ends: fixedNow.Add(time.Hour)},
		Exam: content,
	}
}

func newTestSession(tr *fakeTransport, nav Navigator, cfg Config) *Session {
	if cfg.Policies == nil {
		cfg.Policies = []model.Policy{model.PolicyIgnoreLockdown}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return fixedNow }
	}
	return NewSession(tr, nil, nav, cfg)
}
