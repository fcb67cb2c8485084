package attempt

import (
	"sort"
	"time"

	"github.com/stemsi/hourglass/internal/model"
)

// MergeMessages folds incoming into existing per category, dropping ids
// already present. Each category comes back in ascending id order. Neither
// argument is modified, and merging the same delta twice changes nothing.
func MergeMessages(existing, incoming model.MessagesByCategory) model.MessagesByCategory {
	merged := existing
	for _, t := range model.AllMessageTypes {
		merged = merged.WithCategory(t, mergeCategory(existing.Category(t), incoming.Category(t), t))
	}
	return merged
}

func mergeCategory(existing, incoming []model.Message, t model.MessageType) []model.Message {
	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	out := make([]model.Message, 0, len(existing)+len(incoming))
	for _, set := range [][]model.Message{existing, incoming} {
		for _, m := range set {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			m.Type = t
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Inbox holds staff messages and the student's own questions.
type Inbox struct {
	messages  model.MessagesByCategory
	unread    bool
	lastView  time.Time
	questions []model.ProfQuestion
	lastID    int64
}

// NewInbox loads the backlog. Server question ids are discarded: loaded
// questions are renumbered 1..n in time order and new ones continue from there.
func NewInbox(messages model.MessagesByCategory, questions []model.ProfQuestion) Inbox {
	in := Inbox{messages: MergeMessages(model.MessagesByCategory{}, messages)}
	in.unread = in.messages.Len() > 0

	loaded := make([]model.ProfQuestion, len(questions))
	copy(loaded, questions)
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Time.Before(loaded[j].Time) })
	for i := range loaded {
		loaded[i].ID = int64(i + 1)
		loaded[i].Status = model.QuestionSent
	}
	in.questions = loaded
	in.lastID = int64(len(loaded))
	return in
}

// Merge folds a poll delta or a pushed message into the inbox. Anything new
// marks the inbox unread.
func (in *Inbox) Merge(delta model.MessagesByCategory) {
	before := in.messages.Len()
	in.messages = MergeMessages(in.messages, delta)
	if in.messages.Len() > before {
		in.unread = true
	}
}

// Receive merges one pushed message.
func (in *Inbox) Receive(msg model.Message) {
	if !msg.Type.Valid() {
		return
	}
	var delta model.MessagesByCategory
	delta.Add(msg)
	in.Merge(delta)
}

func (in *Inbox) Unread() bool { return in.unread }

// MarkOpened clears the unread flag without touching messages.
func (in *Inbox) MarkOpened(now time.Time) {
	in.unread = false
	in.lastView = now
}

func (in *Inbox) LastView() time.Time { return in.lastView }

func (in *Inbox) Messages() model.MessagesByCategory { return in.messages }

// LastMessageID is the highest server id seen in any category.
func (in *Inbox) LastMessageID() int64 {
	var last int64
	for _, t := range model.AllMessageTypes {
		for _, m := range in.messages.Category(t) {
			if m.ID > last {
				last = m.ID
			}
		}
	}
	return last
}

// Chronological lists every message newest first.
func (in *Inbox) Chronological() []model.Message {
	all := make([]model.Message, 0, in.messages.Len())
	for _, t := range model.AllMessageTypes {
		all = append(all, in.messages.Category(t)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Time.Equal(all[j].Time) {
			return all[i].ID > all[j].ID
		}
		return all[i].Time.After(all[j].Time)
	})
	return all
}

// Ask records a question optimistically as SENDING and returns its local id.
func (in *Inbox) Ask(body string, now time.Time) int64 {
	in.lastID++
	in.questions = append(in.questions, model.ProfQuestion{
		ID:     in.lastID,
		Body:   body,
		Time:   now,
		Status: model.QuestionSending,
	})
	return in.lastID
}

func (in *Inbox) QuestionSucceeded(id int64) { in.setQuestionStatus(id, model.QuestionSent) }

func (in *Inbox) QuestionFailed(id int64) { in.setQuestionStatus(id, model.QuestionFailed) }

func (in *Inbox) setQuestionStatus(id int64, status model.ProfQuestionStatus) {
	for i := range in.questions {
		if in.questions[i].ID == id && in.questions[i].Status == model.QuestionSending {
			in.questions[i].Status = status
			return
		}
	}
}

// Questions returns a copy of the student's questions in id order.
func (in *Inbox) Questions() []model.ProfQuestion {
	out := make([]model.ProfQuestion, len(in.questions))
	copy(out, in.questions)
	return out
}

func (in *Inbox) LastQuestionID() int64 { return in.lastID }
