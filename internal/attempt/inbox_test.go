package attempt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/model"
)

func msg(id int64, t model.MessageType, at time.Time) model.Message {
	return model.Message{ID: id, Type: t, Body: "body", Time: at}
}

func TestMergeMessages_Idempotent(t *testing.T) {
	existing := model.MessagesByCategory{
		Exam: []model.Message{msg(1, model.MessageExam, fixedNow)},
	}
	delta := model.MessagesByCategory{
		Exam:     []model.Message{msg(1, model.MessageExam, fixedNow), msg(4, model.MessageExam, fixedNow)},
		Personal: []model.Message{msg(3, model.MessagePersonal, fixedNow)},
	}

	once := MergeMessages(existing, delta)
	twice := MergeMessages(once, delta)

	assert.Equal(t, once, twice)
	assert.Equal(t, 3, once.Len())
	assert.Len(t, existing.Exam, 1, "inputs are not modified")
}

func TestMergeMessages_OrdersByID(t *testing.T) {
	a := model.MessagesByCategory{Room: []model.Message{msg(7, model.MessageRoom, fixedNow)}}
	b := model.MessagesByCategory{Room: []model.Message{msg(2, model.MessageRoom, fixedNow), msg(9, model.MessageRoom, fixedNow)}}

	ab := MergeMessages(a, b)
	ba := MergeMessages(b, a)

	assert.Equal(t, ab, ba)
	ids := []int64{}
	for _, m := range ab.Room {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{2, 7, 9}, ids)
}

func TestInbox_UnreadTracking(t *testing.T) {
	empty := NewInbox(model.MessagesByCategory{}, nil)
	assert.False(t, empty.Unread())

	in := NewInbox(model.MessagesByCategory{Version: []model.Message{msg(2, model.MessageVersion, fixedNow)}}, nil)
	require.True(t, in.Unread())

	in.MarkOpened(fixedNow)
	assert.False(t, in.Unread())
	assert.Equal(t, 1, in.Messages().Len(), "opening does not alter messages")

	in.Receive(msg(2, model.MessageVersion, fixedNow))
	assert.False(t, in.Unread(), "duplicate push is not new")

	in.Receive(msg(5, model.MessageRoom, fixedNow))
	assert.True(t, in.Unread())
	assert.Equal(t, int64(5), in.LastMessageID())
}

func TestInbox_PushAndPollConverge(t *testing.T) {
	in := NewInbox(model.MessagesByCategory{}, nil)
	pushed := msg(8, model.MessagePersonal, fixedNow)

	in.Receive(pushed)
	in.Merge(model.MessagesByCategory{Personal: []model.Message{pushed}})

	assert.Len(t, in.Messages().Personal, 1)
}

func TestInbox_Chronological(t *testing.T) {
	in := NewInbox(model.MessagesByCategory{
		Exam:     []model.Message{msg(1, model.MessageExam, fixedNow)},
		Personal: []model.Message{msg(3, model.MessagePersonal, fixedNow.Add(2*time.Minute))},
		Room:     []model.Message{msg(2, model.MessageRoom, fixedNow.Add(time.Minute))},
	}, nil)

	var ids []int64
	for _, m := range in.Chronological() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{3, 2, 1}, ids)
}

func TestInbox_AskQuestionAssignsNextLocalID(t *testing.T) {
	loaded := []model.ProfQuestion{
		{ID: 900, Body: "first", Time: fixedNow},
		{ID: 905, Body: "second", Time: fixedNow.Add(time.Minute)},
		{ID: 911, Body: "third", Time: fixedNow.Add(2 * time.Minute)},
	}
	in := NewInbox(model.MessagesByCategory{}, loaded)
	require.Equal(t, int64(3), in.LastQuestionID())

	id := in.Ask("help", fixedNow.Add(time.Hour))
	assert.Equal(t, int64(4), id)

	qs := in.Questions()
	require.Len(t, qs, 4)
	assert.Equal(t, model.QuestionSending, qs[3].Status)

	in.QuestionSucceeded(id)
	qs = in.Questions()
	assert.Equal(t, model.QuestionSent, qs[3].Status)
	for i, q := range qs[:3] {
		assert.Equal(t, int64(i+1), q.ID)
		assert.Equal(t, model.QuestionSent, q.Status)
	}
}

func TestInbox_QuestionFailureIsTerminal(t *testing.T) {
	in := NewInbox(model.MessagesByCategory{}, nil)
	id := in.Ask("help", fixedNow)

	in.QuestionFailed(id)
	in.QuestionSucceeded(id)

	assert.Equal(t, model.QuestionFailed, in.Questions()[0].Status)
	assert.Equal(t, int64(2), in.Ask("again", fixedNow))
}
