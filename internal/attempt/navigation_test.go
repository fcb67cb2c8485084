package attempt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/hourglass/internal/model"
)

func TestNewNavigation_CoordinateLists(t *testing.T) {
	nav := NewNavigation(twoQuestionExam())

	assert.Equal(t, []PaginationCoordinate{
		QuestionCoord(0),
		PartCoord(1, 0),
		PartCoord(1, 1),
	}, nav.PageCoords)
	assert.Equal(t, []PaginationCoordinate{
		QuestionCoord(0),
		QuestionCoord(1),
		PartCoord(1, 0),
		PartCoord(1, 1),
	}, nav.SpyCoords)
}

func TestNavigation_TogglePaginationResyncsSpy(t *testing.T) {
	content := &model.ExamVersionContent{
		Questions: []model.Question{
			{SeparateSubparts: true, Parts: []model.Part{textPart(model.BodyText), textPart(model.BodyText)}},
			{Parts: []model.Part{textPart(model.BodyText)}},
		},
	}
	nav := NewNavigation(content).SpyQuestion(PartCoord(0, 1))
	require.Equal(t, 2, nav.Spy)

	nav = nav.TogglePagination()

	assert.True(t, nav.Paginated)
	assert.Equal(t, 0, nav.Page)
	assert.Equal(t, PartCoord(0, 0), nav.CurrentPage())
	assert.Equal(t, 1, nav.Spy, "spy follows the first page, not index 0")
	assert.Equal(t, PartCoord(0, 0), nav.CurrentSpy())
}

func TestNavigation_PrevNextAreInverse(t *testing.T) {
	nav := NewNavigation(twoQuestionExam()).TogglePagination()

	for page := range nav.PageCoords {
		start := nav
		start.Page = page

		assert.Equal(t, page, start.PrevQuestion().NextQuestion().Page)
		assert.Equal(t, page, start.NextQuestion().PrevQuestion().Page)
	}
}

func TestNavigation_StepWrapsAround(t *testing.T) {
	nav := NewNavigation(twoQuestionExam()).TogglePagination()

	prev := nav.PrevQuestion()
	assert.Equal(t, 2, prev.Page)
	assert.Equal(t, PartCoord(1, 1), prev.CurrentSpy())

	last := prev.NextQuestion()
	assert.Equal(t, 0, last.Page)
	assert.Equal(t, QuestionCoord(0), last.CurrentSpy())
}

func TestNavigation_ViewQuestion(t *testing.T) {
	base := NewNavigation(twoQuestionExam())

	tests := []struct {
		name      string
		paginated bool
		startPage int
		target    PaginationCoordinate
		wantPage  int
	}{
		{name: "exact part match", paginated: true, startPage: 0, target: PartCoord(1, 1), wantPage: 2},
		{name: "question falls back to its first page", paginated: true, startPage: 0, target: QuestionCoord(1), wantPage: 1},
		{name: "part of folded question finds question page", paginated: true, startPage: 2, target: PartCoord(0, 1), wantPage: 0},
		{name: "unknown question leaves page", paginated: true, startPage: 1, target: QuestionCoord(7), wantPage: 1},
		{name: "unpaginated is a no-op", paginated: false, startPage: 0, target: PartCoord(1, 1), wantPage: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := base
			nav.Paginated = tt.paginated
			nav.Page = tt.startPage
			assert.Equal(t, tt.wantPage, nav.ViewQuestion(tt.target).Page)
		})
	}
}

func TestNavigation_SpyQuestionUnknownKeepsSpy(t *testing.T) {
	nav := NewNavigation(twoQuestionExam()).SpyQuestion(QuestionCoord(1))
	require.Equal(t, 1, nav.Spy)

	assert.Equal(t, 1, nav.SpyQuestion(PartCoord(0, 0)).Spy)
}

func TestNavigation_EmptyPagesPanics(t *testing.T) {
	nav := NewNavigation(&model.ExamVersionContent{})
	assert.Panics(t, func() { nav.NextQuestion() })
}

func TestNavigation_ActivateWaypoints(t *testing.T) {
	nav := NewNavigation(twoQuestionExam())
	assert.True(t, nav.ActivateWaypoints(true).WaypointsActive)
	assert.False(t, nav.WaypointsActive)
}
