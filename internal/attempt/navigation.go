package attempt

import (
	"fmt"

	"github.com/stemsi/hourglass/internal/model"
)

// NoPart marks a coordinate that names a whole question.
const NoPart = -1

// PaginationCoordinate names a question, or one part of it.
type PaginationCoordinate struct {
	Question int
	Part     int
}

func QuestionCoord(q int) PaginationCoordinate {
	return PaginationCoordinate{Question: q, Part: NoPart}
}

func PartCoord(q, p int) PaginationCoordinate {
	return PaginationCoordinate{Question: q, Part: p}
}

func (c PaginationCoordinate) HasPart() bool { return c.Part != NoPart }

func (c PaginationCoordinate) String() string {
	if c.HasPart() {
		return fmt.Sprintf("{q:%d,p:%d}", c.Question, c.Part)
	}
	return fmt.Sprintf("{q:%d}", c.Question)
}

// Navigation tracks the current page and the question currently in view.
// Page indexes PageCoords; Spy indexes SpyCoords. Every transition returns a
// new value.
type Navigation struct {
	Paginated       bool
	WaypointsActive bool
	SpyCoords       []PaginationCoordinate
	PageCoords      []PaginationCoordinate
	Page            int
	Spy             int
}

// NewNavigation derives both coordinate lists from content. A question that
// separates its subparts contributes one page and one spy entry per part on
// top of its own spy entry; otherwise the whole question is a single page.
func NewNavigation(content *model.ExamVersionContent) Navigation {
	var spy, pages []PaginationCoordinate
	for qi, q := range content.Questions {
		spy = append(spy, QuestionCoord(qi))
		if !q.SeparateSubparts {
			pages = append(pages, QuestionCoord(qi))
			continue
		}
		for pi := range q.Parts {
			spy = append(spy, PartCoord(qi, pi))
			pages = append(pages, PartCoord(qi, pi))
		}
	}
	return Navigation{SpyCoords: spy, PageCoords: pages}
}

func indexOf(coords []PaginationCoordinate, c PaginationCoordinate) int {
	for i, cur := range coords {
		if cur == c {
			return i
		}
	}
	return -1
}

// spyFor returns the spy index of page, or the current spy if it has none.
func (n Navigation) spyFor(page int) int {
	if idx := indexOf(n.SpyCoords, n.PageCoords[page]); idx >= 0 {
		return idx
	}
	return n.Spy
}

func (n Navigation) mustHavePages() {
	if len(n.PageCoords) == 0 {
		panic("attempt: navigation over an exam with no pages")
	}
}

// CurrentPage is the coordinate of the page being shown.
func (n Navigation) CurrentPage() PaginationCoordinate {
	n.mustHavePages()
	return n.PageCoords[n.Page]
}

// CurrentSpy is the coordinate scrolled into view.
func (n Navigation) CurrentSpy() PaginationCoordinate {
	return n.SpyCoords[n.Spy]
}

func (n Navigation) TogglePagination() Navigation {
	n.mustHavePages()
	n.Paginated = !n.Paginated
	n.Page = 0
	n.Spy = n.spyFor(0)
	return n
}

// ViewQuestion jumps to the most specific page for c when paginated: an
// exact match first, else the page of c's question. Unpaginated it is a no-op.
func (n Navigation) ViewQuestion(c PaginationCoordinate) Navigation {
	if !n.Paginated {
		return n
	}
	idx := indexOf(n.PageCoords, c)
	if idx < 0 {
		for i, cur := range n.PageCoords {
			if cur.Question == c.Question {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		n.Page = idx
	}
	return n
}

// SpyQuestion records that c scrolled into view.
func (n Navigation) SpyQuestion(c PaginationCoordinate) Navigation {
	if idx := indexOf(n.SpyCoords, c); idx >= 0 {
		n.Spy = idx
	}
	return n
}

func (n Navigation) PrevQuestion() Navigation {
	return n.step(-1)
}

func (n Navigation) NextQuestion() Navigation {
	return n.step(1)
}

func (n Navigation) step(delta int) Navigation {
	n.mustHavePages()
	count := len(n.PageCoords)
	n.Page = ((n.Page+delta)%count + count) % count
	n.Spy = n.spyFor(n.Page)
	return n
}

func (n Navigation) ActivateWaypoints(enabled bool) Navigation {
	n.WaypointsActive = enabled
	return n
}
