package attempt

import "github.com/stemsi/hourglass/internal/model"

// AnswerStore is an immutable view of a student's answers. Update copies only
// the slices on the path to the changed coordinate; everything else is shared
// with the previous store, so callers may compare slices by identity to find
// what changed.
type AnswerStore struct {
	answers [][][]model.Answer
	scratch string
	content *model.ExamVersionContent
}

// NewAnswerStore wraps state. content supplies type-appropriate defaults for
// coordinates the state does not cover and may be nil.
func NewAnswerStore(state model.AnswersState, content *model.ExamVersionContent) AnswerStore {
	return AnswerStore{
		answers: state.Answers,
		scratch: state.Scratch,
		content: content,
	}
}

// Get returns the answer at c, or the empty value for that body item if unset.
func (s AnswerStore) Get(c model.Coordinate) model.Answer {
	if c.Question >= 0 && c.Question < len(s.answers) {
		parts := s.answers[c.Question]
		if c.Part >= 0 && c.Part < len(parts) {
			body := parts[c.Part]
			if c.Body >= 0 && c.Body < len(body) && body[c.Body] != nil {
				return body[c.Body]
			}
		}
	}
	return s.emptyAt(c)
}

func (s AnswerStore) emptyAt(c model.Coordinate) model.Answer {
	if s.content == nil || c.Question < 0 || c.Question >= len(s.content.Questions) {
		return model.NoAnswer{}
	}
	q := s.content.Questions[c.Question]
	if c.Part < 0 || c.Part >= len(q.Parts) {
		return model.NoAnswer{}
	}
	p := q.Parts[c.Part]
	if c.Body < 0 || c.Body >= len(p.Body) {
		return model.NoAnswer{}
	}
	return model.EmptyAnswer(p.Body[c.Body].Type)
}

// Update returns a store with v at c. Coordinates past the current bounds
// extend the grid; negative indices are ignored.
func (s AnswerStore) Update(c model.Coordinate, v model.Answer) AnswerStore {
	if c.Question < 0 || c.Part < 0 || c.Body < 0 {
		return s
	}
	if v == nil {
		v = model.NoAnswer{}
	}

	questions := make([][][]model.Answer, max(len(s.answers), c.Question+1))
	copy(questions, s.answers)

	parts := make([][]model.Answer, max(len(questions[c.Question]), c.Part+1))
	copy(parts, questions[c.Question])

	body := make([]model.Answer, max(len(parts[c.Part]), c.Body+1))
	copy(body, parts[c.Part])

	body[c.Body] = v
	parts[c.Part] = body
	questions[c.Question] = parts

	s.answers = questions
	return s
}

func (s AnswerStore) Scratch() string { return s.scratch }

// WithScratch returns a store with the scratch work replaced.
func (s AnswerStore) WithScratch(scratch string) AnswerStore {
	s.scratch = scratch
	return s
}

// State exports the store for the wire. The grid is shared, not copied.
func (s AnswerStore) State() model.AnswersState {
	return model.AnswersState{Answers: s.answers, Scratch: s.scratch}
}
