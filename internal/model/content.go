package model

import (
	"encoding/json"
	"fmt"
)

// BodyKind enumerates the closed set of question body item shapes.
type BodyKind string

const (
	BodyHTML           BodyKind = "HTML"
	BodyAllThatApply   BodyKind = "AllThatApply"
	BodyCode           BodyKind = "Code"
	BodyYesNo          BodyKind = "YesNo"
	BodyCodeTag        BodyKind = "CodeTag"
	BodyMultipleChoice BodyKind = "MultipleChoice"
	BodyText           BodyKind = "Text"
	BodyMatching       BodyKind = "Matching"
)

// AllBodyKinds lists every BodyKind. Switches over BodyKind are checked against it in tests.
var AllBodyKinds = []BodyKind{
	BodyHTML,
	BodyAllThatApply,
	BodyCode,
	BodyYesNo,
	BodyCodeTag,
	BodyMultipleChoice,
	BodyText,
	BodyMatching,
}

// Valid reports whether k is one of AllBodyKinds.
func (k BodyKind) Valid() bool {
	for _, known := range AllBodyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// HTMLVal is a fragment of author-supplied HTML.
type HTMLVal struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FileRef points at a file or directory in the exam's reference tree.
type FileRef struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// MarkDescription is a locked region inside a code answer.
type MarkDescription struct {
	From    Position    `json:"from"`
	To      Position    `json:"to"`
	Options MarkOptions `json:"options"`
}

type Position struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

type MarkOptions struct {
	InclusiveLeft  bool `json:"inclusiveLeft"`
	InclusiveRight bool `json:"inclusiveRight"`
}

// CodeInitial is the starting content of a code body item.
type CodeInitial struct {
	File  string            `json:"file,omitempty"`
	Text  string            `json:"text,omitempty"`
	Marks []MarkDescription `json:"marks,omitempty"`
}

// BodyItem is one answerable (or purely informational) element of a part.
// Only the fields relevant to Type are populated.
type BodyItem struct {
	Type BodyKind `json:"type"`

	// HTML
	Value string `json:"value,omitempty"`

	Prompt *HTMLVal `json:"prompt,omitempty"`

	// AllThatApply, MultipleChoice
	Options []HTMLVal `json:"options,omitempty"`

	// Code
	Lang    string       `json:"lang,omitempty"`
	Initial *CodeInitial `json:"initial,omitempty"`

	// YesNo
	YesLabel string `json:"yesLabel,omitempty"`
	NoLabel  string `json:"noLabel,omitempty"`

	// CodeTag: one of exam, question, part
	Choices string `json:"choices,omitempty"`

	// Matching
	PromptsLabel *HTMLVal  `json:"promptsLabel,omitempty"`
	Prompts      []HTMLVal `json:"prompts,omitempty"`
	ValuesLabel  *HTMLVal  `json:"valuesLabel,omitempty"`
	Values       []HTMLVal `json:"values,omitempty"`
}

// UnmarshalJSON rejects body items whose type is outside the closed set.
func (b *BodyItem) UnmarshalJSON(data []byte) error {
	type plain BodyItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown body item type %q", p.Type)
	}
	*b = BodyItem(p)
	return nil
}

type Part struct {
	Name        *HTMLVal   `json:"name,omitempty"`
	Description HTMLVal    `json:"description"`
	Points      float64    `json:"points"`
	Reference   []FileRef  `json:"reference"`
	Body        []BodyItem `json:"body"`
}

type Question struct {
	Name             *HTMLVal  `json:"name,omitempty"`
	Description      HTMLVal   `json:"description"`
	SeparateSubparts bool      `json:"separateSubparts"`
	Parts            []Part    `json:"parts"`
	Reference        []FileRef `json:"reference"`
}

// ExamFile is a node in the exam's reference file tree.
type ExamFile struct {
	FileDir  string            `json:"filedir"`
	Text     string            `json:"text"`
	RelPath  string            `json:"relPath"`
	Path     string            `json:"path"`
	Contents string            `json:"contents,omitempty"`
	Marks    []MarkDescription `json:"marks,omitempty"`
	Type     string            `json:"type,omitempty"`
	Nodes    []ExamFile        `json:"nodes,omitempty"`
}

// ExamVersionContent is the immutable document a student works against.
type ExamVersionContent struct {
	Questions    []Question `json:"questions"`
	Reference    []FileRef  `json:"reference,omitempty"`
	Instructions *HTMLVal   `json:"instructions,omitempty"`
	Files        []ExamFile `json:"files"`
}

// EmptyAnswers builds the answer grid for content with every body item
// holding its type-appropriate empty value.
func (c *ExamVersionContent) EmptyAnswers() AnswersState {
	grid := make([][][]Answer, len(c.Questions))
	for qi, q := range c.Questions {
		grid[qi] = make([][]Answer, len(q.Parts))
		for pi, p := range q.Parts {
			grid[qi][pi] = make([]Answer, len(p.Body))
			for bi, b := range p.Body {
				grid[qi][pi][bi] = EmptyAnswer(b.Type)
			}
		}
	}
	return AnswersState{Answers: grid}
}
