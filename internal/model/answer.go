package model

import (
	"encoding/json"
	"fmt"
)

// AnswerKind discriminates the Answer variants on the wire.
type AnswerKind string

const (
	AnswerNone           AnswerKind = "NoAnswer"
	AnswerText           AnswerKind = "Text"
	AnswerMultipleChoice AnswerKind = "MultipleChoice"
	AnswerAllThatApply   AnswerKind = "AllThatApply"
	AnswerYesNo          AnswerKind = "YesNo"
	AnswerMatching       AnswerKind = "Matching"
	AnswerCode           AnswerKind = "Code"
	AnswerCodeTag        AnswerKind = "CodeTag"
)

// AllAnswerKinds lists every AnswerKind.
var AllAnswerKinds = []AnswerKind{
	AnswerNone,
	AnswerText,
	AnswerMultipleChoice,
	AnswerAllThatApply,
	AnswerYesNo,
	AnswerMatching,
	AnswerCode,
	AnswerCodeTag,
}

// Answer is a student's value for one body item. The set of implementations
// is closed: only the types in this file satisfy it.
type Answer interface {
	Kind() AnswerKind
	isAnswer()
}

type NoAnswer struct{}

type TextAnswer string

// MultipleChoiceAnswer is the chosen option index. Nil means nothing chosen.
type MultipleChoiceAnswer struct {
	Choice *int `json:"choice,omitempty"`
}

type AllThatApplyAnswer []bool

// YesNoAnswer is nil until the student picks one.
type YesNoAnswer struct {
	Value *bool `json:"value,omitempty"`
}

// MatchingAnswer maps prompt index to value index.
type MatchingAnswer map[int]int

type CodeAnswer struct {
	Text  string            `json:"text"`
	Marks []MarkDescription `json:"marks"`
}

type CodeTagAnswer struct {
	SelectedFile string `json:"selectedFile,omitempty"`
	LineNumber   int    `json:"lineNumber"`
}

func (NoAnswer) Kind() AnswerKind             { return AnswerNone }
func (TextAnswer) Kind() AnswerKind           { return AnswerText }
func (MultipleChoiceAnswer) Kind() AnswerKind { return AnswerMultipleChoice }
func (AllThatApplyAnswer) Kind() AnswerKind   { return AnswerAllThatApply }
func (YesNoAnswer) Kind() AnswerKind          { return AnswerYesNo }
func (MatchingAnswer) Kind() AnswerKind       { return AnswerMatching }
func (CodeAnswer) Kind() AnswerKind           { return AnswerCode }
func (CodeTagAnswer) Kind() AnswerKind        { return AnswerCodeTag }

func (NoAnswer) isAnswer()             {}
func (TextAnswer) isAnswer()           {}
func (MultipleChoiceAnswer) isAnswer() {}
func (AllThatApplyAnswer) isAnswer()   {}
func (YesNoAnswer) isAnswer()          {}
func (MatchingAnswer) isAnswer()       {}
func (CodeAnswer) isAnswer()           {}
func (CodeTagAnswer) isAnswer()        {}

// EmptyAnswer returns the value a body item of kind k starts with.
func EmptyAnswer(k BodyKind) Answer {
	switch k {
	case BodyHTML:
		return NoAnswer{}
	case BodyAllThatApply:
		return AllThatApplyAnswer{}
	case BodyCode:
		return CodeAnswer{Marks: []MarkDescription{}}
	case BodyYesNo:
		return YesNoAnswer{}
	case BodyCodeTag:
		return CodeTagAnswer{}
	case BodyMultipleChoice:
		return MultipleChoiceAnswer{}
	case BodyText:
		return TextAnswer("")
	case BodyMatching:
		return MatchingAnswer{}
	default:
		panic(fmt.Sprintf("model: no empty answer for body kind %q", k))
	}
}

type answerEnvelope struct {
	Type  AnswerKind      `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalAnswer encodes a into its tagged envelope.
func MarshalAnswer(a Answer) ([]byte, error) {
	if a == nil {
		a = NoAnswer{}
	}
	env := answerEnvelope{Type: a.Kind()}
	if _, none := a.(NoAnswer); !none {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal %s answer: %w", a.Kind(), err)
		}
		env.Value = raw
	}
	return json.Marshal(env)
}

// UnmarshalAnswer decodes a tagged envelope produced by MarshalAnswer.
func UnmarshalAnswer(data []byte) (Answer, error) {
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var a Answer
	switch env.Type {
	case AnswerNone:
		return NoAnswer{}, nil
	case AnswerText:
		var v TextAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		a = v
	case AnswerMultipleChoice:
		var v MultipleChoiceAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		a = v
	case AnswerAllThatApply:
		var v AllThatApplyAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		if v == nil {
			v = AllThatApplyAnswer{}
		}
		a = v
	case AnswerYesNo:
		var v YesNoAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		a = v
	case AnswerMatching:
		var v MatchingAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		if v == nil {
			v = MatchingAnswer{}
		}
		a = v
	case AnswerCode:
		var v CodeAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		a = v
	case AnswerCodeTag:
		var v CodeTagAnswer
		if err := decodeValue(env.Value, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("unknown answer type %q", env.Type)
	}
	return a, nil
}

func decodeValue(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Coordinate addresses one body item: question, part, body indices.
type Coordinate struct {
	Question int `json:"qnum"`
	Part     int `json:"pnum"`
	Body     int `json:"bnum"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("q%d.p%d.b%d", c.Question, c.Part, c.Body)
}

// AnswersState is the full set of a student's answers, indexed [question][part][body].
type AnswersState struct {
	Answers [][][]Answer `json:"answers"`
	Scratch string       `json:"scratch"`
}

type answersWire struct {
	Answers [][][]json.RawMessage `json:"answers"`
	Scratch string                `json:"scratch"`
}

func (s AnswersState) MarshalJSON() ([]byte, error) {
	wire := answersWire{
		Answers: make([][][]json.RawMessage, len(s.Answers)),
		Scratch: s.Scratch,
	}
	for qi, parts := range s.Answers {
		wire.Answers[qi] = make([][]json.RawMessage, len(parts))
		for pi, body := range parts {
			wire.Answers[qi][pi] = make([]json.RawMessage, len(body))
			for bi, a := range body {
				raw, err := MarshalAnswer(a)
				if err != nil {
					return nil, err
				}
				wire.Answers[qi][pi][bi] = raw
			}
		}
	}
	return json.Marshal(wire)
}

func (s *AnswersState) UnmarshalJSON(data []byte) error {
	var wire answersWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	grid := make([][][]Answer, len(wire.Answers))
	for qi, parts := range wire.Answers {
		grid[qi] = make([][]Answer, len(parts))
		for pi, body := range parts {
			grid[qi][pi] = make([]Answer, len(body))
			for bi, raw := range body {
				a, err := UnmarshalAnswer(raw)
				if err != nil {
					return fmt.Errorf("answer %s: %w", Coordinate{qi, pi, bi}, err)
				}
				grid[qi][pi][bi] = a
			}
		}
	}
	s.Answers = grid
	s.Scratch = wire.Scratch
	return nil
}
