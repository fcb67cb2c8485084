package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stemsi/hourglass/internal/attempt"
	"github.com/stemsi/hourglass/internal/model"
)

func renderPage(w io.Writer, s *attempt.Session) {
	content := s.Content()
	if content == nil {
		fmt.Fprintln(w, "The exam has not loaded.")
		return
	}
	nav := s.Navigation()
	page := nav.CurrentPage()
	q := content.Questions[page.Question]

	fmt.Fprintf(w, "── Question %d", page.Question+1)
	if q.Name != nil {
		fmt.Fprintf(w, ": %s", q.Name.Value)
	}
	fmt.Fprintf(w, "  (page %d of %d) ──\n", nav.Page+1, len(nav.PageCoords))
	if q.Description.Value != "" {
		fmt.Fprintln(w, q.Description.Value)
	}

	for pi, p := range q.Parts {
		if page.HasPart() && page.Part != pi {
			continue
		}
		fmt.Fprintf(w, "\n Part %d (%g pts)", pi+1, p.Points)
		if p.Name != nil {
			fmt.Fprintf(w, ": %s", p.Name.Value)
		}
		fmt.Fprintln(w)
		if p.Description.Value != "" {
			fmt.Fprintln(w, " "+p.Description.Value)
		}
		for bi, b := range p.Body {
			c := model.Coordinate{Question: page.Question, Part: pi, Body: bi}
			renderBody(w, c, b, s.Answer(c))
		}
	}
}

func renderBody(w io.Writer, c model.Coordinate, b model.BodyItem, a model.Answer) {
	if b.Type == model.BodyHTML {
		fmt.Fprintln(w, "   "+b.Value)
		return
	}
	prompt := ""
	if b.Prompt != nil {
		prompt = b.Prompt.Value
	}
	fmt.Fprintf(w, "   [%d %d %d] %s %s\n", c.Question, c.Part, c.Body, b.Type, prompt)

	switch b.Type {
	case model.BodyMultipleChoice, model.BodyAllThatApply:
		for i, o := range b.Options {
			fmt.Fprintf(w, "      %d) %s\n", i, o.Value)
		}
	case model.BodyYesNo:
		yes, no := b.YesLabel, b.NoLabel
		if yes == "" {
			yes = "Yes"
		}
		if no == "" {
			no = "No"
		}
		fmt.Fprintf(w, "      yes = %s, no = %s\n", yes, no)
	}
	fmt.Fprintf(w, "      answer: %s\n", describeAnswer(a))
}

func describeAnswer(a model.Answer) string {
	switch v := a.(type) {
	case nil, model.NoAnswer:
		return "-"
	case model.TextAnswer:
		if v == "" {
			return "-"
		}
		return string(v)
	case model.MultipleChoiceAnswer:
		if v.Choice == nil {
			return "-"
		}
		return fmt.Sprintf("option %d", *v.Choice)
	case model.YesNoAnswer:
		if v.Value == nil {
			return "-"
		}
		if *v.Value {
			return "yes"
		}
		return "no"
	case model.AllThatApplyAnswer:
		var picked []string
		for i, on := range v {
			if on {
				picked = append(picked, fmt.Sprint(i))
			}
		}
		if len(picked) == 0 {
			return "-"
		}
		return "options " + strings.Join(picked, ", ")
	default:
		return fmt.Sprintf("(%s answer)", a.Kind())
	}
}

func renderMessages(w io.Writer, s *attempt.Session) {
	msgs := s.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "#%d [%s] %s  %s\n", m.ID, m.Type, m.Time.Local().Format(time.Kitchen), m.Body)
	}
	for _, q := range s.Questions() {
		fmt.Fprintf(w, "you asked (%s): %s\n", q.Status, q.Body)
	}
	s.OpenMessages()
}

func renderStatus(w io.Writer, s *attempt.Session, now time.Time) {
	window := s.TimeInfo()
	snap := s.Snapshot()
	fmt.Fprintf(w, "status %s, %s left, last save %s", s.Status(), window.Ends.Sub(now).Round(time.Second), snap.Status)
	if snap.Message != "" {
		fmt.Fprintf(w, " (%s)", snap.Message)
	}
	if s.Unread() {
		fmt.Fprint(w, ", unread messages")
	}
	fmt.Fprintln(w)
}
