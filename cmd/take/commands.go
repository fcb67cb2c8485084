package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/hourglass/internal/attempt"
	"github.com/stemsi/hourglass/internal/model"
)

const help = `commands:
  show                     print the current page
  next | prev              move between pages
  page <q> [p]             jump to a question or part (1-based)
  toggle                   switch between paginated and scrolling views
  text <q> <p> <b> <text>  answer a text item (0-based coordinates as shown)
  choice <q> <p> <b> <n>   pick option n of a multiple choice item
  yes|no <q> <p> <b>       answer a yes/no item
  scratch <text>           replace the scratch pad
  ask <question>           send a question to the proctors
  messages                 list messages and mark them read
  status                   time left and save state
  save                     save now
  submit                   submit and finish
  help`

// dispatch runs one command line. It returns true when the student asked
// to leave.
func dispatch(ctx context.Context, w io.Writer, s *attempt.Session, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "show":
		renderPage(w, s)
	case "next":
		return false, s.NextQuestion()
	case "prev":
		return false, s.PrevQuestion()
	case "toggle":
		return false, s.TogglePagination()
	case "page":
		nums, err := ints(args, 1, 2)
		if err != nil {
			return false, err
		}
		coord := attempt.QuestionCoord(nums[0] - 1)
		if len(nums) == 2 {
			coord = attempt.PartCoord(nums[0]-1, nums[1]-1)
		}
		if err := s.ViewQuestion(coord); err != nil {
			return false, err
		}
		renderPage(w, s)
	case "text":
		if len(args) < 3 {
			return false, errors.New("usage: text <q> <p> <b> <text>")
		}
		c, err := coordinate(args[:3])
		if err != nil {
			return false, err
		}
		return false, s.UpdateAnswer(c, model.TextAnswer(strings.Join(args[3:], " ")))
	case "choice":
		nums, err := ints(args, 4, 4)
		if err != nil {
			return false, err
		}
		choice := nums[3]
		return false, s.UpdateAnswer(model.Coordinate{Question: nums[0], Part: nums[1], Body: nums[2]},
			model.MultipleChoiceAnswer{Choice: &choice})
	case "yes", "no":
		c, err := coordinate(args)
		if err != nil {
			return false, err
		}
		v := cmd == "yes"
		return false, s.UpdateAnswer(c, model.YesNoAnswer{Value: &v})
	case "scratch":
		return false, s.UpdateScratch(strings.Join(args, " "))
	case "ask":
		if len(args) == 0 {
			return false, errors.New("usage: ask <question>")
		}
		if _, err := s.AskQuestion(ctx, strings.Join(args, " ")); err != nil {
			return false, err
		}
		fmt.Fprintln(w, "Question sent.")
	case "messages":
		renderMessages(w, s)
	case "status":
		renderStatus(w, s, time.Now())
	case "save":
		outcome, err := s.Save(ctx)
		fmt.Fprintf(w, "save %s\n", outcome)
		return false, err
	case "submit":
		if err := s.Submit(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(w, "Submitted.")
		return true, nil
	case "help":
		fmt.Fprintln(w, help)
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func ints(args []string, lo, hi int) ([]int, error) {
	if len(args) < lo || len(args) > hi {
		return nil, fmt.Errorf("expected %d to %d numbers", lo, hi)
	}
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", a)
		}
		out[i] = n
	}
	return out, nil
}

func coordinate(args []string) (model.Coordinate, error) {
	nums, err := ints(args, 3, 3)
	if err != nil {
		return model.Coordinate{}, err
	}
	return model.Coordinate{Question: nums[0], Part: nums[1], Body: nums[2]}, nil
}
