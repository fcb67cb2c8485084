package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// terminalEnv is the lockdown environment of a terminal session. The
// terminal counts as fullscreen once it is at least minCols x minRows.
type terminalEnv struct {
	fd      int
	out     io.Writer
	lines   <-chan string
	minCols int
	minRows int
}

func newTerminalEnv(out *os.File, lines <-chan string, minCols, minRows int) *terminalEnv {
	return &terminalEnv{
		fd:      int(out.Fd()),
		out:     out,
		lines:   lines,
		minCols: minCols,
		minRows: minRows,
	}
}

func (e *terminalEnv) Supported() bool {
	return term.IsTerminal(e.fd)
}

func (e *terminalEnv) IsFullscreen() bool {
	cols, rows, err := term.GetSize(e.fd)
	if err != nil {
		return false
	}
	return cols >= e.minCols && rows >= e.minRows
}

// RequestFullscreen asks the student to enlarge the terminal and waits for
// them to press enter.
func (e *terminalEnv) RequestFullscreen(ctx context.Context) error {
	cols, rows, err := term.GetSize(e.fd)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Resize the terminal to at least %dx%d (now %dx%d) and press enter.\n",
		e.minCols, e.minRows, cols, rows)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-e.lines:
		if !ok {
			return errors.New("input closed")
		}
		return nil
	}
}
