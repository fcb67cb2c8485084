// Command take sits an exam from a terminal. It drives the same attempt
// state machine as the browser client against a running server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stemsi/hourglass/internal/attempt"
	"github.com/stemsi/hourglass/internal/client"
	"github.com/stemsi/hourglass/internal/config"
	"github.com/stemsi/hourglass/internal/logger"
)

func main() {
	var examID, token string
	var preview bool
	flag.StringVar(&examID, "exam", "", "Exam ID to take")
	flag.StringVar(&token, "token", "", "Student session token (defaults to TAKE_TOKEN)")
	flag.BoolVar(&preview, "preview", false, "Render the exam without saving or auto-submitting")
	flag.Parse()

	cfg := config.Load()
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if examID == "" {
		fmt.Fprintln(os.Stderr, "Usage: take -exam <id> [-token <jwt>] [-preview]")
		os.Exit(2)
	}
	if token == "" {
		token = cfg.TakeToken
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Options{
		BaseURL:    cfg.TakeBaseURL,
		ExamID:     examID,
		Token:      token,
		CSRFCookie: cfg.CSRFCookieName,
		Logger:     &log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid client options")
	}

	info, err := c.ExamInfo(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch exam info")
	}
	fmt.Printf("%s\n\n", info.Name)

	lines := readLines(os.Stdin)
	left := make(chan string, 1)
	session := attempt.NewSession(c, newTerminalEnv(os.Stdout, lines, cfg.TakeMinCols, cfg.TakeMinRows),
		attempt.NavigatorFunc(func(path string) {
			select {
			case left <- path:
			default:
			}
		}),
		attempt.Config{
			Policies:         info.Policies,
			SnapshotInterval: cfg.SnapshotInterval,
			Preview:          preview,
			Push:             c,
			Logger:           &log,
		})

	if err := begin(ctx, session, lines); err != nil {
		fmt.Println(attempt.Message(err))
		os.Exit(1)
	}

	fmt.Println(help)
	renderPage(os.Stdout, session)

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			// Leave without submitting; the latest snapshot is kept server side.
			<-runErr
			return
		case err := <-runErr:
			finish(session, err)
			return
		case <-left:
			finish(session, <-runErr)
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				stop()
				continue
			}
			quit, err := dispatch(ctx, os.Stdout, session, line)
			if err != nil {
				fmt.Println(attempt.Message(err))
			}
			if quit {
				finish(session, <-runErr)
				return
			}
		}
	}
}

// begin locks down and loads, offering retries the way the browser does.
func begin(ctx context.Context, s *attempt.Session, lines <-chan string) error {
	err := s.Begin(ctx)
	for err != nil {
		switch s.Status() {
		case attempt.StatusLockdownFailed:
			fmt.Printf("%s\nPress enter to try again.\n", attempt.Message(err))
			if !waitLine(ctx, lines) {
				return ctx.Err()
			}
			err = s.RetryLockdown(ctx)
		case attempt.StatusLoadFailed:
			fmt.Printf("%s\nPress enter to retry.\n", attempt.Message(err))
			if !waitLine(ctx, lines) {
				return ctx.Err()
			}
			err = s.RetryLoad(ctx)
		default:
			return err
		}
	}
	return nil
}

func finish(s *attempt.Session, err error) {
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, attempt.ErrNotInProgress) {
		fmt.Println(attempt.Message(err))
	}
	switch s.Status() {
	case attempt.StatusSubmitted:
		fmt.Println("Your exam has been submitted.")
	case attempt.StatusLockedOut:
		fmt.Println(attempt.Message(s.Err()))
	}
}

func waitLine(ctx context.Context, lines <-chan string) bool {
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-lines:
		return ok
	}
}

// readLines feeds stdin to whoever is waiting: the lockdown prompt first,
// then the command loop.
func readLines(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
