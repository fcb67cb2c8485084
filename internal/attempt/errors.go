package attempt

import "errors"

// Errors surfaced by a Session. Only the lockdown, load, anomalous and
// lockout errors move the session's top-level status.
var (
	ErrLockdown               = errors.New("lockdown failed")
	ErrUnsupportedEnvironment = errors.New("unsupported environment")
	ErrFullscreenRequest      = errors.New("fullscreen request failed")
	ErrNotFullscreen          = errors.New("not fullscreen")

	ErrLoad      = errors.New("error starting exam")
	ErrEmptyExam = errors.New("exam has no questions")
	ErrAnomalous = errors.New("registration is anomalous")

	ErrSnapshot = errors.New("error saving snapshot")
	ErrLockout  = errors.New("locked out")

	ErrQuestionSend = errors.New("error sending question")

	ErrNotInProgress     = errors.New("attempt is not in progress")
	ErrIllegalTransition = errors.New("illegal attempt transition")
)

// studentMessages is the text shown to the student for each error kind,
// most specific first.
var studentMessages = []struct {
	err error
	msg string
}{
	{ErrUnsupportedEnvironment, "Please use a supported browser to continue."},
	{ErrFullscreenRequest, "Error entering fullscreen. Please manually fullscreen the window."},
	{ErrNotFullscreen, "Try again in fullscreen."},
	{ErrAnomalous, "You have been locked out. Please see an instructor."},
	{ErrLockout, "Locked out of exam."},
	{ErrSnapshot, "Error saving snapshot to server"},
	{ErrQuestionSend, "Problem saving question."},
	{ErrEmptyExam, "This exam has no questions."},
	{ErrLoad, "Error starting exam."},
}

// Message returns the text to show the student for err. Errors without a
// dedicated message fall back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range studentMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// lockdownError matches ErrLockdown as well as its cause.
type lockdownError struct {
	cause error
}

func (e *lockdownError) Error() string { return e.cause.Error() }

func (e *lockdownError) Is(target error) bool { return target == ErrLockdown }

func (e *lockdownError) Unwrap() error { return e.cause }
