package attempt

import "fmt"

// SnapshotStatus reports how the last save went.
type SnapshotStatus string

const (
	SnapshotLoading SnapshotStatus = "LOADING"
	SnapshotSuccess SnapshotStatus = "SUCCESS"
	SnapshotFailure SnapshotStatus = "FAILURE"
)

type SnapshotState struct {
	Status  SnapshotStatus
	Message string
}

// SaveOutcome is what a call to Session.Save did.
type SaveOutcome int

const (
	// SaveSkipped means a save was already in flight or the attempt is not running.
	SaveSkipped SaveOutcome = iota
	SaveSucceeded
	SaveFailed
	SaveLockedOut
)

func (o SaveOutcome) String() string {
	switch o {
	case SaveSkipped:
		return "skipped"
	case SaveSucceeded:
		return "succeeded"
	case SaveFailed:
		return "failed"
	case SaveLockedOut:
		return "locked out"
	}
	return fmt.Sprintf("SaveOutcome(%d)", int(o))
}

// Synchronizer serializes snapshot requests. At most one is pending; a save
// requested while one is pending is dropped, not queued.
type Synchronizer struct {
	state   SnapshotState
	pending bool
	stopped bool
}

func newSynchronizer() Synchronizer {
	return Synchronizer{state: SnapshotState{Status: SnapshotSuccess}}
}

// begin claims the request slot. A FAILURE status is kept until a save
// succeeds so the student keeps seeing the error while retries run.
func (s *Synchronizer) begin() bool {
	if s.pending || s.stopped {
		return false
	}
	s.pending = true
	if s.state.Status == SnapshotSuccess {
		s.state = SnapshotState{Status: SnapshotLoading}
	}
	return true
}

func (s *Synchronizer) succeed() {
	s.pending = false
	s.state = SnapshotState{Status: SnapshotSuccess}
}

func (s *Synchronizer) fail(err error) {
	s.pending = false
	s.state = SnapshotState{
		Status:  SnapshotFailure,
		Message: fmt.Sprintf("%s: %v", Message(ErrSnapshot), err),
	}
}

// lockout stops all further saves.
func (s *Synchronizer) lockout() {
	s.pending = false
	s.stopped = true
	s.state = SnapshotState{Status: SnapshotFailure, Message: Message(ErrLockout)}
}

func (s *Synchronizer) stop() { s.stopped = true }

func (s *Synchronizer) State() SnapshotState { return s.state }

func (s *Synchronizer) Pending() bool { return s.pending }
