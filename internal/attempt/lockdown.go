package attempt

import (
	"context"
	"fmt"

	"github.com/stemsi/hourglass/internal/model"
)

// LockdownStatus is the outcome of the last lockdown attempt.
type LockdownStatus string

const (
	LockdownBefore  LockdownStatus = "BEFORE"
	LockdownFailed  LockdownStatus = "FAILED"
	LockdownLocked  LockdownStatus = "LOCKED"
	LockdownIgnored LockdownStatus = "IGNORED"
)

// LockdownState is the lockdown slice of the attempt state.
type LockdownState struct {
	Status  LockdownStatus
	Message string
	// Loaded is set once exam content has been fetched.
	Loaded bool
}

// Environment is the restricted client the exam runs in.
type Environment interface {
	// Supported reports whether the client can be locked down at all.
	Supported() bool
	IsFullscreen() bool
	// RequestFullscreen may block until the user or the platform decides.
	// There is no timeout beyond ctx.
	RequestFullscreen(ctx context.Context) error
}

// Guard verifies and enforces the lockdown environment.
type Guard struct {
	env Environment
}

func NewGuard(env Environment) *Guard {
	return &Guard{env: env}
}

// Attempt locks the environment down according to policies. Errors match
// ErrLockdown and carry a message meant for the student.
func (g *Guard) Attempt(ctx context.Context, policies []model.Policy) (LockdownStatus, error) {
	if model.PolicyPermits(policies, model.PolicyIgnoreLockdown) {
		return LockdownIgnored, nil
	}
	if g.env == nil || !g.env.Supported() {
		return LockdownFailed, &lockdownError{cause: ErrUnsupportedEnvironment}
	}
	if model.PolicyPermits(policies, model.PolicyTolerateWindowed) {
		return LockdownLocked, nil
	}

	if !g.env.IsFullscreen() {
		if err := g.env.RequestFullscreen(ctx); err != nil {
			return LockdownFailed, &lockdownError{cause: fmt.Errorf("%w (%v)", ErrFullscreenRequest, err)}
		}
	}
	if !g.env.IsFullscreen() {
		return LockdownFailed, &lockdownError{cause: ErrNotFullscreen}
	}
	return LockdownLocked, nil
}
