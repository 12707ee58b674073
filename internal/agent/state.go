package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"intake/internal/lease"
)

// State is the agent's position in the lease lifecycle.
type State int

const (
	StateIdle State = iota
	StateHasLease
	StateSubmitting
	StateSkipping
	StateReleasing
	// StateLost is entered when a renewal or commit proves the lease is gone.
	// Every mutating call fails with ErrLeaseLost until Reset.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHasLease:
		return "has_lease"
	case StateSubmitting:
		return "submitting"
	case StateSkipping:
		return "skipping"
	case StateReleasing:
		return "releasing"
	case StateLost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrLeaseLost is returned by every mutating call after the lease was lost,
	// until Reset.
	ErrLeaseLost = errors.New("lease lost; reset required")
	// ErrNoLease reports a submit or skip without a current lease.
	ErrNoLease = errors.New("no current lease")
	// ErrClosed reports use of an agent after Close.
	ErrClosed = errors.New("agent closed")
)

// ExhaustedEmpty means the session has nothing left to work on.
type ExhaustedEmpty struct {
	Session string
}

func (e *ExhaustedEmpty) Error() string {
	return fmt.Sprintf("session %q has no remaining items", e.Session)
}

func (e *ExhaustedEmpty) Is(target error) bool { return target == lease.ErrNotFound }

// ExhaustedTryOthers means every remaining item in the session is leased but
// other sessions still have work.
type ExhaustedTryOthers struct {
	Session  string
	Sessions []string
}

func (e *ExhaustedTryOthers) Error() string {
	return fmt.Sprintf("session %q is fully leased; available in %s", e.Session, strings.Join(e.Sessions, ", "))
}

func (e *ExhaustedTryOthers) Is(target error) bool { return target == lease.ErrNotFound }

// ExhaustedLocked means remaining items are all leased and nowhere else has
// work. NextFreeAt is when the oldest live lease lapses if not renewed.
type ExhaustedLocked struct {
	Session          string
	EarliestLockedAt *time.Time
	NextFreeAt       *time.Time
}

func (e *ExhaustedLocked) Error() string {
	if e.NextFreeAt != nil {
		return fmt.Sprintf("session %q is fully leased until at least %s", e.Session, e.NextFreeAt.Local().Format(time.Kitchen))
	}
	return fmt.Sprintf("session %q is fully leased", e.Session)
}

func (e *ExhaustedLocked) Is(target error) bool { return target == lease.ErrNotFound }
