package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("session: invalid argument")
	ErrSessionNotFound   = errors.New("session: not found")
	ErrRecipientNotFound = errors.New("session: recipient not found")
	// ErrUnauthorized means the caller's tier does not permit initiating a
	// call. Joining a call initiated by an authorized counterpart is not
	// restricted here.
	ErrUnauthorized = errors.New("session: caller tier cannot initiate")
	// ErrStatusConflict means a concurrent writer moved the session's
	// status between the caller's read and its write. The write did not
	// happen; re-read to see the state that won.
	ErrStatusConflict = errors.New("session: status changed concurrently")
)

// InvalidTransitionError reports a request for an edge outside the
// lifecycle table. State is left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// QuotaExhaustedError carries the machine-readable remaining time so the
// surrounding UI can explain the denial instead of showing a generic error.
type QuotaExhaustedError struct {
	RemainingSeconds int64
	CapSeconds       int64
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("session: pair quota exhausted (%ds of %ds remaining)", e.RemainingSeconds, e.CapSeconds)
}
