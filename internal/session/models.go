package session

import (
	"time"

	"matchline/internal/pairkey"
)

// Session identifies one attempted or realized call between two matched
// users. Rows are never hard-deleted; terminal sessions stay for audit and
// quota history.
type Session struct {
	ID      string      `json:"id" db:"id"`
	PairKey pairkey.Key `json:"pair_key" db:"pair_key"`

	CallerID    string `json:"caller_id" db:"caller_id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`

	// RoomID and JoinURL are opaque handles issued by the external room
	// provider; the core only persists and relays them.
	RoomID      string `json:"room_id" db:"room_id"`
	JoinURL     string `json:"join_url" db:"join_url"`
	ProviderTag string `json:"provider_tag" db:"provider_tag"`

	Status Status `json:"status" db:"status"`

	// DurationSeconds is derived as EndedAt - StartedAt when both are set.
	DurationSeconds int64 `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusDeclined  Status = "declined"
	StatusFailed    Status = "failed"
)

// transitions is the complete lifecycle edge set. Anything not listed is an
// invalid transition.
var transitions = map[Status][]Status{
	StatusRinging: {StatusOngoing, StatusMissed, StatusDeclined, StatusFailed},
	StatusOngoing: {StatusCompleted},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusRinging, StatusOngoing, StatusCompleted, StatusMissed, StatusDeclined, StatusFailed:
		return Status(s), true
	default:
		return "", false
	}
}

// Open reports whether the status is non-terminal. At most one open session
// may exist per pair at a time.
func (s Status) Open() bool {
	return s == StatusRinging || s == StatusOngoing
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return !s.Open()
}
