package quota

import (
	"time"

	"matchline/internal/pairkey"
)

// Entry is the ledger row for one (pair, accounting period).
//
// Invariants:
// - UsedSeconds never decreases outside an explicit administrative Reset.
// - LimitReachedAt is stamped exactly once, on the first commit that
//   crosses CapSeconds, and survives later commits.
// - Contributions are append-only; each session contributes at most once.
//
// The cap is a soft, after-the-fact budget: a commit may push UsedSeconds
// past CapSeconds because a call's duration is only knowable after it ends
// and this layer never tears down an in-progress call.
type Entry struct {
	PairKey pairkey.Key `json:"pair_key" db:"pair_key"`

	// Period is the accounting-period discriminator, e.g. "2026-08" for a
	// monthly ledger or "alltime" for a non-resetting one.
	Period string `json:"period" db:"period"`

	UsedSeconds int64 `json:"used_seconds" db:"used_seconds"`
	CapSeconds  int64 `json:"cap_seconds" db:"cap_seconds"`

	LimitReachedAt *time.Time `json:"limit_reached_at,omitempty" db:"limit_reached_at"`

	// Contributions is the audit trail of committed session durations.
	Contributions []Contribution `json:"contributions"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Contribution records one session's durable charge against the ledger.
type Contribution struct {
	SessionID     string    `json:"session_id" db:"session_id"`
	Seconds       int64     `json:"seconds" db:"seconds"`
	ContributorID string    `json:"contributor_id" db:"contributor_id"`
	CommittedAt   time.Time `json:"committed_at" db:"committed_at"`
}

// Remaining is the answer to a remaining-time query.
// RemainingSeconds is clamped at zero even when usage overshot the cap, so
// callers can surface a clean figure to end users.
type Remaining struct {
	UsedSeconds      int64 `json:"used_seconds"`
	CapSeconds       int64 `json:"cap_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	HasRemaining     bool  `json:"has_remaining"`
}

// Period selects the accounting window a ledger row is keyed by.
// The two deployments differ only in this discriminator; the ledger schema
// and commit semantics are identical.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "alltime"
)

// Key returns the period discriminator for now.
func (p Period) Key(now time.Time) string {
	switch p {
	case PeriodMonthly:
		return now.UTC().Format("2006-01")
	default:
		return "alltime"
	}
}
