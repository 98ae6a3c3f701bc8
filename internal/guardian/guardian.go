// Package guardian informs a supervising third party of qualifying session
// events. Delivery is strictly best-effort: a failed or slow notification
// must never block or fail the session it describes.
package guardian

import (
	"context"
	"time"
)

// Event describes one session event worth surfacing to a guardian.
type Event struct {
	Type        string    `json:"type"` // e.g. "call.initiated", "call.completed"
	SessionID   string    `json:"session_id"`
	CallerID    string    `json:"caller_id"`
	RecipientID string    `json:"recipient_id"`
	OccurredAt  time.Time `json:"occurred_at"`

	// DurationSeconds is set for terminal events.
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

// Notifier is the oversight hook. Implementations must be safe for
// concurrent use and should bound their own timeouts; callers never await
// the outcome for correctness.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier discards events. Used when no oversight transport is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, ev Event) error { return nil }
