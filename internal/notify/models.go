package notify

import "time"

type EventType string

const (
	EventInvitation   EventType = "invitation"
	EventStatusChange EventType = "status_change"
)

// Event is one logical session announcement directed at one recipient.
// The dispatcher owns turning it into channel deliveries and a durable
// envelope; it references the session, never mutates it.
type Event struct {
	RecipientID string         `json:"recipient_id"`
	SessionID   string         `json:"session_id"`
	Type        EventType      `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ChannelOutcome records one delivery attempt on one channel.
type ChannelOutcome struct {
	Channel string    `json:"channel"`
	OK      bool      `json:"ok"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Envelope is the idempotency record for one (recipient, session, event type).
// At most one envelope is live per key at a time; a later announcement for
// the same key supersedes the earlier envelope rather than duplicating it.
type Envelope struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	SessionID   string         `json:"session_id"`
	Type        EventType      `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`

	Outcomes []ChannelOutcome `json:"outcomes"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the envelope has left the recency window polling
// clients see. Expired envelopes are excluded from listings, not necessarily
// deleted.
func (e Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// DispatchReport summarizes one fan-out. Callers never fail a session
// operation based on its contents.
type DispatchReport struct {
	EnvelopeID string           `json:"envelope_id"`
	Delivered  bool             `json:"delivered"` // at least one channel plausibly succeeded
	Stored     bool             `json:"stored"`    // envelope persisted for polling retrieval
	Superseded bool             `json:"superseded"`
	Outcomes   []ChannelOutcome `json:"outcomes"`
	Presence   PresenceHint     `json:"presence"`
}
