package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EnvelopeRepo abstracts envelope storage.
//
// Upsert must atomically supersede any live envelope with the same
// idempotency key (recipient, session, event type): afterwards exactly one
// envelope is live for the key.
type EnvelopeRepo interface {
	Upsert(ctx context.Context, env Envelope) (stored Envelope, superseded bool, err error)
	ListByRecipient(ctx context.Context, recipientID string) ([]Envelope, error)
	Clear(ctx context.Context, sessionID, recipientID string) error
}

// Dispatcher fans one session event out across every configured channel and
// persists an envelope for polling retrieval. Dispatch outcome never feeds
// back into the session state machine.
type Dispatcher struct {
	repo     EnvelopeRepo
	channels []Channel
	presence *PresenceAggregator
	ttl      time.Duration
	logger   *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewDispatcher(repo EnvelopeRepo, channels []Channel, presence *PresenceAggregator, ttl time.Duration, logger *slog.Logger) *Dispatcher {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:     repo,
		channels: channels,
		presence: presence,
		ttl:      ttl,
		logger:   logger,
		clock:    time.Now,
	}
}

// Announce attempts delivery of ev on every channel and records the
// envelope. It never returns an error: partial and even total delivery
// failure is reported, not raised, and the envelope write is best-effort.
func (d *Dispatcher) Announce(ctx context.Context, ev Event) DispatchReport {
	now := d.clock().UTC()

	report := DispatchReport{}
	if d.presence != nil {
		report.Presence = d.presence.Hint(ctx, ev.RecipientID)
	}

	// Every channel gets an attempt; earlier success does not short-circuit
	// later channels. Presence is recorded above but deliberately not used
	// as a gate.
	for _, ch := range d.channels {
		outcome := ChannelOutcome{Channel: ch.Name(), At: d.clock().UTC()}
		if err := ch.Deliver(ctx, ev); err != nil {
			outcome.Detail = err.Error()
			d.logger.Debug("channel delivery failed",
				"channel", ch.Name(), "session_id", ev.SessionID, "recipient_id", ev.RecipientID, "err", err)
		} else {
			outcome.OK = true
		}
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.OK {
			report.Delivered = true
		}
	}

	env := Envelope{
		ID:          uuid.NewString(),
		RecipientID: ev.RecipientID,
		SessionID:   ev.SessionID,
		Type:        ev.Type,
		Payload:     ev.Payload,
		Outcomes:    report.Outcomes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.ttl),
	}
	stored, superseded, err := d.repo.Upsert(ctx, env)
	if err != nil {
		d.logger.Error("envelope store failed",
			"session_id", ev.SessionID, "recipient_id", ev.RecipientID, "err", err)
		return report
	}
	report.EnvelopeID = stored.ID
	report.Stored = true
	report.Superseded = superseded
	return report
}

// ListPending returns the recipient's live envelopes for polling clients.
// Envelopes outside the recency window are excluded, not deleted.
func (d *Dispatcher) ListPending(ctx context.Context, recipientID string) ([]Envelope, error) {
	envs, err := d.repo.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	now := d.clock().UTC()
	out := make([]Envelope, 0, len(envs))
	for _, e := range envs {
		if e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear retires every envelope for (session, recipient) once the recipient
// has acted on the event.
func (d *Dispatcher) Clear(ctx context.Context, sessionID, recipientID string) error {
	return d.repo.Clear(ctx, sessionID, recipientID)
}
