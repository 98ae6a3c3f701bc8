package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matchline/internal/directory"
	"matchline/internal/guardian"
	"matchline/internal/notify"
	"matchline/internal/pairkey"
	"matchline/internal/provider"
	"matchline/internal/quota"

	"github.com/google/uuid"
)

// Notifier is the announcement surface the orchestrator fans events into.
// Dispatch outcome never feeds back into lifecycle decisions.
type Notifier interface {
	Announce(ctx context.Context, ev notify.Event) notify.DispatchReport
	Clear(ctx context.Context, sessionID, recipientID string) error
}

// Orchestrator owns the call lifecycle: it validates preconditions, creates
// or reuses sessions, walks them through the status table and commits call
// time to the quota ledger on completion.
type Orchestrator struct {
	store    Store
	quota    *quota.Service
	dir      directory.Directory
	rooms    provider.RoomProvider
	notifier Notifier
	guardian guardian.Notifier
	logger   *slog.Logger

	ringTimeout time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
	// spawn runs fire-and-forget work; tests replace it to run inline.
	spawn func(fn func())
}

func NewOrchestrator(
	store Store,
	quotaSvc *quota.Service,
	dir directory.Directory,
	rooms provider.RoomProvider,
	notifier Notifier,
	oversight guardian.Notifier,
	ringTimeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if ringTimeout <= 0 {
		ringTimeout = 45 * time.Second
	}
	if oversight == nil {
		oversight = guardian.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		quota:       quotaSvc,
		dir:         dir,
		rooms:       rooms,
		notifier:    notifier,
		guardian:    oversight,
		logger:      logger,
		ringTimeout: ringTimeout,
		clock:       time.Now,
		spawn:       func(fn func()) { go fn() },
	}
}

// Initiate starts (or reuses) a call from callerID to recipientID.
//
// Precondition failures are returned synchronously and never retried:
// ErrRecipientNotFound, ErrUnauthorized (initiation tier only; a limited
// recipient can still join), QuotaExhaustedError with the remaining time.
// Notification and oversight are fired after the response path and cannot
// fail the call.
func (o *Orchestrator) Initiate(ctx context.Context, callerID, recipientID string) (Session, error) {
	if callerID == "" || recipientID == "" || callerID == recipientID {
		return Session{}, ErrInvalidArgument
	}

	if _, err := o.dir.FindUser(ctx, recipientID); err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return Session{}, ErrRecipientNotFound
		}
		return Session{}, fmt.Errorf("lookup recipient: %w", err)
	}

	caller, err := o.dir.FindUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, fmt.Errorf("lookup caller: %w", err)
	}
	if !caller.CanInitiate() {
		return Session{}, ErrUnauthorized
	}

	key := pairkey.Normalize(callerID, recipientID)

	// Fast-path reuse: an open session for the pair short-circuits the
	// quota check and room provisioning. A stale ringing session is lazily
	// moved to missed first.
	if existing, ok, err := o.store.FindOpenByPair(ctx, key); err != nil {
		return Session{}, err
	} else if ok {
		fresh, expired, err := o.expireIfStale(ctx, existing)
		if err != nil {
			return Session{}, err
		}
		if !expired {
			return fresh, nil
		}
	}

	rem, err := o.quota.GetRemaining(ctx, key)
	if err != nil {
		return Session{}, err
	}
	if !rem.HasRemaining {
		return Session{}, &QuotaExhaustedError{RemainingSeconds: rem.RemainingSeconds, CapSeconds: rem.CapSeconds}
	}

	room, err := o.rooms.CreateRoom(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("provision room: %w", err)
	}

	now := o.clock().UTC()
	candidate := Session{
		ID:          uuid.NewString(),
		PairKey:     key,
		CallerID:    callerID,
		RecipientID: recipientID,
		RoomID:      room.RoomID,
		JoinURL:     room.JoinURL,
		ProviderTag: o.rooms.Name(),
		Status:      StatusRinging,
		CreatedAt:   now,
	}

	out, created, err := o.store.CreateOrReuseOpen(ctx, candidate)
	if err != nil {
		return Session{}, err
	}
	if !created {
		// Lost the race to a concurrent initiate; the provisioned room is
		// simply abandoned, the provider is opaque and rooms are cheap.
		return out, nil
	}

	o.announce(notify.Event{
		RecipientID: out.RecipientID,
		SessionID:   out.ID,
		Type:        notify.EventInvitation,
		Payload: map[string]any{
			"caller_id":   out.CallerID,
			"caller_name": caller.DisplayName,
			"join_url":    out.JoinURL,
			"room_id":     out.RoomID,
		},
	})
	o.oversee(guardian.Event{
		Type:        "call.initiated",
		SessionID:   out.ID,
		CallerID:    out.CallerID,
		RecipientID: out.RecipientID,
		OccurredAt:  now,
	})
	return out, nil
}

// UpdateStatus moves a session along one lifecycle edge.
//
// On completion the elapsed duration is committed to the quota ledger
// before the terminal state is persisted, so a storage failure between the
// two leaves a retryable ongoing session instead of lost seconds; the
// ledger's per-session idempotency absorbs the replay.
func (o *Orchestrator) UpdateStatus(ctx context.Context, sessionID string, newStatus Status) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}

	var out Session
	// The write is a compare-and-set on the status read below. A concurrent
	// writer (another status update, the missed-call sweep) losing us the
	// set means our snapshot is dead; re-read once and judge the request
	// against the state that won.
	for attempt := 0; ; attempt++ {
		s, err := o.store.Get(ctx, sessionID)
		if err != nil {
			return Session{}, err
		}

		// A ringing session past the ring window is missed no matter what
		// edge was requested; the request is then judged against the missed
		// state.
		s, _, err = o.expireIfStale(ctx, s)
		if err != nil {
			return Session{}, err
		}

		if !CanTransition(s.Status, newStatus) {
			return Session{}, &InvalidTransitionError{From: s.Status, To: newStatus}
		}

		prior := s.Status
		now := o.clock().UTC()
		switch newStatus {
		case StatusOngoing:
			s.StartedAt = &now
		case StatusMissed, StatusDeclined, StatusFailed:
			s.EndedAt = &now
			s.DurationSeconds = 0
		case StatusCompleted:
			s.EndedAt = &now
			if s.StartedAt != nil {
				s.DurationSeconds = int64(now.Sub(*s.StartedAt) / time.Second)
			}
		}
		s.Status = newStatus

		if newStatus == StatusCompleted {
			// Committed before the terminal write; the ledger's per-session
			// idempotency absorbs a replay if the write below fails.
			if _, err := o.quota.Commit(ctx, s.PairKey, s.DurationSeconds, s.ID, s.CallerID); err != nil {
				return Session{}, fmt.Errorf("commit quota: %w", err)
			}
		}

		out, err = o.store.Update(ctx, s, prior)
		if errors.Is(err, ErrStatusConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		break
	}

	o.announceStatusChange(out)
	if newStatus == StatusOngoing || newStatus == StatusDeclined {
		// The recipient acted on the invitation; retire it.
		o.clearInvitation(out)
	}
	if newStatus.Terminal() {
		o.oversee(guardian.Event{
			Type:            "call." + string(newStatus),
			SessionID:       out.ID,
			CallerID:        out.CallerID,
			RecipientID:     out.RecipientID,
			OccurredAt:      *out.EndedAt,
			DurationSeconds: out.DurationSeconds,
		})
	}
	return out, nil
}

// GetSession fetches a session, lazily applying the ring timeout.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	s, _, err = o.expireIfStale(ctx, s)
	return s, err
}

// Remaining reports the quota budget between two users.
func (o *Orchestrator) Remaining(ctx context.Context, userA, userB string) (quota.Remaining, error) {
	if userA == "" || userB == "" {
		return quota.Remaining{}, ErrInvalidArgument
	}
	return o.quota.GetRemaining(ctx, pairkey.Normalize(userA, userB))
}

// ExpireStaleRinging sweeps ringing sessions past the ring window into
// missed. Intended for an external scheduler; the lazy per-read check makes
// the sweep an optimization rather than a correctness requirement.
func (o *Orchestrator) ExpireStaleRinging(ctx context.Context) (int, error) {
	cutoff := o.clock().UTC().Add(-o.ringTimeout)
	stale, err := o.store.ListStaleRinging(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range stale {
		if _, err := o.markMissed(ctx, s); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				// Lost the set to an accept or another sweep; whatever won
				// is a valid state, nothing to do here.
				continue
			}
			o.logger.Error("missed-call sweep failed", "session_id", s.ID, "err", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// expireIfStale applies the ring-timeout policy on read.
func (o *Orchestrator) expireIfStale(ctx context.Context, s Session) (Session, bool, error) {
	if s.Status != StatusRinging {
		return s, false, nil
	}
	if o.clock().UTC().Sub(s.CreatedAt) < o.ringTimeout {
		return s, false, nil
	}
	out, err := o.markMissed(ctx, s)
	if errors.Is(err, ErrStatusConflict) {
		// Someone moved the session off ringing first; their state wins.
		fresh, getErr := o.store.Get(ctx, s.ID)
		if getErr != nil {
			return Session{}, false, getErr
		}
		return fresh, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return out, true, nil
}

// markMissed moves a ringing session to missed via compare-and-set; a
// concurrent writer that got there first surfaces as ErrStatusConflict.
func (o *Orchestrator) markMissed(ctx context.Context, s Session) (Session, error) {
	prior := s.Status
	now := o.clock().UTC()
	s.Status = StatusMissed
	s.EndedAt = &now
	s.DurationSeconds = 0

	out, err := o.store.Update(ctx, s, prior)
	if err != nil {
		return Session{}, err
	}

	o.announceStatusChange(out)
	o.oversee(guardian.Event{
		Type:        "call.missed",
		SessionID:   out.ID,
		CallerID:    out.CallerID,
		RecipientID: out.RecipientID,
		OccurredAt:  now,
	})
	return out, nil
}

// announceStatusChange informs both participants; each gets its own
// envelope under its own idempotency key.
func (o *Orchestrator) announceStatusChange(s Session) {
	payload := map[string]any{
		"status":           string(s.Status),
		"duration_seconds": s.DurationSeconds,
	}
	for _, target := range []string{s.CallerID, s.RecipientID} {
		o.announce(notify.Event{
			RecipientID: target,
			SessionID:   s.ID,
			Type:        notify.EventStatusChange,
			Payload:     payload,
		})
	}
}

// announce fans out on a detached context; the request path never waits.
func (o *Orchestrator) announce(ev notify.Event) {
	if o.notifier == nil {
		return
	}
	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		report := o.notifier.Announce(ctx, ev)
		if !report.Delivered {
			o.logger.Debug("announcement reached no push channel; envelope left for polling",
				"session_id", ev.SessionID, "recipient_id", ev.RecipientID, "event", string(ev.Type))
		}
	})
}

func (o *Orchestrator) clearInvitation(s Session) {
	if o.notifier == nil {
		return
	}
	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.notifier.Clear(ctx, s.ID, s.RecipientID); err != nil {
			o.logger.Debug("envelope clear failed", "session_id", s.ID, "err", err)
		}
	})
}

// oversee informs the guardian hook; failures are logged and swallowed.
func (o *Orchestrator) oversee(ev guardian.Event) {
	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.guardian.Notify(ctx, ev); err != nil {
			o.logger.Warn("guardian notify failed", "session_id", ev.SessionID, "type", ev.Type, "err", err)
		}
	})
}
