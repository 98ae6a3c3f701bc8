package notify

import (
	"context"
	"time"

	"matchline/internal/directory"
	"matchline/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Confidence tags a presence verdict. None of the underlying signals is a
// source of truth, so the aggregator never answers with a bare boolean.
type Confidence string

const (
	OnlineLikely  Confidence = "online-likely"
	OnlineUnsure  Confidence = "online-unsure"
	OfflineLikely Confidence = "offline-likely"
)

// PresenceHint is a confidence-tagged presence estimate with the signals
// that produced it.
type PresenceHint struct {
	UserID     string     `json:"user_id"`
	Confidence Confidence `json:"confidence"`
	Signals    []string   `json:"signals,omitempty"`
}

// PresenceRegistry exposes live socket membership. It is passed in
// explicitly; nothing in this package consults ambient global state.
type PresenceRegistry interface {
	Connected(userID string) bool
}

// PresenceAggregator merges imperfect signals: live socket membership, a
// redis last-seen mark, and the directory's online flag plus last-seen
// timestamp. The dispatcher records the hint but never gates delivery on it.
type PresenceAggregator struct {
	registry   PresenceRegistry
	rdb        *redis.Client
	dir        directory.Directory
	staleAfter time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPresenceAggregator(registry PresenceRegistry, rdb *redis.Client, dir directory.Directory, staleAfter time.Duration) *PresenceAggregator {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &PresenceAggregator{
		registry:   registry,
		rdb:        rdb,
		dir:        dir,
		staleAfter: staleAfter,
		clock:      time.Now,
	}
}

func presenceKey(userID string) string {
	return "presence:last_seen:" + userID
}

// Touch records a fresh last-seen mark for userID.
func (a *PresenceAggregator) Touch(ctx context.Context, userID string) error {
	if a.rdb == nil {
		return nil
	}
	_, err := utils.TouchPresence(ctx, a.rdb, presenceKey(userID), a.clock(), a.staleAfter)
	return err
}

// Hint aggregates all available signals for userID. Signal read errors
// degrade the hint instead of failing it.
func (a *PresenceAggregator) Hint(ctx context.Context, userID string) PresenceHint {
	now := a.clock()
	h := PresenceHint{UserID: userID}

	socket := a.registry != nil && a.registry.Connected(userID)
	if socket {
		h.Signals = append(h.Signals, "socket")
	}

	var lastSeen time.Time
	if a.rdb != nil {
		if at, err := utils.LastSeen(ctx, a.rdb, presenceKey(userID)); err == nil && !at.IsZero() {
			lastSeen = at
		}
	}

	var flagged bool
	if a.dir != nil {
		if u, err := a.dir.FindUser(ctx, userID); err == nil {
			flagged = u.Online
			if u.LastSeenAt != nil && u.LastSeenAt.After(lastSeen) {
				lastSeen = *u.LastSeenAt
			}
		}
	}
	if flagged {
		h.Signals = append(h.Signals, "online-flag")
	}

	recent := !lastSeen.IsZero() && now.Sub(lastSeen) <= a.staleAfter
	if recent {
		h.Signals = append(h.Signals, "last-seen")
	}

	switch {
	case socket:
		h.Confidence = OnlineLikely
	case flagged || recent:
		h.Confidence = OnlineUnsure
	default:
		h.Confidence = OfflineLikely
	}
	return h
}
