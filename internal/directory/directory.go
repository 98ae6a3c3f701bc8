package directory

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("directory: user not found")

// Tier is the authorization tier assigned by the surrounding platform.
// Only full and admin accounts may initiate calls; limited accounts can
// still join a call initiated by an authorized counterpart.
const (
	TierFull    = "full"
	TierLimited = "limited"
	TierAdmin   = "admin"
)

// User is the read-only view of a platform account this core consumes.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Tier        string `json:"tier"`

	// Presence hints. Both are imperfect signals; neither is authoritative
	// on its own (see notify.PresenceAggregator).
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// CanInitiate reports whether the user's tier permits starting a call.
func (u User) CanInitiate() bool {
	return u.Tier == TierFull || u.Tier == TierAdmin
}

// Directory is the user-lookup collaborator. Profile CRUD and account
// management live outside this core.
type Directory interface {
	FindUser(ctx context.Context, id string) (User, error)
}
