package session

import (
	"context"
	"time"

	"matchline/internal/pairkey"
)

// Store abstracts session persistence.
//
// CreateOrReuseOpen is the one operation that must be atomic: the "is there
// already an open session for this pair" check and the insert must happen
// as a single step (a unique constraint over the open pair, or one critical
// section), never as a separate read followed by a separate write.
type Store interface {
	// CreateOrReuseOpen inserts s unless the pair already has an open
	// (ringing/ongoing) session, in which case the existing session is
	// returned with created=false.
	CreateOrReuseOpen(ctx context.Context, s Session) (out Session, created bool, err error)

	// Get returns ErrSessionNotFound for an unknown id.
	Get(ctx context.Context, id string) (Session, error)

	// Update persists a mutated session as a compare-and-set on the prior
	// status: the write lands only while the stored status still equals
	// from, otherwise ErrStatusConflict. A blind write here would let two
	// writers that read the same snapshot (say a ring-timeout sweep and an
	// accept) materialize an edge outside the lifecycle table.
	Update(ctx context.Context, s Session, from Status) (Session, error)

	// FindOpenByPair returns the pair's open session, ok=false when none.
	FindOpenByPair(ctx context.Context, key pairkey.Key) (Session, bool, error)

	// ListStaleRinging returns ringing sessions created before the cutoff,
	// for the missed-call sweep.
	ListStaleRinging(ctx context.Context, before time.Time) ([]Session, error)
}
