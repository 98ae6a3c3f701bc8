package quota

import (
	"context"
	"errors"
	"time"

	"matchline/internal/pairkey"
)

var (
	ErrInvalidArgument = errors.New("quota: invalid argument")
)

// Repository abstracts ledger storage.
//
// Implementations must make Apply a single atomic operation: the increment,
// the contribution insert and the limit stamp all land together or not at
// all. Get must report ok=false (not an error) for a row that does not
// exist yet; lazy initialization is the service's job.
type Repository interface {
	Get(ctx context.Context, key pairkey.Key, period string) (Entry, bool, error)

	// Apply appends a contribution and increments used seconds atomically,
	// creating the row when absent. It stamps LimitReachedAt when the
	// increment first crosses capSeconds. applied=false means the session
	// already contributed; the current entry is returned unchanged.
	Apply(ctx context.Context, key pairkey.Key, period string, capSeconds int64, c Contribution) (entry Entry, applied bool, err error)

	Reset(ctx context.Context, key pairkey.Key, period string) error
}

// Service answers remaining-time queries and commits call durations.
type Service struct {
	repo       Repository
	capSeconds int64
	period     Period
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, capSeconds int64, period Period) *Service {
	return &Service{repo: repo, capSeconds: capSeconds, period: period, clock: time.Now}
}

// PeriodKey returns the discriminator for the current accounting period.
func (s *Service) PeriodKey() string {
	return s.period.Key(s.clock())
}

// GetRemaining reports the pair's budget for the current period.
// A pair with no ledger row yet has the full cap remaining.
func (s *Service) GetRemaining(ctx context.Context, key pairkey.Key) (Remaining, error) {
	if key == "" {
		return Remaining{}, ErrInvalidArgument
	}

	e, ok, err := s.repo.Get(ctx, key, s.PeriodKey())
	if err != nil {
		return Remaining{}, err
	}
	if !ok {
		e = Entry{PairKey: key, CapSeconds: s.capSeconds}
	}
	return remainingOf(e), nil
}

// Commit charges durationSeconds against the pair's ledger for the current
// period. Overage past the cap is accepted, not clamped. Commit is
// idempotent per session: a duplicate commit for the same session returns
// the current entry without double counting.
func (s *Service) Commit(ctx context.Context, key pairkey.Key, durationSeconds int64, sessionID, contributorID string) (Entry, error) {
	if key == "" || sessionID == "" {
		return Entry{}, ErrInvalidArgument
	}
	if durationSeconds < 0 {
		return Entry{}, ErrInvalidArgument
	}

	c := Contribution{
		SessionID:     sessionID,
		Seconds:       durationSeconds,
		ContributorID: contributorID,
		CommittedAt:   s.clock().UTC(),
	}

	entry, _, err := s.repo.Apply(ctx, key, s.PeriodKey(), s.capSeconds, c)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Reset zeroes a pair's usage for the current period, clearing the limit
// stamp and the contribution history. Privileged operation; callers gate it.
func (s *Service) Reset(ctx context.Context, key pairkey.Key) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return s.repo.Reset(ctx, key, s.PeriodKey())
}

func remainingOf(e Entry) Remaining {
	rem := e.CapSeconds - e.UsedSeconds
	if rem < 0 {
		rem = 0
	}
	return Remaining{
		UsedSeconds:      e.UsedSeconds,
		CapSeconds:       e.CapSeconds,
		RemainingSeconds: rem,
		HasRemaining:     rem > 0,
	}
}
