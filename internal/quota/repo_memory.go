package quota

import (
	"context"
	"sync"
	"time"

	"matchline/internal/pairkey"
)

// MemoryRepo is an in-memory ledger repository for tests and early development.
// A single mutex covers lookup and mutation, which is what makes Apply atomic.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[string]*Entry
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{entries: map[string]*Entry{}, clock: time.Now}
}

func memKey(key pairkey.Key, period string) string {
	return string(key) + "|" + period
}

func (r *MemoryRepo) Get(ctx context.Context, key pairkey.Key, period string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[memKey(key, period)]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, key pairkey.Key, period string, capSeconds int64, c Contribution) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	k := memKey(key, period)
	e, ok := r.entries[k]
	if !ok {
		e = &Entry{
			PairKey:    key,
			Period:     period,
			CapSeconds: capSeconds,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		r.entries[k] = e
	}

	for _, existing := range e.Contributions {
		if existing.SessionID == c.SessionID {
			return cloneEntry(e), false, nil
		}
	}

	e.Contributions = append(e.Contributions, c)
	e.UsedSeconds += c.Seconds
	e.UpdatedAt = now
	if e.LimitReachedAt == nil && e.UsedSeconds >= e.CapSeconds {
		at := c.CommittedAt
		e.LimitReachedAt = &at
	}
	return cloneEntry(e), true, nil
}

func (r *MemoryRepo) Reset(ctx context.Context, key pairkey.Key, period string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[memKey(key, period)]
	if !ok {
		return nil
	}
	e.UsedSeconds = 0
	e.LimitReachedAt = nil
	e.Contributions = nil
	e.UpdatedAt = r.clock().UTC()
	return nil
}

func cloneEntry(e *Entry) Entry {
	out := *e
	if e.LimitReachedAt != nil {
		at := *e.LimitReachedAt
		out.LimitReachedAt = &at
	}
	out.Contributions = append([]Contribution(nil), e.Contributions...)
	return out
}
