package session

import (
	"context"
	"sync"
	"time"

	"matchline/internal/pairkey"
)

// MemoryStore is an in-memory Store for tests and early development.
// One mutex covers the open-session lookup and the insert, which is what
// makes CreateOrReuseOpen atomic.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]*Session
	openByPair map[pairkey.Key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       map[string]*Session{},
		openByPair: map[pairkey.Key]string{},
	}
}

func (st *MemoryStore) CreateOrReuseOpen(ctx context.Context, s Session) (Session, bool, error) {
	if s.ID == "" || s.PairKey == "" {
		return Session{}, false, ErrInvalidArgument
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.openByPair[s.PairKey]; ok {
		if existing := st.byID[id]; existing != nil && existing.Status.Open() {
			return *existing, false, nil
		}
		// Slot pointed at a session that already went terminal.
		delete(st.openByPair, s.PairKey)
	}

	stored := s
	st.byID[s.ID] = &stored
	if stored.Status.Open() {
		st.openByPair[s.PairKey] = s.ID
	}
	return stored, true, nil
}

func (st *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.byID[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (st *MemoryStore) Update(ctx context.Context, s Session, from Status) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	existing, ok := st.byID[s.ID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if existing.Status != from {
		return Session{}, ErrStatusConflict
	}
	*existing = s
	if s.Status.Open() {
		st.openByPair[s.PairKey] = s.ID
	} else if st.openByPair[s.PairKey] == s.ID {
		delete(st.openByPair, s.PairKey)
	}
	return s, nil
}

func (st *MemoryStore) FindOpenByPair(ctx context.Context, key pairkey.Key) (Session, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.openByPair[key]
	if !ok {
		return Session{}, false, nil
	}
	s := st.byID[id]
	if s == nil || !s.Status.Open() {
		return Session{}, false, nil
	}
	return *s, true, nil
}

func (st *MemoryStore) ListStaleRinging(ctx context.Context, before time.Time) ([]Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []Session
	for _, s := range st.byID {
		if s.Status == StatusRinging && s.CreatedAt.Before(before) {
			out = append(out, *s)
		}
	}
	return out, nil
}
