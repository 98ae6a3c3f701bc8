package notify

import (
	"context"
	"sync"
)

// MemoryEnvelopeRepo is an in-memory EnvelopeRepo for tests and early
// development. One mutex covers the supersede check and the write.
type MemoryEnvelopeRepo struct {
	mu sync.Mutex
	// live envelope per idempotency key
	byKey map[string]*Envelope
}

func NewMemoryEnvelopeRepo() *MemoryEnvelopeRepo {
	return &MemoryEnvelopeRepo{byKey: map[string]*Envelope{}}
}

func envelopeKey(recipientID, sessionID string, t EventType) string {
	return recipientID + "|" + sessionID + "|" + string(t)
}

func (r *MemoryEnvelopeRepo) Upsert(ctx context.Context, env Envelope) (Envelope, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := envelopeKey(env.RecipientID, env.SessionID, env.Type)
	_, superseded := r.byKey[k]
	stored := env
	r.byKey[k] = &stored
	return stored, superseded, nil
}

func (r *MemoryEnvelopeRepo) ListByRecipient(ctx context.Context, recipientID string) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Envelope
	for _, e := range r.byKey {
		if e.RecipientID == recipientID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *MemoryEnvelopeRepo) Clear(ctx context.Context, sessionID, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.byKey {
		if e.SessionID == sessionID && e.RecipientID == recipientID {
			delete(r.byKey, k)
		}
	}
	return nil
}
