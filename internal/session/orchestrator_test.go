package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchline/internal/directory"
	"matchline/internal/guardian"
	"matchline/internal/notify"
	"matchline/internal/pairkey"
	"matchline/internal/provider"
	"matchline/internal/quota"
)

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notify.Event
	cleared []string // "sessionID|recipientID"
}

func (n *recordingNotifier) Announce(ctx context.Context, ev notify.Event) notify.DispatchReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return notify.DispatchReport{Delivered: true}
}

func (n *recordingNotifier) Clear(ctx context.Context, sessionID, recipientID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, sessionID+"|"+recipientID)
	return nil
}

func (n *recordingNotifier) eventsOf(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingGuardian struct {
	mu     sync.Mutex
	events []guardian.Event
}

func (g *recordingGuardian) Notify(ctx context.Context, ev guardian.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
	return nil
}

type fixture struct {
	orch      *Orchestrator
	store     *MemoryStore
	quota     *quota.Service
	notifier  *recordingNotifier
	oversight *recordingGuardian
	now       *time.Time
}

func newFixture(t *testing.T, capSeconds int64) *fixture {
	t.Helper()

	dir := directory.NewMemoryDirectory(
		directory.User{ID: "alice", DisplayName: "Alice", Tier: directory.TierFull},
		directory.User{ID: "bob", DisplayName: "Bob", Tier: directory.TierFull},
		directory.User{ID: "carol", DisplayName: "Carol", Tier: directory.TierLimited},
	)
	rooms, err := provider.NewStaticProvider("static", "https://rooms.test/%s")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	store := NewMemoryStore()
	qsvc := quota.NewService(quota.NewMemoryRepo(), capSeconds, quota.PeriodMonthly)
	n := &recordingNotifier{}
	g := &recordingGuardian{}

	orch := NewOrchestrator(store, qsvc, dir, rooms, n, g, 45*time.Second, nil)
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	orch.clock = func() time.Time { return now }
	orch.spawn = func(fn func()) { fn() }

	return &fixture{orch: orch, store: store, quota: qsvc, notifier: n, oversight: g, now: &now}
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func TestInitiate_CreatesRingingSession(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if s.Status != StatusRinging {
		t.Fatalf("status = %s, want ringing", s.Status)
	}
	if s.PairKey != pairkey.Normalize("alice", "bob") {
		t.Fatalf("pair key = %s", s.PairKey)
	}
	if s.RoomID == "" || s.JoinURL == "" || s.ProviderTag != "static" {
		t.Fatalf("room not provisioned: %+v", s)
	}

	invites := f.notifier.eventsOf(notify.EventInvitation)
	if len(invites) != 1 {
		t.Fatalf("invitations = %d, want 1", len(invites))
	}
	if invites[0].RecipientID != "bob" || invites[0].SessionID != s.ID {
		t.Fatalf("invitation misdirected: %+v", invites[0])
	}

	if len(f.oversight.events) != 1 || f.oversight.events[0].Type != "call.initiated" {
		t.Fatalf("guardian events = %+v", f.oversight.events)
	}
}

func TestInitiate_RecipientNotFound(t *testing.T) {
	f := newFixture(t, 300)

	_, err := f.orch.Initiate(context.Background(), "alice", "nobody")
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestInitiate_TierRestrictsInitiationOnly(t *testing.T) {
	f := newFixture(t, 300)

	// Limited caller may not initiate.
	if _, err := f.orch.Initiate(context.Background(), "carol", "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Limited recipient may still be called (and can join).
	if _, err := f.orch.Initiate(context.Background(), "alice", "carol"); err != nil {
		t.Fatalf("full caller to limited recipient: %v", err)
	}
}

func TestInitiate_QuotaExhausted(t *testing.T) {
	f := newFixture(t, 300)
	key := pairkey.Normalize("alice", "bob")
	if _, err := f.quota.Commit(context.Background(), key, 300, "old-session", "alice"); err != nil {
		t.Fatalf("seed quota: %v", err)
	}

	_, err := f.orch.Initiate(context.Background(), "alice", "bob")
	var qe *QuotaExhaustedError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExhaustedError, got %v", err)
	}
	if qe.RemainingSeconds != 0 {
		t.Fatalf("remaining = %d, want 0", qe.RemainingSeconds)
	}

	if _, ok, _ := f.store.FindOpenByPair(context.Background(), key); ok {
		t.Fatalf("no session should be created on exhausted quota")
	}
}

func TestInitiate_ReusesOpenSession(t *testing.T) {
	f := newFixture(t, 300)

	first, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("first initiate: %v", err)
	}

	second, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reuse, got %s and %s", first.ID, second.ID)
	}

	// The reverse direction addresses the same pair slot.
	reverse, err := f.orch.Initiate(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("reverse initiate: %v", err)
	}
	if reverse.ID != first.ID {
		t.Fatalf("expected reverse-direction reuse, got %s", reverse.ID)
	}
}

func TestInitiate_ConcurrentCallsYieldOneOpenSession(t *testing.T) {
	f := newFixture(t, 300)
	// Real goroutines for the concurrency property; announcements must not
	// run inline on the test clock here.
	f.orch.spawn = func(fn func()) { go fn() }

	const n = 32
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := f.orch.Initiate(context.Background(), "alice", "bob")
			ids[i], errs[i] = s.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("initiate %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("divergent session ids: %s vs %s", ids[i], ids[0])
		}
	}

	open, ok, err := f.store.FindOpenByPair(context.Background(), pairkey.Normalize("alice", "bob"))
	if err != nil || !ok {
		t.Fatalf("expected one open session, ok=%v err=%v", ok, err)
	}
	if open.ID != ids[0] {
		t.Fatalf("open session %s does not match returned id %s", open.ID, ids[0])
	}
}

func TestUpdateStatus_AcceptThenComplete(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	ongoing, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ongoing.StartedAt == nil {
		t.Fatalf("expected StartedAt on accept")
	}
	if len(f.notifier.cleared) == 0 {
		t.Fatalf("expected invitation cleared on accept")
	}

	f.advance(40 * time.Second)

	done, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.DurationSeconds != 40 {
		t.Fatalf("duration = %d, want 40", done.DurationSeconds)
	}
	if done.EndedAt == nil {
		t.Fatalf("expected EndedAt on completion")
	}

	rem, err := f.quota.GetRemaining(context.Background(), done.PairKey)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if rem.UsedSeconds != 40 {
		t.Fatalf("committed seconds = %d, want 40", rem.UsedSeconds)
	}

	// Terminal states also announce to both sides.
	changes := f.notifier.eventsOf(notify.EventStatusChange)
	if len(changes) < 2 {
		t.Fatalf("expected status-change announcements, got %d", len(changes))
	}
}

func TestUpdateStatus_DeclineEndsWithZeroDuration(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	declined, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusDeclined)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.DurationSeconds != 0 || declined.EndedAt == nil {
		t.Fatalf("unexpected declined session: %+v", declined)
	}

	rem, _ := f.quota.GetRemaining(context.Background(), declined.PairKey)
	if rem.UsedSeconds != 0 {
		t.Fatalf("declined call must not consume quota, used = %d", rem.UsedSeconds)
	}
}

func TestUpdateStatus_InvalidEdges(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// ringing -> completed skips the table.
	var it *InvalidTransitionError
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusCompleted); !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// ongoing again on a completed session.
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError on completed session, got %v", err)
	}

	// State unchanged after the rejected request.
	got, err := f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status mutated by invalid request: %s", got.Status)
	}
}

func TestUpdateStatus_UnknownSession(t *testing.T) {
	f := newFixture(t, 300)

	if _, err := f.orch.UpdateStatus(context.Background(), "missing", StatusOngoing); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateStatus_CompletedCommitsQuotaOnce(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.advance(25 * time.Second)
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A replayed commit for the same session must not double count.
	if _, err := f.quota.Commit(context.Background(), s.PairKey, 25, s.ID, s.CallerID); err != nil {
		t.Fatalf("replayed commit: %v", err)
	}
	rem, _ := f.quota.GetRemaining(context.Background(), s.PairKey)
	if rem.UsedSeconds != 25 {
		t.Fatalf("used = %d after replay, want 25", rem.UsedSeconds)
	}
}

func TestRingTimeout_LazyMissOnRead(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.advance(46 * time.Second)

	got, err := f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMissed {
		t.Fatalf("status = %s, want missed after ring timeout", got.Status)
	}

	// With the slot free, a new initiate creates a fresh session.
	next, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	if next.ID == s.ID {
		t.Fatalf("expected a fresh session after the miss")
	}
}

func TestRingTimeout_LateAcceptRejected(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.advance(time.Minute)

	var it *InvalidTransitionError
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError for late accept, got %v", err)
	}
	if it.From != StatusMissed {
		t.Fatalf("late accept judged from %s, want missed", it.From)
	}
}

func TestExpireStaleRinging_Sweep(t *testing.T) {
	f := newFixture(t, 300)

	s1, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.orch.Initiate(context.Background(), "alice", "carol"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.advance(time.Minute)

	n, err := f.orch.ExpireStaleRinging(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d sessions, want 2", n)
	}

	got, err := f.orch.GetSession(context.Background(), s1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMissed {
		t.Fatalf("status = %s, want missed", got.Status)
	}
}

func TestUpdate_StaleWriteCannotClobberAcceptedCall(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	stale := s // ringing snapshot, as a sweep would hold it

	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// A missed write computed from the stale snapshot must lose the set.
	endedAt := f.now.UTC()
	stale.Status = StatusMissed
	stale.EndedAt = &endedAt
	if _, err := f.store.Update(context.Background(), stale, StatusRinging); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for stale write, got %v", err)
	}

	got, err := f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusOngoing {
		t.Fatalf("accepted call clobbered to %s", got.Status)
	}
}

func TestUpdate_StaleAcceptCannotResurrectMissedCall(t *testing.T) {
	f := newFixture(t, 300)

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	stale := s

	f.advance(time.Minute)
	got, err := f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMissed {
		t.Fatalf("status = %s, want missed", got.Status)
	}

	startedAt := f.now.UTC()
	stale.Status = StatusOngoing
	stale.StartedAt = &startedAt
	if _, err := f.store.Update(context.Background(), stale, StatusRinging); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for stale accept, got %v", err)
	}

	got, err = f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMissed {
		t.Fatalf("missed call resurrected to %s", got.Status)
	}
	if _, ok, _ := f.store.FindOpenByPair(context.Background(), s.PairKey); ok {
		t.Fatalf("terminal session must not re-occupy the open-pair slot")
	}
}

// snapshotSweepStore feeds the sweep a fixed stale listing so the race
// between the sweep's read and a concurrent accept is deterministic.
type snapshotSweepStore struct {
	*MemoryStore
	stale []Session
}

func (st *snapshotSweepStore) ListStaleRinging(ctx context.Context, before time.Time) ([]Session, error) {
	return st.stale, nil
}

func TestExpireStaleRinging_SkipsConcurrentlyAcceptedSession(t *testing.T) {
	f := newFixture(t, 300)
	sweepStore := &snapshotSweepStore{MemoryStore: f.store}
	f.orch.store = sweepStore

	s, err := f.orch.Initiate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	sweepStore.stale = []Session{s}

	// The recipient accepts between the sweep's read and its write.
	if _, err := f.orch.UpdateStatus(context.Background(), s.ID, StatusOngoing); err != nil {
		t.Fatalf("accept: %v", err)
	}

	n, err := f.orch.ExpireStaleRinging(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("swept %d sessions, want 0", n)
	}

	got, err := f.orch.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusOngoing {
		t.Fatalf("accepted call clobbered to %s by sweep", got.Status)
	}
}
