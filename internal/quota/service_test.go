package quota

import (
	"context"
	"testing"
	"time"

	"matchline/internal/pairkey"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(capSeconds int64) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, capSeconds, PeriodMonthly)
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	svc.clock = fixedClock(now)
	repo.clock = fixedClock(now)
	return svc, repo
}

func TestPeriodKey(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	if got := PeriodMonthly.Key(now); got != "2026-08" {
		t.Fatalf("monthly key = %q, want 2026-08", got)
	}
	if got := PeriodAllTime.Key(now); got != "alltime" {
		t.Fatalf("alltime key = %q, want alltime", got)
	}
}

func TestGetRemaining_LazyInit(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	rem, err := svc.GetRemaining(context.Background(), key)
	if err != nil {
		t.Fatalf("GetRemaining: %v", err)
	}
	if rem.UsedSeconds != 0 || rem.CapSeconds != 300 || rem.RemainingSeconds != 300 {
		t.Fatalf("unexpected remaining: %+v", rem)
	}
	if !rem.HasRemaining {
		t.Fatalf("expected HasRemaining for fresh pair")
	}
}

func TestCommit_Accumulates(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	durations := []int64{30, 45, 10}
	var want int64
	for i, d := range durations {
		want += d
		e, err := svc.Commit(context.Background(), key, d, sid(i), "alice")
		if err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
		if e.UsedSeconds != want {
			t.Fatalf("UsedSeconds = %d, want %d", e.UsedSeconds, want)
		}
	}

	rem, err := svc.GetRemaining(context.Background(), key)
	if err != nil {
		t.Fatalf("GetRemaining: %v", err)
	}
	if rem.RemainingSeconds != 300-want {
		t.Fatalf("RemainingSeconds = %d, want %d", rem.RemainingSeconds, 300-want)
	}
}

func TestCommit_IdempotentPerSession(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	if _, err := svc.Commit(context.Background(), key, 60, "s1", "alice"); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	e, err := svc.Commit(context.Background(), key, 60, "s1", "alice")
	if err != nil {
		t.Fatalf("duplicate commit: %v", err)
	}
	if e.UsedSeconds != 60 {
		t.Fatalf("UsedSeconds = %d after duplicate commit, want 60", e.UsedSeconds)
	}
	if len(e.Contributions) != 1 {
		t.Fatalf("contributions = %d, want 1", len(e.Contributions))
	}
}

func TestCommit_OverageAcceptedAndLimitStamped(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	if _, err := svc.Commit(context.Background(), key, 280, "s1", "alice"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// cap 300, 280 used, a 40s call completes: overage accepted, not clamped.
	e, err := svc.Commit(context.Background(), key, 40, "s2", "bob")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if e.UsedSeconds != 320 {
		t.Fatalf("UsedSeconds = %d, want 320", e.UsedSeconds)
	}
	if e.LimitReachedAt == nil {
		t.Fatalf("expected LimitReachedAt after crossing cap")
	}
	stamp := *e.LimitReachedAt

	// Later commits must not move the stamp.
	e, err = svc.Commit(context.Background(), key, 5, "s3", "alice")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if e.LimitReachedAt == nil || !e.LimitReachedAt.Equal(stamp) {
		t.Fatalf("LimitReachedAt moved: %v -> %v", stamp, e.LimitReachedAt)
	}

	rem, err := svc.GetRemaining(context.Background(), key)
	if err != nil {
		t.Fatalf("GetRemaining: %v", err)
	}
	if rem.RemainingSeconds != 0 || rem.HasRemaining {
		t.Fatalf("expected exhausted pair, got %+v", rem)
	}
}

func TestCommit_ExactCapStampsLimit(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	e, err := svc.Commit(context.Background(), key, 300, "s1", "alice")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if e.LimitReachedAt == nil {
		t.Fatalf("expected LimitReachedAt at exact cap")
	}
}

func TestReset_ClearsUsageAndStamp(t *testing.T) {
	svc, _ := newTestService(100)
	key := pairkey.Normalize("alice", "bob")

	if _, err := svc.Commit(context.Background(), key, 150, "s1", "alice"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := svc.Reset(context.Background(), key); err != nil {
		t.Fatalf("reset: %v", err)
	}

	rem, err := svc.GetRemaining(context.Background(), key)
	if err != nil {
		t.Fatalf("GetRemaining: %v", err)
	}
	if rem.UsedSeconds != 0 || !rem.HasRemaining {
		t.Fatalf("expected cleared usage, got %+v", rem)
	}

	e, ok, err := svc.repo.Get(context.Background(), key, svc.PeriodKey())
	if err != nil || !ok {
		t.Fatalf("repo get: ok=%v err=%v", ok, err)
	}
	if e.LimitReachedAt != nil {
		t.Fatalf("expected cleared limit stamp")
	}
	if len(e.Contributions) != 0 {
		t.Fatalf("expected cleared history, got %d contributions", len(e.Contributions))
	}
}

func TestService_RejectsInvalidArgs(t *testing.T) {
	svc, _ := newTestService(300)
	key := pairkey.Normalize("alice", "bob")

	if _, err := svc.GetRemaining(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Commit(context.Background(), key, -1, "s1", "alice"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for negative duration, got %v", err)
	}
	if _, err := svc.Commit(context.Background(), key, 10, "", "alice"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for empty session id, got %v", err)
	}
	if err := svc.Reset(context.Background(), ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func sid(i int) string {
	return string(rune('a'+i)) + "-session"
}
