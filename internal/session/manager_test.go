package session

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func TestJoinIdempotent(t *testing.T) {
	m := NewSessionManager()
	if !m.Join("u1", "alice", t0) {
		t.Fatal("first Join should open a session")
	}
	if m.Join("u1", "alice", t0.Add(time.Minute)) {
		t.Error("redelivered Join should be a no-op")
	}
	if got, _ := m.Elapsed("u1", t0.Add(time.Minute)); got != 60 {
		t.Errorf("elapsed = %d, want 60 (anchor must not move)", got)
	}
}

// Join, mute after 10 minutes, unmute after 5 more, leave 25 minutes later.
// Exactly one interval of 2100 seconds must be billed.
func TestPauseResumeStopBilling(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)

	carried, ok := m.Pause("u1", t0.Add(10*time.Minute))
	if !ok || carried != 600 {
		t.Fatalf("Pause carried = %d, %v; want 600, true", carried, ok)
	}
	if !m.Resume("u1", "alice", t0.Add(15*time.Minute)) {
		t.Fatal("Resume should reopen the session")
	}

	var persisted []StopResult
	res, err := m.CloseSession("u1", t0.Add(40*time.Minute), func(r StopResult) error {
		persisted = append(persisted, r)
		return nil
	})
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted %d intervals, want 1", len(persisted))
	}
	if res.SessionSeconds != 2100 {
		t.Errorf("SessionSeconds = %d, want 2100", res.SessionSeconds)
	}
	if res.DisplaySeconds != 2100 {
		t.Errorf("DisplaySeconds = %d, want 2100", res.DisplaySeconds)
	}
	if res.BreakSeconds != 300 {
		t.Errorf("BreakSeconds = %d, want 300", res.BreakSeconds)
	}
	if got := res.End.Sub(res.Start); got != 2100*time.Second {
		t.Errorf("End-Start = %s, want 35m0s", got)
	}
	if m.IsLive("u1") {
		t.Error("user should be cleared after a settled stop")
	}
}

func TestCloseSessionWhileOnBreak(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)
	m.Pause("u1", t0.Add(10*time.Minute))

	res, err := m.CloseSession("u1", t0.Add(12*time.Minute), func(StopResult) error { return nil })
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if res.SessionSeconds != 600 {
		t.Errorf("SessionSeconds = %d, want 600 (break time excluded)", res.SessionSeconds)
	}
	if res.BreakSeconds != 120 {
		t.Errorf("BreakSeconds = %d, want 120", res.BreakSeconds)
	}
}

func TestCloseSessionNothingToBill(t *testing.T) {
	m := NewSessionManager()
	if _, err := m.CloseSession("ghost", t0, nil); !errors.Is(err, ErrNotLive) {
		t.Errorf("err = %v, want ErrNotLive", err)
	}
}

func TestCloseSessionPersistFailureKeepsState(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)
	boom := errors.New("disk full")
	if _, err := m.CloseSession("u1", t0.Add(time.Hour), func(StopResult) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped persist error", err)
	}
	if !m.IsLive("u1") {
		t.Error("failed persist must not drop the session")
	}
}

// A split must not change what the user sees and must bill pause carry
// exactly once.
func TestReanchorPreservesDisplayAndBillsCarryOnce(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)
	m.Pause("u1", t0.Add(1*time.Minute))
	m.Resume("u1", "alice", t0.Add(2*time.Minute))

	before, _ := m.Elapsed("u1", t0.Add(3*time.Minute))
	if before != 120 {
		t.Fatalf("pre-split elapsed = %d, want 120", before)
	}

	bill, err := m.Reanchor("u1", t0.Add(3*time.Minute), func(_ string, seconds int64) error {
		if seconds != 120 {
			t.Errorf("split persisted %d, want 120 (60 live + 60 carry)", seconds)
		}
		return nil
	})
	if err != nil || bill != 120 {
		t.Fatalf("Reanchor = %d, %v; want 120, nil", bill, err)
	}

	after, _ := m.Elapsed("u1", t0.Add(3*time.Minute))
	if after != before {
		t.Errorf("split changed display: %d != %d", after, before)
	}

	// carry already billed; the final stop bills only the new slice
	res, err := m.CloseSession("u1", t0.Add(4*time.Minute), func(StopResult) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionSeconds != 60 {
		t.Errorf("post-split stop billed %d, want 60", res.SessionSeconds)
	}
	if res.DisplaySeconds != 180 {
		t.Errorf("post-split display = %d, want 180", res.DisplaySeconds)
	}
}

func TestReanchorPersistFailureLeavesAnchor(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)
	boom := errors.New("locked")
	if _, err := m.Reanchor("u1", t0.Add(time.Minute), func(string, int64) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want persist error", err)
	}
	if got, _ := m.Elapsed("u1", t0.Add(2*time.Minute)); got != 120 {
		t.Errorf("elapsed = %d, want 120 (anchor must not move on failure)", got)
	}
}

func TestRecoverCarryIsDisplayOnly(t *testing.T) {
	m := NewSessionManager()
	m.Recover("u1", "alice", t0, 500)
	if got, _ := m.Elapsed("u1", t0.Add(10*time.Second)); got != 510 {
		t.Errorf("elapsed = %d, want 510", got)
	}
	res, err := m.CloseSession("u1", t0.Add(10*time.Second), func(StopResult) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionSeconds != 10 {
		t.Errorf("billed %d, want 10 (carry was already stored)", res.SessionSeconds)
	}
	if res.DisplaySeconds != 510 {
		t.Errorf("display = %d, want 510", res.DisplaySeconds)
	}
}

func TestFlushAll(t *testing.T) {
	m := NewSessionManager()
	m.Join("live", "alice", t0)
	m.Join("paused", "bob", t0)
	m.Pause("paused", t0.Add(5*time.Minute))
	m.Join("fresh-break", "carol", t0.Add(10*time.Minute))
	m.Pause("fresh-break", t0.Add(10*time.Minute))

	flushed := make(map[string]int64)
	saved := m.FlushAll(t0.Add(20*time.Minute), func(userID, _ string, seconds int64) error {
		flushed[userID] = seconds
		return nil
	})
	if saved != 2 {
		t.Fatalf("saved = %d, want 2", saved)
	}
	if flushed["live"] != 1200 {
		t.Errorf("live user flushed %d, want 1200", flushed["live"])
	}
	if flushed["paused"] != 300 {
		t.Errorf("paused user flushed %d, want 300 (unbilled carry only)", flushed["paused"])
	}
	if _, ok := flushed["fresh-break"]; ok {
		t.Error("zero-second break session should not be persisted")
	}
	if m.LiveCount() != 0 {
		t.Error("table should be empty after flush")
	}
}

func TestSnapshotOrder(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0.Add(-10*time.Minute))
	m.Join("u2", "bob", t0.Add(-30*time.Minute))
	m.Join("u3", "carol", t0)
	m.Pause("u3", t0) // on break, excluded

	views := m.Snapshot(t0)
	if len(views) != 2 {
		t.Fatalf("snapshot has %d rows, want 2", len(views))
	}
	if views[0].UserID != "u2" || views[1].UserID != "u1" {
		t.Errorf("order = %s, %s; want u2, u1", views[0].UserID, views[1].UserID)
	}
	if views[0].Elapsed != 1800 {
		t.Errorf("top elapsed = %d, want 1800", views[0].Elapsed)
	}
}

func TestClockSkewClampsToZero(t *testing.T) {
	m := NewSessionManager()
	m.Join("u1", "alice", t0)
	persists := 0
	res, err := m.CloseSession("u1", t0.Add(-time.Minute), func(StopResult) error {
		persists++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionSeconds != 0 {
		t.Errorf("billed %d for a backwards clock, want 0", res.SessionSeconds)
	}
	if persists != 0 {
		t.Error("zero-length bill should not be persisted")
	}
	if m.IsLive("u1") {
		t.Error("user should still be cleared")
	}
}
