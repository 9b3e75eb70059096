package session

import (
	"context"
	"testing"
	"time"
)

func newTestMaintenance(mgr *SessionManager, st *fakeStore, clock *fakeClock, cfg MaintenanceConfig) (*Maintenance, *fakeNotifier) {
	notify := &fakeNotifier{}
	j := NewMaintenance(mgr, st, notify, testLogger(), cfg)
	j.now = clock.now
	return j, notify
}

func TestMaintenanceSplitsLiveSessions(t *testing.T) {
	st := newFakeStore()
	mgr := NewSessionManager()
	// t0 is 09:00; pretend the run happens at 23:59 the same day
	runAt := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	clock := newFakeClock(runAt)
	mgr.Join("u1", "alice", runAt.Add(-2*time.Hour))
	mgr.Join("u2", "bob", runAt.Add(-30*time.Minute))
	st.failFor["u2"] = true

	j, _ := newTestMaintenance(mgr, st, clock, MaintenanceConfig{KeepLogDays: 30, KeepSummaryDays: 365})
	res, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Splits != 1 || res.SplitFailures != 1 {
		t.Fatalf("splits = %d/%d failures, want 1/1", res.Splits, res.SplitFailures)
	}

	// u1 re-anchored with display preserved
	if got, _ := mgr.Elapsed("u1", runAt.Add(time.Minute)); got != 2*3600+60 {
		t.Errorf("u1 elapsed = %d, want %d", got, 2*3600+60)
	}
	// u2 untouched, still anchored at the original join
	if got, _ := mgr.Elapsed("u2", runAt.Add(time.Minute)); got != 31*60 {
		t.Errorf("u2 elapsed = %d, want %d (failed split must not move the anchor)", got, 31*60)
	}

	ivs := st.storedIntervals()
	if len(ivs) != 1 || ivs[0].UserID != "u1" || ivs[0].Duration != 7200 {
		t.Fatalf("stored %v, want one 7200s interval for u1", ivs)
	}
	if !st.vacuumed {
		t.Error("vacuum should run")
	}
}

func TestMaintenanceRollupAndPrune(t *testing.T) {
	st := newFakeStore()
	mgr := NewSessionManager()
	runAt := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	clock := newFakeClock(runAt)
	mgr.Join("u1", "alice", runAt.Add(-time.Hour))

	j, _ := newTestMaintenance(mgr, st, clock, MaintenanceConfig{KeepLogDays: 30, KeepSummaryDays: 365})
	res, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := st.summaries["u1|2026-03-09"]; got != 3600 {
		t.Errorf("summary = %d, want 3600", got)
	}
	if len(res.Totals) != 1 || res.Totals[0].Seconds != 3600 {
		t.Errorf("totals = %v, want one 3600s entry", res.Totals)
	}

	wantLogCutoff := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	if !st.logsPruned.Equal(wantLogCutoff) {
		t.Errorf("log cutoff = %s, want %s", st.logsPruned, wantLogCutoff)
	}
	if st.sumsPruned != "2025-03-09" {
		t.Errorf("summary cutoff = %s, want 2025-03-09", st.sumsPruned)
	}
}

func TestMaintenanceMilestoneDuringSplit(t *testing.T) {
	st := newFakeStore()
	mgr := NewSessionManager()
	runAt := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	clock := newFakeClock(runAt)
	// 9h30m on the books, 40 minutes live: the split crosses 10h
	mgr.Join("u1", "alice", runAt.Add(-40*time.Minute))
	seedCorrection(t, st, "u1", 9*3600+1800)

	badges := &fakeBadges{}
	j, notify := newTestMaintenance(mgr, st, clock, MaintenanceConfig{
		Badges:     badges,
		Milestones: func() []Milestone { return []Milestone{{Hours: 10, Badge: "Bronze"}} },
	})
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(badges.grants) != 1 || badges.grants[0] != "u1:Bronze" {
		t.Errorf("grants = %v, want [u1:Bronze]", badges.grants)
	}
	if len(notify.milestones) != 1 {
		t.Errorf("milestone notices = %d, want 1", len(notify.milestones))
	}
}

func seedCorrection(t *testing.T, st *fakeStore, userID string, seconds int64) {
	t.Helper()
	end := time.Date(2026, 3, 8, 20, 0, 0, 0, time.UTC)
	st.intervals = append(st.intervals, storeInterval(userID, end, seconds))
}
