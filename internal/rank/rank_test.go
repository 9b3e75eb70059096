package rank

import (
	"context"
	"testing"
	"time"

	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
)

type fakeStore struct {
	totals    []store.UserTotal
	server    int64
	today     map[string]int64
	lifetime  map[string]int64
	days      map[string][]string
	first     map[string]time.Time
	summaries map[string]map[string]int64
}

func (f *fakeStore) TotalsSince(context.Context, time.Time) ([]store.UserTotal, error) {
	return f.totals, nil
}

func (f *fakeStore) ServerSecondsSince(context.Context, time.Time) (int64, error) {
	return f.server, nil
}

func (f *fakeStore) SecondsSince(_ context.Context, userID string, _ time.Time) (int64, error) {
	return f.today[userID], nil
}

func (f *fakeStore) TotalSeconds(_ context.Context, userID string) (int64, error) {
	return f.lifetime[userID], nil
}

func (f *fakeStore) LoggedDays(_ context.Context, userID string, _ *time.Location) ([]string, error) {
	return f.days[userID], nil
}

func (f *fakeStore) FirstLogged(_ context.Context, userID string) (time.Time, error) {
	t, ok := f.first[userID]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) DailySummaries(_ context.Context, userID, _ string) (map[string]int64, error) {
	return f.summaries[userID], nil
}

var wed = time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC) // a Wednesday

func newTestAggregator(st *fakeStore, mgr *session.SessionManager, topN int) *Aggregator {
	a := New(st, mgr, time.UTC, topN)
	a.now = func() time.Time { return wed }
	return a
}

func TestWeeklyRankingOverlaysLiveTime(t *testing.T) {
	st := &fakeStore{totals: []store.UserTotal{
		{UserID: "u1", Username: "alice", Seconds: 3600},
		{UserID: "u2", Username: "bob", Seconds: 5000},
	}}
	mgr := session.NewSessionManager()
	mgr.Join("u1", "alice", wed.Add(-30*time.Minute))
	mgr.Join("u3", "carol", wed.Add(-10*time.Minute))

	entries, err := newTestAggregator(st, mgr, 0).WeeklyRanking(context.Background())
	if err != nil {
		t.Fatalf("WeeklyRanking: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// alice: 3600 stored + 1800 live = 5400, ahead of bob's 5000
	if entries[0].Name != "alice" || entries[0].Seconds != 5400 || !entries[0].Live {
		t.Errorf("top = %+v, want live alice with 5400", entries[0])
	}
	if entries[1].Name != "bob" || entries[1].Live {
		t.Errorf("second = %+v, want non-live bob", entries[1])
	}
	if entries[2].Name != "carol" || entries[2].Seconds != 600 {
		t.Errorf("third = %+v, want live-only carol with 600", entries[2])
	}
	for i, e := range entries {
		if e.Rank != i+1 {
			t.Errorf("entry %d rank = %d", i, e.Rank)
		}
	}
}

func TestWeeklyRankingTopN(t *testing.T) {
	st := &fakeStore{totals: []store.UserTotal{
		{UserID: "u1", Username: "a", Seconds: 300},
		{UserID: "u2", Username: "b", Seconds: 200},
		{UserID: "u3", Username: "c", Seconds: 100},
	}}
	entries, err := newTestAggregator(st, session.NewSessionManager(), 2).WeeklyRanking(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestDailyServerTotal(t *testing.T) {
	st := &fakeStore{server: 7200}
	mgr := session.NewSessionManager()
	mgr.Join("u1", "alice", wed.Add(-15*time.Minute))

	total, err := newTestAggregator(st, mgr, 0).DailyServerTotal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 7200+900 {
		t.Errorf("total = %d, want %d", total, 7200+900)
	}
}

func TestUserStreak(t *testing.T) {
	tests := []struct {
		name string
		days []string // descending, as LoggedDays returns them
		want int
	}{
		{"nothing logged", nil, 1},
		{"only today", []string{"2026-03-11"}, 1},
		{"today and yesterday", []string{"2026-03-11", "2026-03-10"}, 2},
		{"yesterday only, back today", []string{"2026-03-10"}, 2},
		{"three day run", []string{"2026-03-11", "2026-03-10", "2026-03-09"}, 3},
		{"gap breaks the run", []string{"2026-03-11", "2026-03-09", "2026-03-08"}, 1},
		{"old history after gap", []string{"2026-03-08", "2026-03-07"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{days: map[string][]string{"u1": tt.days}}
			got, err := newTestAggregator(st, session.NewSessionManager(), 0).UserStreak(context.Background(), "u1")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("streak = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestContribution(t *testing.T) {
	st := &fakeStore{
		summaries: map[string]map[string]int64{"u1": {
			"2026-03-05": 1800,       // band 1
			"2026-03-07": 2 * 3600,   // band 3
			"2026-03-09": 5 * 3600,   // band 4
		}},
		today: map[string]int64{"u1": 3600},
	}
	mgr := session.NewSessionManager()
	mgr.Join("u1", "alice", wed.Add(-30*time.Minute))

	cells, err := newTestAggregator(st, mgr, 0).Contribution(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 7 {
		t.Fatalf("cells = %d, want 7", len(cells))
	}
	if cells[0].Date != "2026-03-05" || cells[6].Date != "2026-03-11" {
		t.Errorf("range = %s..%s, want 2026-03-05..2026-03-11", cells[0].Date, cells[6].Date)
	}
	wantBands := []int{1, 0, 3, 0, 4, 0, 2}
	for i, want := range wantBands {
		if cells[i].Band != want {
			t.Errorf("day %s band = %d, want %d", cells[i].Date, cells[i].Band, want)
		}
	}
	// today: 3600 stored + 1800 live
	if cells[6].Seconds != 5400 {
		t.Errorf("today = %d, want 5400", cells[6].Seconds)
	}
}

func TestUserStats(t *testing.T) {
	st := &fakeStore{
		lifetime: map[string]int64{"u1": 100 * 3600},
		today:    map[string]int64{"u1": 1200},
		days:     map[string][]string{"u1": {"2026-03-11", "2026-03-10"}},
		first:    map[string]time.Time{"u1": time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)},
	}
	mgr := session.NewSessionManager()
	mgr.Join("u1", "alice", wed.Add(-10*time.Minute))

	stats, err := newTestAggregator(st, mgr, 0).UserStats(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSeconds != 100*3600+600 {
		t.Errorf("total = %d, want %d", stats.TotalSeconds, 100*3600+600)
	}
	if stats.TodaySeconds != 1800 {
		t.Errorf("today = %d, want 1800", stats.TodaySeconds)
	}
	if stats.FirstDay != "2025-11-01" {
		t.Errorf("first day = %s, want 2025-11-01", stats.FirstDay)
	}
	if stats.DaysLogged != 2 || stats.Streak != 2 {
		t.Errorf("days/streak = %d/%d, want 2/2", stats.DaysLogged, stats.Streak)
	}
}

func TestUserStatsNothingLogged(t *testing.T) {
	st := &fakeStore{}
	stats, err := newTestAggregator(st, session.NewSessionManager(), 0).UserStats(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if stats.FirstDay != "" || stats.TotalSeconds != 0 {
		t.Errorf("stats = %+v, want zero values", stats)
	}
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"wednesday", wed, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"monday maps to itself", time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"sunday maps back six days", time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StartOfWeek(tt.in, time.UTC); !got.Equal(tt.want) {
				t.Errorf("StartOfWeek = %s, want %s", got, tt.want)
			}
		})
	}
}
