// Package rank computes the read-side aggregates: weekly rankings, daily
// server totals, streaks, contribution graphs and per-user stats. Stored
// totals are overlaid with the pending portion of live sessions so numbers
// move in real time without counting persisted carry twice.
package rank

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
)

// Store is the read surface the aggregator needs. *store.Store satisfies it.
type Store interface {
	TotalsSince(ctx context.Context, since time.Time) ([]store.UserTotal, error)
	ServerSecondsSince(ctx context.Context, since time.Time) (int64, error)
	SecondsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	TotalSeconds(ctx context.Context, userID string) (int64, error)
	LoggedDays(ctx context.Context, userID string, loc *time.Location) ([]string, error)
	FirstLogged(ctx context.Context, userID string) (time.Time, error)
	DailySummaries(ctx context.Context, userID, fromDate string) (map[string]int64, error)
}

// LiveSource exposes the live table. *session.SessionManager satisfies it.
type LiveSource interface {
	Snapshot(now time.Time) []session.LiveView
}

// Aggregator answers ranking and stats queries.
type Aggregator struct {
	store Store
	live  LiveSource
	loc   *time.Location
	topN  int
	now   func() time.Time
}

// New builds an aggregator. topN caps ranking length; zero means no cap.
func New(st Store, live LiveSource, loc *time.Location, topN int) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: st, live: live, loc: loc, topN: topN, now: time.Now}
}

// ///////////////////////////////////////////////
// Weekly Ranking
// ///////////////////////////////////////////////

// Entry is one ranking row. Live marks users whose clock is running now.
type Entry struct {
	Rank    int
	UserID  string
	Name    string
	Seconds int64
	Live    bool
}

// WeeklyRanking returns this week's ranking, Monday to now, stored totals
// plus pending live time, sorted descending.
func (a *Aggregator) WeeklyRanking(ctx context.Context) ([]Entry, error) {
	now := a.now()
	totals, err := a.store.TotalsSince(ctx, StartOfWeek(now, a.loc))
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*Entry, len(totals))
	entries := make([]*Entry, 0, len(totals))
	for _, t := range totals {
		e := &Entry{UserID: t.UserID, Name: t.Username, Seconds: t.Seconds}
		byUser[t.UserID] = e
		entries = append(entries, e)
	}
	for _, lv := range a.live.Snapshot(now) {
		e, ok := byUser[lv.UserID]
		if !ok {
			e = &Entry{UserID: lv.UserID, Name: lv.Name}
			byUser[lv.UserID] = e
			entries = append(entries, e)
		}
		e.Seconds += lv.Pending
		e.Live = true
		if lv.Name != "" {
			e.Name = lv.Name
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seconds != entries[j].Seconds {
			return entries[i].Seconds > entries[j].Seconds
		}
		return entries[i].Name < entries[j].Name
	})
	if a.topN > 0 && len(entries) > a.topN {
		entries = entries[:a.topN]
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Rank = i + 1
		out[i] = *e
	}
	return out, nil
}

// DailyServerTotal returns everyone's combined seconds for today.
func (a *Aggregator) DailyServerTotal(ctx context.Context) (int64, error) {
	now := a.now()
	total, err := a.store.ServerSecondsSince(ctx, session.StartOfDay(now, a.loc))
	if err != nil {
		return 0, err
	}
	for _, lv := range a.live.Snapshot(now) {
		total += lv.Pending
	}
	return total, nil
}

// ///////////////////////////////////////////////
// Streaks
// ///////////////////////////////////////////////

// UserStreak counts consecutive calendar days with logged time, ending
// today. A user present right now counts today even before anything is
// stored for it, so joining after a gap always reads as day one, and
// joining the day after a logged day reads as day two.
func (a *Aggregator) UserStreak(ctx context.Context, userID string) (int, error) {
	now := a.now()
	days, err := a.store.LoggedDays(ctx, userID, a.loc)
	if err != nil {
		return 0, err
	}
	today := now.In(a.loc)
	streak := 1
	idx := 0
	if len(days) > 0 && days[0] == today.Format("2006-01-02") {
		idx = 1
	}
	expect := today.AddDate(0, 0, -1)
	for _, day := range days[idx:] {
		if day != expect.Format("2006-01-02") {
			break
		}
		streak++
		expect = expect.AddDate(0, 0, -1)
	}
	return streak, nil
}

// ///////////////////////////////////////////////
// Contribution
// ///////////////////////////////////////////////

// DayCell is one day of the 7-day contribution strip. Band buckets the
// total for rendering: 0 none, 1 under an hour, 2 under two, 3 under four,
// 4 four or more.
type DayCell struct {
	Date    string
	Seconds int64
	Band    int
}

// Contribution builds the user's last seven days, oldest first. Past days
// come from the summary table; today is computed from intervals plus live
// pending time because the rollup has not run yet.
func (a *Aggregator) Contribution(ctx context.Context, userID string) ([]DayCell, error) {
	now := a.now()
	today := now.In(a.loc)
	from := today.AddDate(0, 0, -6)

	sums, err := a.store.DailySummaries(ctx, userID, from.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	todaySecs, err := a.store.SecondsSince(ctx, userID, session.StartOfDay(now, a.loc))
	if err != nil {
		return nil, err
	}
	for _, lv := range a.live.Snapshot(now) {
		if lv.UserID == userID {
			todaySecs += lv.Pending
		}
	}

	cells := make([]DayCell, 0, 7)
	for i := 0; i < 7; i++ {
		date := from.AddDate(0, 0, i).Format("2006-01-02")
		secs := sums[date]
		if i == 6 {
			secs = todaySecs
		}
		cells = append(cells, DayCell{Date: date, Seconds: secs, Band: band(secs)})
	}
	return cells, nil
}

func band(seconds int64) int {
	switch {
	case seconds <= 0:
		return 0
	case seconds < 3600:
		return 1
	case seconds < 2*3600:
		return 2
	case seconds < 4*3600:
		return 3
	default:
		return 4
	}
}

// ///////////////////////////////////////////////
// Stats
// ///////////////////////////////////////////////

// Stats is the per-user lifetime summary.
type Stats struct {
	TotalSeconds int64
	TodaySeconds int64
	FirstDay     string // empty when nothing is logged yet
	DaysLogged   int
	Streak       int
}

// UserStats assembles the profile numbers for one user.
func (a *Aggregator) UserStats(ctx context.Context, userID string) (Stats, error) {
	now := a.now()
	var st Stats
	total, err := a.store.TotalSeconds(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	st.TotalSeconds = total

	st.TodaySeconds, err = a.store.SecondsSince(ctx, userID, session.StartOfDay(now, a.loc))
	if err != nil {
		return Stats{}, err
	}
	for _, lv := range a.live.Snapshot(now) {
		if lv.UserID == userID {
			st.TotalSeconds += lv.Pending
			st.TodaySeconds += lv.Pending
		}
	}

	first, err := a.store.FirstLogged(ctx, userID)
	switch {
	case err == nil:
		st.FirstDay = first.In(a.loc).Format("2006-01-02")
	case errors.Is(err, store.ErrNotFound):
	default:
		return Stats{}, err
	}

	days, err := a.store.LoggedDays(ctx, userID, a.loc)
	if err != nil {
		return Stats{}, err
	}
	st.DaysLogged = len(days)

	st.Streak, err = a.UserStreak(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// StartOfWeek returns midnight of the current week's Monday in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	offset := (int(lt.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -offset)
}
