package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/studycord/studycord/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory stand-in satisfying the store interfaces the
// session package consumes.
type fakeStore struct {
	mu         sync.Mutex
	intervals  []store.Interval
	summaries  map[string]int64 // userID|date -> seconds
	panels     []store.PanelState
	failFor    map[string]bool // userID -> AppendInterval fails
	vacuumed   bool
	logsPruned time.Time
	sumsPruned string
}

func newFakeStore() *fakeStore {
	return &fakeStore{summaries: make(map[string]int64), failFor: make(map[string]bool)}
}

func (f *fakeStore) AppendInterval(_ context.Context, iv store.Interval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[iv.UserID] {
		return errors.New("append refused")
	}
	f.intervals = append(f.intervals, iv)
	return nil
}

func (f *fakeStore) SecondsSince(_ context.Context, userID string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, iv := range f.intervals {
		if iv.UserID == userID && !iv.Start.Before(since) {
			sum += iv.Duration
		}
	}
	return sum, nil
}

func (f *fakeStore) TotalSeconds(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, iv := range f.intervals {
		if iv.UserID == userID {
			sum += iv.Duration
		}
	}
	return sum, nil
}

func (f *fakeStore) LastInterval(_ context.Context, userID string) (store.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last store.Interval
	found := false
	for _, iv := range f.intervals {
		if iv.UserID == userID && (!found || iv.End.After(last.End)) {
			last, found = iv, true
		}
	}
	if !found {
		return store.Interval{}, store.ErrNotFound
	}
	return last, nil
}

func (f *fakeStore) TotalsSince(_ context.Context, since time.Time) ([]store.UserTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byUser := make(map[string]*store.UserTotal)
	var order []string
	for _, iv := range f.intervals {
		if iv.Start.Before(since) {
			continue
		}
		t, ok := byUser[iv.UserID]
		if !ok {
			t = &store.UserTotal{UserID: iv.UserID, Username: iv.Username}
			byUser[iv.UserID] = t
			order = append(order, iv.UserID)
		}
		t.Seconds += iv.Duration
		t.Username = iv.Username
	}
	totals := make([]store.UserTotal, 0, len(order))
	for _, id := range order {
		totals = append(totals, *byUser[id])
	}
	return totals, nil
}

func (f *fakeStore) UpsertDailySummary(_ context.Context, userID, _ string, date string, seconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[userID+"|"+date] = seconds
	return nil
}

func (f *fakeStore) DeleteIntervalsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsPruned = cutoff
	var kept []store.Interval
	var n int64
	for _, iv := range f.intervals {
		if iv.End.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, iv)
	}
	f.intervals = kept
	return n, nil
}

func (f *fakeStore) DeleteSummariesBefore(_ context.Context, cutoffDate string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sumsPruned = cutoffDate
	return 0, nil
}

func (f *fakeStore) Vacuum(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuumed = true
	return nil
}

func (f *fakeStore) OpenJoinPanels(_ context.Context) ([]store.PanelState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.PanelState(nil), f.panels...), nil
}

func (f *fakeStore) storedIntervals() []store.Interval {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Interval(nil), f.intervals...)
}

// fakeNotifier records lifecycle calls by kind.
type fakeNotifier struct {
	mu         sync.Mutex
	started    []UserRef
	paused     []UserRef
	resumed    []UserRef
	stopped    []StopNotice
	milestones []Milestone
	stale      []string
}

func (f *fakeNotifier) SessionStarted(_ context.Context, u UserRef, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, u)
	return nil
}

func (f *fakeNotifier) SessionPaused(_ context.Context, u UserRef, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, u)
	return nil
}

func (f *fakeNotifier) SessionResumed(_ context.Context, u UserRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, u)
	return nil
}

func (f *fakeNotifier) SessionStopped(_ context.Context, _ UserRef, n StopNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, n)
	return nil
}

func (f *fakeNotifier) MilestoneReached(_ context.Context, _ UserRef, m Milestone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones = append(f.milestones, m)
	return nil
}

func (f *fakeNotifier) StaleDeparture(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = append(f.stale, userID)
	return nil
}

// fakeBadges records grants and treats repeats as no-ops.
type fakeBadges struct {
	mu     sync.Mutex
	grants []string
}

func (f *fakeBadges) Grant(_ context.Context, userID, badge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, userID+":"+badge)
	return nil
}

type fakeRoster struct {
	members []Member
	err     error
}

func (f *fakeRoster) ActiveMembers(context.Context) ([]Member, error) {
	return f.members, f.err
}

func storeInterval(userID string, end time.Time, seconds int64) store.Interval {
	return store.Interval{
		UserID:   userID,
		Username: userID,
		Start:    end.Add(-time.Duration(seconds) * time.Second),
		Duration: seconds,
		End:      end,
	}
}

var (
	inVoice  = Presence{ChannelID: "vc1"}
	muted    = Presence{ChannelID: "vc1", SelfMute: true}
	deafened = Presence{ChannelID: "vc1", SelfDeaf: true}
	gone     = Presence{}
)
