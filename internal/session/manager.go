package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotLive is returned by operations that require an open live session.
var ErrNotLive = errors.New("session: user has no live session")

// ///////////////////////////////////////////////
// Session Manager
// ///////////////////////////////////////////////

// SessionManager is the in-memory live table. It holds, per user:
//
//	live      the wall-clock anchor of the currently running slice
//	offset    seconds shown on top of the running slice (carry from pauses
//	          and from maintenance splits of the same sitting)
//	unbilled  the part of offset that has not reached the store yet; pauses
//	          park elapsed time here until the next stop or split bills it
//	break     when the current break began, and break time already folded
//
// Display elapsed is always (now - live) + offset. Amounts that get
// persisted are always (now - live) + unbilled, so stored history and the
// display can never disagree by more than the currently running slice.
//
// All state lives behind one mutex. Persistence callbacks run inside the
// lock so a split, a stop and a shutdown flush can never interleave on the
// same user; SQLite writes are short enough that this does not hurt.
type SessionManager struct {
	mu         sync.Mutex
	live       map[string]time.Time
	names      map[string]string
	offset     map[string]int64
	unbilled   map[string]int64
	breakFrom  map[string]time.Time
	breakTotal map[string]int64
}

// NewSessionManager returns an empty live table.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		live:       make(map[string]time.Time),
		names:      make(map[string]string),
		offset:     make(map[string]int64),
		unbilled:   make(map[string]int64),
		breakFrom:  make(map[string]time.Time),
		breakTotal: make(map[string]int64),
	}
}

// Join opens a fresh live session anchored at now, discarding any stale
// carry left by an unclean shutdown. It reports false when the user is
// already live, which makes redelivered join events a no-op.
func (m *SessionManager) Join(userID, name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[userID]; ok {
		return false
	}
	m.clearLocked(userID)
	m.live[userID] = now
	m.names[userID] = name
	return true
}

// Pause closes the running slice into the carry and starts break tracking.
// It returns the carried total so far and reports false when there is no
// running slice to pause (redelivery, or a pause seen before any join).
func (m *SessionManager) Pause(userID string, now time.Time) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.live[userID]
	if !ok {
		return 0, false
	}
	elapsed := clampSeconds(now.Sub(start))
	delete(m.live, userID)
	m.offset[userID] += elapsed
	m.unbilled[userID] += elapsed
	m.breakFrom[userID] = now
	return m.offset[userID], true
}

// Resume ends the break and opens a new running slice on top of the carried
// offset. It reports false when the user is already live.
func (m *SessionManager) Resume(userID, name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[userID]; ok {
		return false
	}
	if from, ok := m.breakFrom[userID]; ok {
		m.breakTotal[userID] += clampSeconds(now.Sub(from))
		delete(m.breakFrom, userID)
	}
	m.live[userID] = now
	m.names[userID] = name
	return true
}

// StopResult describes the session a CloseSession call settled.
type StopResult struct {
	// Start is the anchor the interval is recorded against. It is derived
	// as End minus SessionSeconds so duration and the stored window agree
	// even when pause carry predates the final slice.
	Start time.Time
	// End is the wall clock at stop time.
	End time.Time
	// SessionSeconds is the billed amount: the running slice plus any carry
	// not yet persisted by a maintenance split.
	SessionSeconds int64
	// DisplaySeconds is the full on-screen figure at stop time, including
	// carry that earlier splits already stored.
	DisplaySeconds int64
	// BreakSeconds is accumulated silenced time, excluded from the bill.
	BreakSeconds int64
	// Name is the display name last seen for the user.
	Name string
}

// CloseSession settles a departing user. The billable amount is computed
// under the lock, handed to persist, and the user's state is cleared only
// if persist succeeds; on error everything is left in place and the error
// returned, so a failed write under-reports instead of corrupting state.
//
// A user with neither a running slice nor unbilled carry (pure break with
// nothing pending, or a redelivered stop) is a no-op returning ErrNotLive.
func (m *SessionManager) CloseSession(userID string, now time.Time, persist func(StopResult) error) (StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, isLive := m.live[userID]
	if from, ok := m.breakFrom[userID]; ok {
		m.breakTotal[userID] += clampSeconds(now.Sub(from))
		delete(m.breakFrom, userID)
	}

	bill := m.unbilled[userID]
	if isLive {
		bill += clampSeconds(now.Sub(start))
	}
	if !isLive && bill == 0 {
		m.clearLocked(userID)
		return StopResult{}, ErrNotLive
	}

	res := StopResult{
		Start:          now.Add(-time.Duration(bill) * time.Second),
		End:            now,
		SessionSeconds: bill,
		DisplaySeconds: m.offset[userID],
		BreakSeconds:   m.breakTotal[userID],
		Name:           m.names[userID],
	}
	if isLive {
		res.DisplaySeconds += clampSeconds(now.Sub(start))
	}

	if persist != nil && bill > 0 {
		if err := persist(res); err != nil {
			return StopResult{}, err
		}
	}
	m.clearLocked(userID)
	return res, nil
}

// Reanchor persists the elapsed slice of a live session and restarts its
// clock at now, all under the lock. The persisted amount includes unbilled
// pause carry; the display offset grows by exactly the elapsed slice, so
// the on-screen figure is unchanged by a split. On persist failure the
// session is left untouched.
func (m *SessionManager) Reanchor(userID string, now time.Time, persist func(name string, seconds int64) error) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.live[userID]
	if !ok {
		return 0, ErrNotLive
	}
	elapsed := clampSeconds(now.Sub(start))
	bill := elapsed + m.unbilled[userID]
	if persist != nil && bill > 0 {
		if err := persist(m.names[userID], bill); err != nil {
			return 0, err
		}
	}
	m.offset[userID] += elapsed
	m.unbilled[userID] = 0
	m.live[userID] = now
	return bill, nil
}

// Recover seeds a live session for a user observed in voice at startup.
// offset becomes display carry only; it was already persisted before the
// restart, so nothing is owed to the store.
func (m *SessionManager) Recover(userID, name string, now time.Time, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(userID)
	m.live[userID] = now
	m.names[userID] = name
	if offset > 0 {
		m.offset[userID] = offset
	}
}

// FlushAll persists what every user is owed at shutdown: the running slice
// plus unbilled carry for live users, bare unbilled carry for paused ones.
// Persist failures skip the user; the count of successful flushes is
// returned. The table is empty afterwards.
func (m *SessionManager) FlushAll(now time.Time, persist func(userID, name string, seconds int64) error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := 0
	for userID := range m.names {
		bill := m.unbilled[userID]
		if start, ok := m.live[userID]; ok {
			bill += clampSeconds(now.Sub(start))
		}
		if bill > 0 && persist != nil {
			if err := persist(userID, m.names[userID], bill); err != nil {
				continue
			}
			saved++
		}
		m.clearLocked(userID)
	}
	return saved
}

// ///////////////////////////////////////////////
// Views
// ///////////////////////////////////////////////

// LiveView is a read-only snapshot row for boards and rankings.
type LiveView struct {
	UserID string
	Name   string
	Start  time.Time
	// Elapsed is the display figure: running slice plus all carry.
	Elapsed int64
	// Pending is the part of Elapsed the store has not seen yet. Rankings
	// add Pending on top of stored totals so carry that earlier splits
	// persisted is never counted twice.
	Pending int64
}

// Snapshot lists live sessions ordered by descending elapsed time. Users on
// break are not included; their clock is not running.
func (m *SessionManager) Snapshot(now time.Time) []LiveView {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]LiveView, 0, len(m.live))
	for userID, start := range m.live {
		slice := clampSeconds(now.Sub(start))
		views = append(views, LiveView{
			UserID:  userID,
			Name:    m.names[userID],
			Start:   start,
			Elapsed: slice + m.offset[userID],
			Pending: slice + m.unbilled[userID],
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Elapsed != views[j].Elapsed {
			return views[i].Elapsed > views[j].Elapsed
		}
		return views[i].UserID < views[j].UserID
	})
	return views
}

// LiveUserIDs returns the users with a running slice, in stable order.
func (m *SessionManager) LiveUserIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.live))
	for userID := range m.live {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// IsLive reports whether the user has a running slice.
func (m *SessionManager) IsLive(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[userID]
	return ok
}

// Elapsed returns the display seconds for a live user.
func (m *SessionManager) Elapsed(userID string, now time.Time) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.live[userID]
	if !ok {
		return 0, false
	}
	return clampSeconds(now.Sub(start)) + m.offset[userID], true
}

// LiveCount returns the number of running sessions.
func (m *SessionManager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *SessionManager) clearLocked(userID string) {
	delete(m.live, userID)
	delete(m.names, userID)
	delete(m.offset, userID)
	delete(m.unbilled, userID)
	delete(m.breakFrom, userID)
	delete(m.breakTotal, userID)
}

func clampSeconds(d time.Duration) int64 {
	s := int64(d.Seconds())
	if s < 0 {
		return 0
	}
	return s
}
