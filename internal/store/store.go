// Package store implements the durable session store on SQLite.
//
// The store holds closed study intervals, per-user-per-day rollups that
// survive raw log pruning, panel message references, per-user task text, and
// personal countdown timers. All timestamps are persisted as RFC 3339 UTC
// strings so range predicates can compare lexicographically; calendar-day
// derivation happens in Go against the caller's timezone.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS study_logs (
  user_id          TEXT NOT NULL,
  username         TEXT NOT NULL,
  start_time       TEXT NOT NULL,
  duration_seconds INTEGER NOT NULL,
  created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_summary (
  user_id       TEXT NOT NULL,
  username      TEXT NOT NULL,
  date          TEXT NOT NULL,
  total_seconds INTEGER NOT NULL,
  PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS message_states (
  user_id      TEXT PRIMARY KEY,
  join_msg_id  TEXT NOT NULL DEFAULT '',
  leave_msg_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_tasks (
  user_id TEXT PRIMARY KEY,
  task    TEXT NOT NULL DEFAULT '',
  reading TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS personal_timers (
  id       INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id  TEXT NOT NULL,
  end_time TEXT NOT NULL,
  minutes  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_study_logs_user_created ON study_logs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_study_logs_created ON study_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_daily_summary_date ON daily_summary(date);
CREATE INDEX IF NOT EXISTS idx_personal_timers_end_time ON personal_timers(end_time);
`

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Interval is one closed, billed slice of study time.
type Interval struct {
	UserID   string
	Username string
	Start    time.Time
	Duration int64 // whole seconds
	End      time.Time
}

// UserTotal is an aggregate of seconds per user.
type UserTotal struct {
	UserID   string
	Username string
	Seconds  int64
}

// PanelState references the panel messages currently representing a user.
type PanelState struct {
	UserID     string
	JoinMsgID  string
	LeaveMsgID string
}

// Timer is a pending personal countdown timer.
type Timer struct {
	ID      int64
	UserID  string
	End     time.Time
	Minutes int
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// ///////////////////////////////////////////////
// Lifecycle
// ///////////////////////////////////////////////

// Open opens (creating if needed) the store at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY between the event path and the maintenance batch.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ts formats a timestamp for storage.
func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// parseTS parses a stored timestamp.
func parseTS(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

// ///////////////////////////////////////////////
// Study Intervals
// ///////////////////////////////////////////////

// AppendInterval records one closed interval. Intervals are append-only
// facts; the username is denormalized at write time on purpose.
func (s *Store) AppendInterval(ctx context.Context, iv Interval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO study_logs (user_id, username, start_time, duration_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		iv.UserID, iv.Username, ts(iv.Start), iv.Duration, ts(iv.End))
	if err != nil {
		return fmt.Errorf("append interval: %w", err)
	}
	return nil
}

// SecondsSince sums one user's interval seconds recorded at or after since.
func (s *Store) SecondsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(duration_seconds) FROM study_logs WHERE user_id = ? AND created_at >= ?`,
		userID, ts(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum since: %w", err)
	}
	return total.Int64, nil
}

// TotalSeconds sums one user's all-time interval seconds.
func (s *Store) TotalSeconds(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(duration_seconds) FROM study_logs WHERE user_id = ?`,
		userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum total: %w", err)
	}
	return total.Int64, nil
}

// LastInterval returns the user's most recently recorded interval.
// Returns ErrNotFound when the user has none.
func (s *Store) LastInterval(ctx context.Context, userID string) (Interval, error) {
	var iv Interval
	var start, end string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, start_time, duration_seconds, created_at
		 FROM study_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID).Scan(&iv.UserID, &iv.Username, &start, &iv.Duration, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return Interval{}, ErrNotFound
	}
	if err != nil {
		return Interval{}, fmt.Errorf("last interval: %w", err)
	}
	if iv.Start, err = parseTS(start); err != nil {
		return Interval{}, fmt.Errorf("last interval start: %w", err)
	}
	if iv.End, err = parseTS(end); err != nil {
		return Interval{}, fmt.Errorf("last interval end: %w", err)
	}
	return iv, nil
}

// TotalsSince returns per-user interval sums recorded at or after since,
// ordered by total descending. The username of a user's most recent interval
// wins, so reports show the latest known name.
func (s *Store) TotalsSince(ctx context.Context, since time.Time) ([]UserTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id,
		        (SELECT username FROM study_logs b
		         WHERE b.user_id = study_logs.user_id ORDER BY b.created_at DESC LIMIT 1),
		        SUM(duration_seconds) AS total
		 FROM study_logs
		 WHERE created_at >= ?
		 GROUP BY user_id
		 ORDER BY total DESC`,
		ts(since))
	if err != nil {
		return nil, fmt.Errorf("totals since: %w", err)
	}
	defer rows.Close()

	var out []UserTotal
	for rows.Next() {
		var ut UserTotal
		if err := rows.Scan(&ut.UserID, &ut.Username, &ut.Seconds); err != nil {
			return nil, fmt.Errorf("totals since scan: %w", err)
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

// ServerSecondsSince sums all users' interval seconds recorded at or after since.
func (s *Store) ServerSecondsSince(ctx context.Context, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(duration_seconds) FROM study_logs WHERE created_at >= ?`,
		ts(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("server sum since: %w", err)
	}
	return total.Int64, nil
}

// LoggedDays returns the distinct calendar days (in loc) on which the user
// recorded intervals, most recent first.
func (s *Store) LoggedDays(ctx context.Context, userID string, loc *time.Location) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at FROM study_logs WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("logged days: %w", err)
	}
	defer rows.Close()

	var out []string
	seen := make(map[string]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("logged days scan: %w", err)
		}
		t, err := parseTS(raw)
		if err != nil {
			continue
		}
		day := t.In(loc).Format("2006-01-02")
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	return out, rows.Err()
}

// FirstLogged returns the timestamp of the user's earliest interval.
// Returns ErrNotFound when the user has none.
func (s *Store) FirstLogged(ctx context.Context, userID string) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM study_logs WHERE user_id = ?`,
		userID).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("first logged: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, ErrNotFound
	}
	return parseTS(raw.String)
}

// DeleteIntervalsBefore removes intervals recorded before cutoff and reports
// how many rows were deleted.
func (s *Store) DeleteIntervalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM study_logs WHERE created_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete intervals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ///////////////////////////////////////////////
// Daily Summaries
// ///////////////////////////////////////////////

// UpsertDailySummary writes (or overwrites) one user's rollup for a day.
// date is a "2006-01-02" string in the report timezone.
func (s *Store) UpsertDailySummary(ctx context.Context, userID, username, date string, totalSeconds int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO daily_summary (user_id, username, date, total_seconds)
		 VALUES (?, ?, ?, ?)`,
		userID, username, date, totalSeconds)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

// DailySummaries returns one user's per-day totals for dates at or after
// fromDate ("2006-01-02"), keyed by date.
func (s *Store) DailySummaries(ctx context.Context, userID, fromDate string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, total_seconds FROM daily_summary WHERE user_id = ? AND date >= ?`,
		userID, fromDate)
	if err != nil {
		return nil, fmt.Errorf("daily summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var date string
		var total int64
		if err := rows.Scan(&date, &total); err != nil {
			return nil, fmt.Errorf("daily summaries scan: %w", err)
		}
		out[date] = total
	}
	return out, rows.Err()
}

// DeleteSummariesBefore removes rollups older than the cutoff date string.
func (s *Store) DeleteSummariesBefore(ctx context.Context, cutoffDate string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM daily_summary WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("delete summaries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Vacuum compacts the database file. Run after retention pruning.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Panel Message State
// ///////////////////////////////////////////////

// MessageState returns the panel references for a user. A user with no row
// yields an empty state, not an error.
func (s *Store) MessageState(ctx context.Context, userID string) (PanelState, error) {
	ps := PanelState{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT join_msg_id, leave_msg_id FROM message_states WHERE user_id = ?`,
		userID).Scan(&ps.JoinMsgID, &ps.LeaveMsgID)
	if errors.Is(err, sql.ErrNoRows) {
		return ps, nil
	}
	if err != nil {
		return ps, fmt.Errorf("message state: %w", err)
	}
	return ps, nil
}

// SetMessageState upserts the panel references for a user.
func (s *Store) SetMessageState(ctx context.Context, ps PanelState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO message_states (user_id, join_msg_id, leave_msg_id)
		 VALUES (?, ?, ?)`,
		ps.UserID, ps.JoinMsgID, ps.LeaveMsgID)
	if err != nil {
		return fmt.Errorf("set message state: %w", err)
	}
	return nil
}

// OpenJoinPanels returns every user whose last panel is still a join panel.
// Used by recovery to close out users who left silently during downtime.
func (s *Store) OpenJoinPanels(ctx context.Context) ([]PanelState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, join_msg_id, leave_msg_id FROM message_states WHERE join_msg_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("open join panels: %w", err)
	}
	defer rows.Close()

	var out []PanelState
	for rows.Next() {
		var ps PanelState
		if err := rows.Scan(&ps.UserID, &ps.JoinMsgID, &ps.LeaveMsgID); err != nil {
			return nil, fmt.Errorf("open join panels scan: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// ///////////////////////////////////////////////
// User Tasks
// ///////////////////////////////////////////////

// UserTask returns the user's task text and reading alias, empty when unset.
func (s *Store) UserTask(ctx context.Context, userID string) (task, reading string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT task, reading FROM user_tasks WHERE user_id = ?`, userID).Scan(&task, &reading)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("user task: %w", err)
	}
	return task, reading, nil
}

// SetUserTask upserts the user's task text, preserving the reading alias.
func (s *Store) SetUserTask(ctx context.Context, userID, task string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tasks (user_id, task) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET task = excluded.task`,
		userID, task)
	if err != nil {
		return fmt.Errorf("set user task: %w", err)
	}
	return nil
}

// SetUserReading upserts the user's reading alias, preserving the task text.
func (s *Store) SetUserReading(ctx context.Context, userID, reading string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tasks (user_id, reading) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET reading = excluded.reading`,
		userID, reading)
	if err != nil {
		return fmt.Errorf("set user reading: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Personal Timers
// ///////////////////////////////////////////////

// AddTimer records a personal countdown timer.
func (s *Store) AddTimer(ctx context.Context, userID string, end time.Time, minutes int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_timers (user_id, end_time, minutes) VALUES (?, ?, ?)`,
		userID, ts(end), minutes)
	if err != nil {
		return fmt.Errorf("add timer: %w", err)
	}
	return nil
}

// ExpiredTimers returns timers whose end time is at or before now.
func (s *Store) ExpiredTimers(ctx context.Context, now time.Time) ([]Timer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, end_time, minutes FROM personal_timers WHERE end_time <= ?`,
		ts(now))
	if err != nil {
		return nil, fmt.Errorf("expired timers: %w", err)
	}
	defer rows.Close()

	var out []Timer
	for rows.Next() {
		var t Timer
		var end string
		if err := rows.Scan(&t.ID, &t.UserID, &end, &t.Minutes); err != nil {
			return nil, fmt.Errorf("expired timers scan: %w", err)
		}
		if t.End, err = parseTS(end); err != nil {
			return nil, fmt.Errorf("expired timers end: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTimer removes a timer by id.
func (s *Store) DeleteTimer(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM personal_timers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	return nil
}
