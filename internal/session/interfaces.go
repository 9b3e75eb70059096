package session

import (
	"context"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ///////////////////////////////////////////////
// Collaborator Interfaces
// ///////////////////////////////////////////////

// UserRef carries the user identity attached to an event. Name is the
// display name at event time and is snapshotted onto persisted rows.
type UserRef struct {
	ID   string
	Name string
}

// IntervalStore is the slice of the session store the reconciler needs.
// *store.Store satisfies it.
type IntervalStore interface {
	AppendInterval(ctx context.Context, iv store.Interval) error
	SecondsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	TotalSeconds(ctx context.Context, userID string) (int64, error)
	LastInterval(ctx context.Context, userID string) (store.Interval, error)
}

// MaintenanceStore extends IntervalStore with the rollup and retention
// operations the nightly job runs.
type MaintenanceStore interface {
	IntervalStore
	TotalsSince(ctx context.Context, since time.Time) ([]store.UserTotal, error)
	UpsertDailySummary(ctx context.Context, userID, username, date string, seconds int64) error
	DeleteIntervalsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSummariesBefore(ctx context.Context, cutoffDate string) (int64, error)
	Vacuum(ctx context.Context) error
}

// RecoveryStore is what the startup pass reads.
type RecoveryStore interface {
	LastInterval(ctx context.Context, userID string) (store.Interval, error)
	SecondsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	OpenJoinPanels(ctx context.Context) ([]store.PanelState, error)
}

// StopNotice is the payload for a session-ended notification.
type StopNotice struct {
	// SessionSeconds is the billed length of the interval just closed.
	SessionSeconds int64
	// DisplaySeconds is what the user saw on the board when they left,
	// including carry from earlier splits of the same sitting.
	DisplaySeconds int64
	// BreakSeconds is silenced time excluded from the bill.
	BreakSeconds int64
	// TodayTotal is the user's stored total for the current calendar day.
	TodayTotal int64
}

// Notifier receives user-facing lifecycle events. Implementations are
// best-effort; returned errors are logged and never fail the transition.
type Notifier interface {
	SessionStarted(ctx context.Context, user UserRef, todayTotal int64) error
	SessionPaused(ctx context.Context, user UserRef, carriedSeconds int64) error
	SessionResumed(ctx context.Context, user UserRef) error
	SessionStopped(ctx context.Context, user UserRef, n StopNotice) error
	MilestoneReached(ctx context.Context, user UserRef, m Milestone) error
	// StaleDeparture closes out a join panel whose owner is no longer in
	// voice after a restart. No interval is fabricated for it.
	StaleDeparture(ctx context.Context, userID string) error
}

// BadgeGranter awards milestone badges. Granting an already-held badge must
// be a no-op so re-evaluation after redelivery or recovery stays idempotent.
type BadgeGranter interface {
	Grant(ctx context.Context, userID, badge string) error
}

// Announcer queues a spoken line for a voice channel. Calls must not block.
type Announcer interface {
	Speak(channelID, text, userID string)
}

// Member pairs a roster entry with its current presence.
type Member struct {
	User     UserRef
	Presence Presence
}

// RosterSource lists the users currently seen in tracked voice channels.
// The gateway's cached guild state satisfies it.
type RosterSource interface {
	ActiveMembers(ctx context.Context) ([]Member, error)
}
