package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ///////////////////////////////////////////////
// Startup Recovery
// ///////////////////////////////////////////////

// Recovery rebuilds the live table from the voice roster after a restart.
// Users still in voice get a session anchored at startup time; if their
// last stored interval ended within the bridge window, its duration is
// re-attached as display carry so a shutdown flush followed by a quick
// restart does not visibly reset their clock. The carry is display-only:
// those seconds are already in the store.
type Recovery struct {
	mgr    *SessionManager
	store  RecoveryStore
	notify Notifier
	log    *slog.Logger
	bridge time.Duration
	now    func() time.Time
}

// NewRecovery builds a startup pass with the given bridge window.
func NewRecovery(mgr *SessionManager, st RecoveryStore, notify Notifier, log *slog.Logger, bridge time.Duration) *Recovery {
	return &Recovery{mgr: mgr, store: st, notify: notify, log: log, bridge: bridge, now: time.Now}
}

// Run seeds the live table from the roster and closes out join panels left
// behind by users who departed while the process was down. It returns the
// number of sessions recovered.
func (rc *Recovery) Run(ctx context.Context, roster RosterSource) int {
	now := rc.now()
	recovered := 0

	members, err := roster.ActiveMembers(ctx)
	if err != nil {
		rc.log.Error("roster fetch failed, recovery skipped", "error", err)
	}
	for _, m := range members {
		if !m.Presence.Active() {
			// silenced users restart from their next resume
			continue
		}
		if rc.mgr.IsLive(m.User.ID) {
			continue
		}
		var carry int64
		last, err := rc.store.LastInterval(ctx, m.User.ID)
		switch {
		case err == nil:
			if gap := now.Sub(last.End); gap >= 0 && gap <= rc.bridge {
				carry = last.Duration
			}
		case errors.Is(err, store.ErrNotFound):
			// first session ever, nothing to bridge
		default:
			rc.log.Warn("last interval lookup failed", "user", m.User.ID, "error", err)
		}
		rc.mgr.Recover(m.User.ID, m.User.Name, now, carry)
		rc.log.Info("session recovered", "user", m.User.ID, "name", m.User.Name, "carry_seconds", carry)
		recovered++
	}

	rc.closeStalePanels(ctx)
	return recovered
}

// closeStalePanels settles join panels whose owner is no longer in voice.
// No interval is fabricated; the downtime is simply not billed.
func (rc *Recovery) closeStalePanels(ctx context.Context) {
	panels, err := rc.store.OpenJoinPanels(ctx)
	if err != nil {
		rc.log.Warn("open panel scan failed", "error", err)
		return
	}
	for _, p := range panels {
		if rc.mgr.IsLive(p.UserID) {
			continue
		}
		if err := rc.notify.StaleDeparture(ctx, p.UserID); err != nil {
			rc.log.Warn("stale panel cleanup failed", "user", p.UserID, "error", err)
		}
	}
}
