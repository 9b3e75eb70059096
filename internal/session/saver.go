package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ///////////////////////////////////////////////
// Shutdown Saver
// ///////////////////////////////////////////////

// Saver flushes open sessions at shutdown so a stop or restart never loses
// accrued time. Paired with Recovery's bridge window, a quick restart is
// invisible to users still in voice.
type Saver struct {
	mgr   *SessionManager
	store IntervalStore
	log   *slog.Logger
	now   func() time.Time
}

// NewSaver builds a shutdown flusher.
func NewSaver(mgr *SessionManager, st IntervalStore, log *slog.Logger) *Saver {
	return &Saver{mgr: mgr, store: st, log: log, now: time.Now}
}

// SaveAll persists every open session's owed time as a closed interval
// ending now and empties the live table. It returns how many sessions were
// saved; users whose write fails are logged and skipped.
func (s *Saver) SaveAll(ctx context.Context) int {
	now := s.now()
	saved := s.mgr.FlushAll(now, func(userID, name string, seconds int64) error {
		err := s.store.AppendInterval(ctx, store.Interval{
			UserID:   userID,
			Username: name,
			Start:    now.Add(-time.Duration(seconds) * time.Second),
			Duration: seconds,
			End:      now,
		})
		if err != nil {
			s.log.Error("shutdown flush failed", "user", userID, "error", err)
		}
		return err
	})
	if saved > 0 {
		s.log.Info("open sessions flushed", "count", saved)
	}
	return saved
}
