package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ///////////////////////////////////////////////
// Reconciler
// ///////////////////////////////////////////////

// Reconciler turns presence changes into session transitions. One instance
// serves the whole guild; it is safe for concurrent use.
type Reconciler struct {
	mgr      *SessionManager
	store    IntervalStore
	notify   Notifier
	badges   BadgeGranter
	announce Announcer
	signal   func()
	log      *slog.Logger
	loc      *time.Location
	now      func() time.Time

	msMu       sync.RWMutex
	milestones []Milestone
}

// ReconcilerOptions carries the optional collaborators. Nil fields disable
// the corresponding side effect.
type ReconcilerOptions struct {
	Badges     BadgeGranter
	Announce   Announcer
	BoardWake  func()
	Milestones []Milestone
	Location   *time.Location
	Now        func() time.Time
}

// NewReconciler wires a reconciler over the live table and store.
func NewReconciler(mgr *SessionManager, st IntervalStore, notify Notifier, log *slog.Logger, opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		mgr:        mgr,
		store:      st,
		notify:     notify,
		badges:     opts.Badges,
		announce:   opts.Announce,
		signal:     opts.BoardWake,
		log:        log,
		loc:        opts.Location,
		now:        opts.Now,
		milestones: opts.Milestones,
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.signal == nil {
		r.signal = func() {}
	}
	return r
}

// SetMilestones swaps the badge thresholds after a config reload.
func (r *Reconciler) SetMilestones(list []Milestone) {
	r.msMu.Lock()
	r.milestones = list
	r.msMu.Unlock()
}

func (r *Reconciler) milestoneList() []Milestone {
	r.msMu.RLock()
	defer r.msMu.RUnlock()
	return r.milestones
}

// HandleVoiceState reconciles one presence change. It never panics out and
// never returns an error to the event loop; everything that can fail is
// logged and the in-memory table stays consistent with what actually got
// persisted.
func (r *Reconciler) HandleVoiceState(ctx context.Context, user UserRef, before, after Presence) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("voice event handler panicked", "user", user.ID, "panic", fmt.Sprint(p))
		}
	}()

	kind := Classify(before, after)
	if kind == TransitionNone {
		return
	}
	r.log.Debug("voice transition", "user", user.ID, "name", user.Name, "kind", kind.String())

	switch kind {
	case TransitionJoin:
		r.handleJoin(ctx, user, after)
	case TransitionResume:
		r.handleResume(ctx, user)
	case TransitionPause:
		r.handlePause(ctx, user)
	case TransitionStop:
		r.handleStop(ctx, user, before)
	}
}

func (r *Reconciler) handleJoin(ctx context.Context, user UserRef, after Presence) {
	now := r.now()
	if !r.mgr.Join(user.ID, user.Name, now) {
		return
	}
	today, err := r.store.SecondsSince(ctx, user.ID, StartOfDay(now, r.loc))
	if err != nil {
		r.log.Warn("today total lookup failed", "user", user.ID, "error", err)
	}
	if err := r.notify.SessionStarted(ctx, user, today); err != nil {
		r.log.Warn("join notification failed", "user", user.ID, "error", err)
	}
	if r.announce != nil {
		r.announce.Speak(after.ChannelID, fmt.Sprintf("%s joined", user.Name), user.ID)
	}
	r.signal()
}

func (r *Reconciler) handlePause(ctx context.Context, user UserRef) {
	carried, ok := r.mgr.Pause(user.ID, r.now())
	if !ok {
		return
	}
	if err := r.notify.SessionPaused(ctx, user, carried); err != nil {
		r.log.Warn("pause notification failed", "user", user.ID, "error", err)
	}
	r.signal()
}

func (r *Reconciler) handleResume(ctx context.Context, user UserRef) {
	if !r.mgr.Resume(user.ID, user.Name, r.now()) {
		return
	}
	if err := r.notify.SessionResumed(ctx, user); err != nil {
		r.log.Warn("resume notification failed", "user", user.ID, "error", err)
	}
	r.signal()
}

func (r *Reconciler) handleStop(ctx context.Context, user UserRef, before Presence) {
	now := r.now()
	res, err := r.mgr.CloseSession(user.ID, now, func(res StopResult) error {
		return r.store.AppendInterval(ctx, store.Interval{
			UserID:   user.ID,
			Username: user.Name,
			Start:    res.Start,
			Duration: res.SessionSeconds,
			End:      res.End,
		})
	})
	if err == ErrNotLive {
		return
	}
	if err != nil {
		r.log.Error("session close persist failed", "user", user.ID, "error", err)
		return
	}

	r.evaluateMilestones(ctx, user, res.SessionSeconds)

	today, terr := r.store.SecondsSince(ctx, user.ID, StartOfDay(now, r.loc))
	if terr != nil {
		r.log.Warn("today total lookup failed", "user", user.ID, "error", terr)
	}
	notice := StopNotice{
		SessionSeconds: res.SessionSeconds,
		DisplaySeconds: res.DisplaySeconds,
		BreakSeconds:   res.BreakSeconds,
		TodayTotal:     today,
	}
	if err := r.notify.SessionStopped(ctx, user, notice); err != nil {
		r.log.Warn("stop notification failed", "user", user.ID, "error", err)
	}
	if r.announce != nil && before.ChannelID != "" {
		r.announce.Speak(before.ChannelID, fmt.Sprintf("%s left", user.Name), user.ID)
	}
	r.signal()
}

// AddCorrection appends a manual interval of the given length ending now and
// runs the usual milestone evaluation over it. It backs the moderator "add"
// command for sessions lost to outages; a negative duration subtracts
// mistakenly credited time.
func (r *Reconciler) AddCorrection(ctx context.Context, user UserRef, d time.Duration) (int64, error) {
	seconds := int64(d.Seconds())
	if seconds == 0 {
		return 0, fmt.Errorf("correction must be non-zero, got %s", d)
	}
	now := r.now()
	iv := store.Interval{
		UserID:   user.ID,
		Username: user.Name,
		Start:    now.Add(-d),
		Duration: seconds,
		End:      now,
	}
	if err := r.store.AppendInterval(ctx, iv); err != nil {
		return 0, err
	}
	// Negative corrections never cross a threshold; evaluateMilestones
	// ignores them.
	r.evaluateMilestones(ctx, user, seconds)
	r.signal()
	total, err := r.store.TotalSeconds(ctx, user.ID)
	if err != nil {
		r.log.Warn("total lookup failed after correction", "user", user.ID, "error", err)
	}
	return total, nil
}

// evaluateMilestones checks thresholds crossed by an interval of added
// seconds that has already been persisted.
func (r *Reconciler) evaluateMilestones(ctx context.Context, user UserRef, added int64) {
	list := r.milestoneList()
	if len(list) == 0 || added <= 0 {
		return
	}
	total, err := r.store.TotalSeconds(ctx, user.ID)
	if err != nil {
		r.log.Warn("total lookup failed, skipping milestones", "user", user.ID, "error", err)
		return
	}
	for _, m := range CrossedMilestones(total-added, total, list) {
		if r.badges != nil {
			if err := r.badges.Grant(ctx, user.ID, m.Badge); err != nil {
				r.log.Warn("badge grant failed", "user", user.ID, "badge", m.Badge, "error", err)
			}
		}
		if err := r.notify.MilestoneReached(ctx, user, m); err != nil {
			r.log.Warn("milestone notification failed", "user", user.ID, "hours", m.Hours, "error", err)
		}
	}
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
