package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ///////////////////////////////////////////////
// Daily Maintenance
// ///////////////////////////////////////////////

// Maintenance is the end-of-day job. It splits every running session at the
// day boundary so no interval straddles two calendar days, rolls the day up
// into the summary table, prunes aged rows and compacts the database.
type Maintenance struct {
	mgr        *SessionManager
	store      MaintenanceStore
	badges     BadgeGranter
	notify     Notifier
	log        *slog.Logger
	loc        *time.Location
	milestones func() []Milestone
	keepLogs   int // days
	keepSums   int // days
	now        func() time.Time
}

// MaintenanceConfig carries the knobs for a nightly run.
type MaintenanceConfig struct {
	Location        *time.Location
	KeepLogDays     int
	KeepSummaryDays int
	Milestones      func() []Milestone
	Badges          BadgeGranter
}

// MaintenanceResult summarizes one run for logging and the nightly report.
type MaintenanceResult struct {
	Splits           int
	SplitFailures    int
	LogsDeleted      int64
	SummariesDeleted int64
	Totals           []store.UserTotal // the day's rollup, ranked
}

// NewMaintenance builds the nightly job.
func NewMaintenance(mgr *SessionManager, st MaintenanceStore, notify Notifier, log *slog.Logger, cfg MaintenanceConfig) *Maintenance {
	j := &Maintenance{
		mgr:        mgr,
		store:      st,
		badges:     cfg.Badges,
		notify:     notify,
		log:        log,
		loc:        cfg.Location,
		milestones: cfg.Milestones,
		keepLogs:   cfg.KeepLogDays,
		keepSums:   cfg.KeepSummaryDays,
		now:        time.Now,
	}
	if j.loc == nil {
		j.loc = time.UTC
	}
	if j.milestones == nil {
		j.milestones = func() []Milestone { return nil }
	}
	return j
}

// Run executes one maintenance pass. Each user's split is independent: a
// failed persist leaves that one session anchored where it was (it will be
// billed at stop or the next run) and never aborts the rest of the pass.
func (j *Maintenance) Run(ctx context.Context) (MaintenanceResult, error) {
	now := j.now()
	var res MaintenanceResult

	for _, userID := range j.mgr.LiveUserIDs() {
		bill, err := j.mgr.Reanchor(userID, now, func(name string, seconds int64) error {
			return j.store.AppendInterval(ctx, store.Interval{
				UserID:   userID,
				Username: name,
				Start:    now.Add(-time.Duration(seconds) * time.Second),
				Duration: seconds,
				End:      now,
			})
		})
		if err == ErrNotLive {
			continue
		}
		if err != nil {
			j.log.Error("day-boundary split failed", "user", userID, "error", err)
			res.SplitFailures++
			continue
		}
		res.Splits++
		j.evaluateMilestones(ctx, userID, bill)
	}

	dayStart := StartOfDay(now, j.loc)
	date := dayStart.Format("2006-01-02")
	totals, err := j.store.TotalsSince(ctx, dayStart)
	if err != nil {
		j.log.Error("day rollup query failed", "error", err)
	}
	for _, t := range totals {
		if err := j.store.UpsertDailySummary(ctx, t.UserID, t.Username, date, t.Seconds); err != nil {
			j.log.Error("summary upsert failed", "user", t.UserID, "date", date, "error", err)
		}
	}
	res.Totals = totals

	if j.keepLogs > 0 {
		cutoff := dayStart.AddDate(0, 0, -j.keepLogs)
		n, err := j.store.DeleteIntervalsBefore(ctx, cutoff)
		if err != nil {
			j.log.Error("interval prune failed", "error", err)
		}
		res.LogsDeleted = n
	}
	if j.keepSums > 0 {
		cutoff := dayStart.AddDate(0, 0, -j.keepSums).Format("2006-01-02")
		n, err := j.store.DeleteSummariesBefore(ctx, cutoff)
		if err != nil {
			j.log.Error("summary prune failed", "error", err)
		}
		res.SummariesDeleted = n
	}

	if err := j.store.Vacuum(ctx); err != nil {
		j.log.Warn("vacuum failed", "error", err)
	}

	j.log.Info("maintenance finished",
		"date", date,
		"splits", res.Splits,
		"split_failures", res.SplitFailures,
		"logs_deleted", res.LogsDeleted,
		"summaries_deleted", res.SummariesDeleted,
		"users", len(totals))
	return res, nil
}

func (j *Maintenance) evaluateMilestones(ctx context.Context, userID string, added int64) {
	list := j.milestones()
	if len(list) == 0 || added <= 0 {
		return
	}
	total, err := j.store.TotalSeconds(ctx, userID)
	if err != nil {
		j.log.Warn("total lookup failed during split", "user", userID, "error", err)
		return
	}
	for _, m := range CrossedMilestones(total-added, total, list) {
		if j.badges != nil {
			if err := j.badges.Grant(ctx, userID, m.Badge); err != nil {
				j.log.Warn("badge grant failed", "user", userID, "badge", m.Badge, "error", err)
			}
		}
		if err := j.notify.MilestoneReached(ctx, UserRef{ID: userID}, m); err != nil {
			j.log.Warn("milestone notification failed", "user", userID, "error", err)
		}
	}
}
