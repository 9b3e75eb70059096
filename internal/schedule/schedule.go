// Package schedule wraps the cron runner with the few shapes the daemon
// needs: a daily time-of-day job, minute-of-hour jobs and fixed intervals,
// all evaluated in the configured timezone.
package schedule

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the cron instance. Jobs run on the cron goroutine; long
// work should move itself off it.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New builds a stopped scheduler in loc.
func New(loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log,
	}
}

// Daily runs fn every day at hour:minute.
func (s *Scheduler) Daily(hour, minute int, name string, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid daily time %d:%d", hour, minute)
	}
	return s.add(fmt.Sprintf("%d %d * * *", minute, hour), name, fn)
}

// AtMinutes runs fn at the given minutes of every hour.
func (s *Scheduler) AtMinutes(minutes []int, name string, fn func()) error {
	if len(minutes) == 0 {
		return fmt.Errorf("no minutes given for %s", name)
	}
	parts := make([]string, len(minutes))
	for i, m := range minutes {
		if m < 0 || m > 59 {
			return fmt.Errorf("invalid minute %d for %s", m, name)
		}
		parts[i] = strconv.Itoa(m)
	}
	return s.add(strings.Join(parts, ",")+" * * * *", name, fn)
}

// Every runs fn on a fixed interval.
func (s *Scheduler) Every(d time.Duration, name string, fn func()) error {
	if d <= 0 {
		return fmt.Errorf("invalid interval %s for %s", d, name)
	}
	return s.add("@every "+d.String(), name, fn)
}

func (s *Scheduler) add(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("scheduled job panicked", "job", name, "panic", fmt.Sprint(p))
			}
		}()
		fn()
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Debug("job scheduled", "job", name, "spec", spec)
	return nil
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatch and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
