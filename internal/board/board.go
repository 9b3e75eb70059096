// Package board debounces status-board refreshes. Voice events arrive in
// bursts (a group joining together fires one event per member); the
// refresher coalesces them into at most one redraw per cooldown window.
package board

import (
	"context"
	"log/slog"
	"time"
)

// Refresher owns the redraw loop. Wake requests collapse into a single
// buffered slot, so a burst of requests while a redraw is in flight or
// cooling down results in exactly one more redraw.
type Refresher struct {
	wake     chan struct{}
	cooldown time.Duration
	interval time.Duration
	redraw   func(context.Context)
	log      *slog.Logger
}

// New builds a refresher. redraw is invoked from the Run goroutine only.
// cooldown is the minimum spacing between redraws; interval, when positive,
// forces a periodic redraw even without wake requests so live clocks on the
// board keep moving.
func New(redraw func(context.Context), cooldown, interval time.Duration, log *slog.Logger) *Refresher {
	return &Refresher{
		wake:     make(chan struct{}, 1),
		cooldown: cooldown,
		interval: interval,
		redraw:   redraw,
		log:      log,
	}
}

// Request asks for a redraw. It never blocks; a request that finds the slot
// already occupied rides along with the pending one.
func (r *Refresher) Request() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run serves redraws until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-tick:
		}
		r.redraw(ctx)
		if r.cooldown > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cooldown):
			}
		}
	}
}
