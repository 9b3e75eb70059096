// Package pomodoro announces the shared work rhythm in a dedicated voice
// channel: work starts on the hour and half hour, breaks at 25 and 55 past.
// Announcements are skipped while the channel is empty.
package pomodoro

import (
	"context"
	"log/slog"
)

// WorkMinutes and BreakMinutes are the minute-of-hour marks the daemon
// schedules the two announcements at.
var (
	WorkMinutes  = []int{0, 30}
	BreakMinutes = []int{25, 55}
)

// Speaker queues a spoken line for a channel without blocking.
type Speaker interface {
	Speak(channelID, text, userID string)
}

// Occupancy reports whether anyone is in the channel right now.
type Occupancy func(ctx context.Context, channelID string) (bool, error)

// Announcer drives the cycle for one channel.
type Announcer struct {
	speaker   Speaker
	occupied  Occupancy
	channelID string
	log       *slog.Logger
}

// New builds an announcer for channelID.
func New(speaker Speaker, occupied Occupancy, channelID string, log *slog.Logger) *Announcer {
	return &Announcer{speaker: speaker, occupied: occupied, channelID: channelID, log: log}
}

// AnnounceWork marks the start of a 25 minute focus block.
func (a *Announcer) AnnounceWork(ctx context.Context) {
	a.announce(ctx, "Focus time. 25 minutes of work starts now.")
}

// AnnounceBreak marks the start of a 5 minute break.
func (a *Announcer) AnnounceBreak(ctx context.Context) {
	a.announce(ctx, "Break time. Take 5 minutes.")
}

func (a *Announcer) announce(ctx context.Context, text string) {
	if a.channelID == "" {
		return
	}
	ok, err := a.occupied(ctx, a.channelID)
	if err != nil {
		a.log.Warn("occupancy check failed, skipping announcement", "channel", a.channelID, "error", err)
		return
	}
	if !ok {
		return
	}
	a.speaker.Speak(a.channelID, text, "")
}
