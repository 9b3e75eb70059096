package pomodoro

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSpeaker struct {
	lines []string
}

func (f *fakeSpeaker) Speak(_, text, _ string) {
	f.lines = append(f.lines, text)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnnouncesWhenOccupied(t *testing.T) {
	sp := &fakeSpeaker{}
	a := New(sp, func(context.Context, string) (bool, error) { return true, nil }, "vc-pomo", testLogger())

	a.AnnounceWork(context.Background())
	a.AnnounceBreak(context.Background())
	if len(sp.lines) != 2 {
		t.Fatalf("spoke %d lines, want 2", len(sp.lines))
	}
	if sp.lines[0] == sp.lines[1] {
		t.Error("work and break announcements should differ")
	}
}

func TestSkipsEmptyChannel(t *testing.T) {
	sp := &fakeSpeaker{}
	a := New(sp, func(context.Context, string) (bool, error) { return false, nil }, "vc-pomo", testLogger())

	a.AnnounceWork(context.Background())
	if len(sp.lines) != 0 {
		t.Errorf("spoke %v into an empty channel", sp.lines)
	}
}

func TestSkipsOnOccupancyError(t *testing.T) {
	sp := &fakeSpeaker{}
	boom := errors.New("gateway down")
	a := New(sp, func(context.Context, string) (bool, error) { return true, boom }, "vc-pomo", testLogger())

	a.AnnounceBreak(context.Background())
	if len(sp.lines) != 0 {
		t.Errorf("spoke %v despite occupancy error", sp.lines)
	}
}

func TestSkipsWithoutChannel(t *testing.T) {
	sp := &fakeSpeaker{}
	a := New(sp, func(context.Context, string) (bool, error) { return true, nil }, "", testLogger())
	a.AnnounceWork(context.Background())
	if len(sp.lines) != 0 {
		t.Error("announcer without a channel should stay silent")
	}
}
