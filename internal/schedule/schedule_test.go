package schedule

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDailyValidation(t *testing.T) {
	s := New(time.UTC, testLogger())
	if err := s.Daily(23, 59, "ok", func() {}); err != nil {
		t.Errorf("Daily(23,59) = %v, want nil", err)
	}
	if err := s.Daily(24, 0, "bad hour", func() {}); err == nil {
		t.Error("Daily(24,0) should fail")
	}
	if err := s.Daily(0, 60, "bad minute", func() {}); err == nil {
		t.Error("Daily(0,60) should fail")
	}
}

func TestAtMinutesValidation(t *testing.T) {
	s := New(time.UTC, testLogger())
	if err := s.AtMinutes([]int{0, 30}, "ok", func() {}); err != nil {
		t.Errorf("AtMinutes(0,30) = %v, want nil", err)
	}
	if err := s.AtMinutes(nil, "empty", func() {}); err == nil {
		t.Error("empty minute list should fail")
	}
	if err := s.AtMinutes([]int{61}, "bad", func() {}); err == nil {
		t.Error("minute 61 should fail")
	}
}

func TestEveryRuns(t *testing.T) {
	s := New(time.UTC, testLogger())
	fired := make(chan struct{}, 1)
	if err := s.Every(10*time.Millisecond, "tick", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("interval job never fired")
	}
}

func TestPanicInJobIsContained(t *testing.T) {
	s := New(time.UTC, testLogger())
	ran := make(chan struct{}, 1)
	if err := s.Every(10*time.Millisecond, "boom", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
		panic("job exploded")
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	// a panicking job must not take the scheduler down; wait for a rerun
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped after a job panic")
	}
}
