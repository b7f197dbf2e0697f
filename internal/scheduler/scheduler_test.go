package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 9 * * *", "@daily", "*/15 * * * *", "@every 1h"} {
		if _, err := ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q) failed: %v", expr, err)
		}
	}
	for _, expr := range []string{"", "61 * * * *", "0 0 9 * * *", "tomorrow"} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", expr)
		}
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New("not a schedule", time.Minute, func(context.Context) error { return nil }, nil); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

func TestNext_UsesUTC(t *testing.T) {
	s, err := New("0 9 * * *", time.Minute, func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	next := s.Next()
	if next.Location() != time.UTC || next.Hour() != 9 || next.Minute() != 0 {
		t.Errorf("next run %v is not 09:00 UTC", next)
	}
}

func TestTick_AppliesTimeout(t *testing.T) {
	var deadline atomic.Bool
	s, err := New("@daily", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.tick()
	if !deadline.Load() {
		t.Error("pass context should hit the configured timeout")
	}
}

func TestStart_RunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", time.Minute, func(context.Context) error {
		runs.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled pass never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
