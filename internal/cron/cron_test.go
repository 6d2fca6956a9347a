package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/logdrain/internal/job"
)

type countingRunner struct {
	runs     atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
	sleep    time.Duration
	mu       sync.Mutex
	triggers []string
}

func (c *countingRunner) Run(ctx context.Context, trigger string) (*job.Tick, error) {
	if c.active.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	defer c.active.Add(-1)
	c.runs.Add(1)
	c.mu.Lock()
	c.triggers = append(c.triggers, trigger)
	c.mu.Unlock()
	select {
	case <-time.After(c.sleep):
	case <-ctx.Done():
	}
	return &job.Tick{Trigger: trigger}, nil
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"@every 100ms", "*/5 * * * *", "@hourly", "0 16 * * 1-5"} {
		if err := Validate(ok); err != nil {
			t.Fatalf("expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "every 1s", "* * *", "@every nope"} {
		if err := Validate(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("@every 1s", "", nil, nil); err == nil {
		t.Fatalf("expected error without runner")
	}
	if _, err := New("@every 1s", "Mars/Olympus", &countingRunner{}, nil); err == nil {
		t.Fatalf("expected error for unknown time zone")
	}
}

func TestSchedulerRunsAndNonOverlap(t *testing.T) {
	r := &countingRunner{sleep: 1500 * time.Millisecond}
	s, err := New("@every 1s", "UTC", r, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected error on second start")
	}
	if s.Next().IsZero() {
		t.Fatalf("expected next schedule after start")
	}

	time.Sleep(3500 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if r.runs.Load() == 0 {
		t.Fatalf("expected at least one run")
	}
	if r.overlaps.Load() != 0 {
		t.Fatalf("expected no overlapping runs, got %d", r.overlaps.Load())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.triggers[0] != Trigger {
		t.Fatalf("unexpected trigger %q", r.triggers[0])
	}
}

func TestStopBeforeStart(t *testing.T) {
	s, err := New("@hourly", "", &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
