// Package cron schedules pull ticks with robfig/cron. A tick that is still
// running when the next one is due causes that one to be skipped.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/logdrain/internal/job"
	"github.com/loykin/logdrain/internal/metrics"
)

// Trigger labels ticks started by the scheduler.
const Trigger = "cron"

// Runner executes one tick.
type Runner interface {
	Run(ctx context.Context, trigger string) (*job.Tick, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a schedule expression: five standard fields or a
// descriptor such as "@every 5m" or "@hourly".
func Validate(expr string) error {
	if expr == "" {
		return errors.New("schedule is required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	runner   Runner
	schedule string
	entryID  cron.EntryID
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// New builds a scheduler for expr in the given IANA time zone (empty for local).
func New(expr, timeZone string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	if err := Validate(expr); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cron")

	loc := time.Local
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
		}
		loc = l
	}

	cl := cronLogger{l: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:   runner,
		schedule: expr,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	id, err := s.cron.AddFunc(s.schedule, s.tick)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.started = true
	s.cron.Start()
	s.recordNext()
	s.logger.Info("scheduler started", "schedule", s.schedule, "next", s.Next())
	return nil
}

// Stop prevents new ticks and waits for a running one up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Next is the time of the next scheduled tick, zero when not started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) tick() {
	defer s.recordNext()
	if _, err := s.runner.Run(s.ctx, Trigger); err != nil {
		if errors.Is(err, job.ErrBusy) {
			s.logger.Info("skipping tick, previous run still active")
			return
		}
		s.logger.Error("scheduled run failed", "error", err)
	}
}

func (s *Scheduler) recordNext() {
	if next := s.Next(); !next.IsZero() {
		metrics.SetNextSchedule(float64(next.Unix()))
	}
}

// cronLogger routes robfig/cron logs to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
