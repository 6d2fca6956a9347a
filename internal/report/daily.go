package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/logdrain/internal/status"
)

const (
	// DefaultHour is the local hour after which the daily report is due.
	DefaultHour = 16
	// DateLayout is the calendar day key stored as the last report date.
	DateLayout = "02-01-2006"
)

// Source aggregates run history over a window.
type Source interface {
	Report(ctx context.Context, from, to time.Time) (*status.Report, error)
}

// DateStore remembers the last day a report was sent.
type DateStore interface {
	LastReportDate(ctx context.Context) (string, error)
	SetLastReportDate(ctx context.Context, date string) error
}

type DailyOptions struct {
	Hour     int
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Daily sends one summary of the last 24 hours per calendar day.
type Daily struct {
	source   Source
	dates    DateStore
	notifier Notifier
	opts     DailyOptions
	logger   *slog.Logger
}

func NewDaily(source Source, dates DateStore, notifier Notifier, opts DailyOptions) *Daily {
	if opts.Hour <= 0 {
		opts.Hour = DefaultHour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Daily{
		source:   source,
		dates:    dates,
		notifier: notifier,
		opts:     opts,
		logger:   opts.Logger.With("component", "daily_report"),
	}
}

// Due reports whether today's report has not been sent and the report hour
// has passed.
func (d *Daily) Due(ctx context.Context) (bool, string, error) {
	now := d.opts.Now().In(d.opts.Location)
	today := now.Format(DateLayout)
	last, err := d.dates.LastReportDate(ctx)
	if err != nil {
		return false, today, err
	}
	return last != today && now.Hour() >= d.opts.Hour, today, nil
}

// Check sends the report when due and records the day.
func (d *Daily) Check(ctx context.Context) (bool, error) {
	due, today, err := d.Due(ctx)
	if err != nil || !due {
		return false, err
	}
	if err := d.Send(ctx); err != nil {
		return false, err
	}
	if err := d.dates.SetLastReportDate(ctx, today); err != nil {
		return true, err
	}
	d.logger.Info("daily report sent", "date", today)
	return true, nil
}

// Send reports the last 24 hours regardless of the schedule.
func (d *Daily) Send(ctx context.Context) error {
	end := d.opts.Now()
	r, err := d.source.Report(ctx, end.Add(-24*time.Hour), end)
	if err != nil {
		return err
	}
	d.notifier.SendReport(ctx, *r)
	return nil
}
