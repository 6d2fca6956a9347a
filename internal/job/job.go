// Package job runs one pull tick: a processor run followed by status
// notification and the daily report check.
package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/logdrain/internal/metrics"
	"github.com/loykin/logdrain/internal/processor"
	"github.com/loykin/logdrain/internal/report"
	"github.com/loykin/logdrain/internal/status"
)

// ErrBusy is returned when a tick is requested while another is running.
var ErrBusy = errors.New("a run is already in progress")

// Phase is the lifecycle state of a tick.
type Phase string

const (
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// DefaultHistoryLimit is the number of finished ticks kept in memory.
const DefaultHistoryLimit = 20

// Tick is the record of one run.
type Tick struct {
	ID             string            `json:"id"`
	Trigger        string            `json:"trigger"`
	Phase          Phase             `json:"phase"`
	StartTime      time.Time         `json:"start_time"`
	CompletionTime *time.Time        `json:"completion_time,omitempty"`
	Result         *processor.Result `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	ReportSent     bool              `json:"report_sent,omitempty"`
}

// Processor is the part of processor.Processor a tick needs.
type Processor interface {
	Run(ctx context.Context, handler processor.Handler) (*processor.Result, error)
}

type Options struct {
	// SendSuccess also notifies runs that finished without error.
	SendSuccess  bool
	HistoryLimit int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Runner executes ticks one at a time.
type Runner struct {
	proc     Processor
	handler  processor.Handler
	notifier report.Notifier
	daily    *report.Daily
	opts     Options
	logger   *slog.Logger

	run     sync.Mutex
	mu      sync.RWMutex
	current *Tick
	history []*Tick
}

// NewRunner wires a tick. notifier and daily may be nil.
func NewRunner(proc Processor, handler processor.Handler, notifier report.Notifier, daily *report.Daily, opts Options) *Runner {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		proc:     proc,
		handler:  handler,
		notifier: notifier,
		daily:    daily,
		opts:     opts,
		logger:   opts.Logger.With("component", "job"),
	}
}

// Run executes one tick unless another is in progress. The returned error is
// ErrBusy or a storage failure from the processor; processing failures are
// reported in the tick result.
func (r *Runner) Run(ctx context.Context, trigger string) (*Tick, error) {
	if !r.run.TryLock() {
		return nil, ErrBusy
	}
	defer r.run.Unlock()

	t := &Tick{ID: uuid.NewString(), Trigger: trigger, Phase: PhaseRunning, StartTime: r.opts.Now()}
	snap := *t
	r.mu.Lock()
	r.current = &snap
	r.mu.Unlock()
	logger := r.logger.With("tick", t.ID, "trigger", trigger)
	logger.Info("tick started")

	res, err := r.proc.Run(ctx, r.handler)
	switch {
	case err != nil:
		t.Error = err.Error()
		t.Result = res
		logger.Error("tick failed", "error", err)
		r.notify(ctx, status.Status{Start: t.StartTime, Error: status.NewErrorInfo(err)}, "")
	case res.Status.Failed():
		t.Result = res
		r.notify(ctx, res.Status, res.Checkpoint)
	default:
		t.Result = res
		if r.opts.SendSuccess {
			r.notify(ctx, res.Status, res.Checkpoint)
		}
	}

	if r.daily != nil {
		sent, derr := r.daily.Check(ctx)
		t.ReportSent = sent
		if derr != nil {
			logger.Error("daily report check failed", "error", derr)
		}
	}

	end := r.opts.Now()
	t.CompletionTime = &end
	t.Phase = PhaseSucceeded
	if t.Error != "" || (t.Result != nil && t.Result.Status.Failed()) {
		t.Phase = PhaseFailed
	}
	metrics.IncTick(trigger, string(t.Phase))
	logger.Info("tick finished", "phase", t.Phase, "duration", end.Sub(t.StartTime))

	r.mu.Lock()
	r.current = nil
	r.history = append(r.history, t)
	if len(r.history) > r.opts.HistoryLimit {
		r.history = r.history[len(r.history)-r.opts.HistoryLimit:]
	}
	r.mu.Unlock()
	return t, err
}

// WhenIdle runs fn while holding the tick lock so no tick can start until fn
// returns. It returns ErrBusy without calling fn when a tick is in progress.
func (r *Runner) WhenIdle(fn func() error) error {
	if !r.run.TryLock() {
		return ErrBusy
	}
	defer r.run.Unlock()
	return fn()
}

func (r *Runner) notify(ctx context.Context, st status.Status, checkpoint string) {
	if r.notifier == nil {
		return
	}
	r.notifier.SendStatus(ctx, st, checkpoint)
}

// Running returns the tick in progress, if any.
func (r *Runner) Running() *Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// Last returns the most recently finished tick.
func (r *Runner) Last() *Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.history) == 0 {
		return nil
	}
	return r.history[len(r.history)-1]
}

// History returns finished ticks, oldest first.
func (r *Runner) History() []*Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Tick(nil), r.history...)
}
