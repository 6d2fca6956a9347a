// Package processor drives a log stream in time boxed runs: it fills batches,
// hands them to a handler with bounded retries and persists the resulting
// checkpoint and status.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/loykin/logdrain/internal/checkpoint"
	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/logtypes"
	"github.com/loykin/logdrain/internal/metrics"
	"github.com/loykin/logdrain/internal/status"
	"github.com/loykin/logdrain/internal/stream"
)

const (
	DefaultBatchSize  = 100
	DefaultMaxRetries = 5
	DefaultMaxRunTime = 20 * time.Second
	// StalenessThreshold is the age of the last processed record that
	// triggers the outdated warning.
	StalenessThreshold = 7 * 24 * time.Hour
)

// Handler processes one batch. A non-nil error makes the same batch be
// delivered again, so handlers should be idempotent.
type Handler func(ctx context.Context, batch []logsapi.Record) error

type Options struct {
	// StartFrom overrides the stored checkpoint when it differs from the
	// previous override.
	StartFrom string
	LogTypes  []string
	LogLevel  logtypes.Level
	// ServerSideFiltering pushes the type filter into the API query.
	ServerSideFiltering bool

	BatchSize int
	// MaxBatchSize caps BatchSize when positive.
	MaxBatchSize int
	// MaxRetries bounds handler and fetch retries. Zero selects
	// DefaultMaxRetries, a negative value disables retries.
	MaxRetries        int
	MaxRunTime        time.Duration
	FetchRetryBackoff time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Result is the single outcome of a run.
type Result struct {
	Status     status.Status `json:"status"`
	Checkpoint string        `json:"checkpoint"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	var cp any
	if r.Checkpoint != "" {
		cp = r.Checkpoint
	}
	return json.Marshal(struct {
		Status     status.Status `json:"status"`
		Checkpoint any           `json:"checkpoint"`
	}{r.Status, cp})
}

// Processor runs the pull, batch and commit loop.
type Processor struct {
	checkpoints *checkpoint.Store
	source      logsapi.Source
	opts        Options
	types       []string
	logger      *slog.Logger
}

func New(checkpoints *checkpoint.Store, source logsapi.Source, opts Options) (*Processor, error) {
	if checkpoints == nil {
		return nil, logsapi.ArgumentError("must provide a checkpoint store")
	}
	if source == nil {
		return nil, logsapi.ArgumentError("must provide a log source")
	}
	if opts.BatchSize < 0 {
		return nil, logsapi.ArgumentError("batch size must not be negative: %d", opts.BatchSize)
	}
	if opts.MaxRunTime < 0 {
		return nil, logsapi.ArgumentError("max run time must not be negative: %s", opts.MaxRunTime)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatchSize > 0 && opts.BatchSize > opts.MaxBatchSize {
		opts.BatchSize = opts.MaxBatchSize
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.MaxRunTime == 0 {
		opts.MaxRunTime = DefaultMaxRunTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		checkpoints: checkpoints,
		source:      source,
		opts:        opts,
		types:       logtypes.Filter(opts.LogTypes, opts.LogLevel),
		logger:      opts.Logger.With("component", "processor"),
	}, nil
}

// Types is the effective type filter.
func (p *Processor) Types() []string { return p.types }

// BatchSize is the effective target batch size.
func (p *Processor) BatchSize() int { return p.opts.BatchSize }

// failure is a terminal run error with the checkpoint that is safe to store.
type failure struct {
	err        error
	checkpoint string
}

// run holds the state of one Run call.
type run struct {
	p           *Processor
	s           *stream.Stream
	handler     Handler
	start       time.Time
	responses   int
	lastDate    time.Time
	redelivered int
	logger      *slog.Logger
}

// retryState tracks handler attempts for one batch.
type retryState struct {
	attempt int
	max     int
}

func (r *retryState) exhausted() bool { return r.attempt >= r.max }

// Run executes one time boxed pass. Processing failures end up in the
// returned status; the error is non-nil only when the checkpoint store
// cannot be read or written.
func (p *Processor) Run(ctx context.Context, handler Handler) (*Result, error) {
	if handler == nil {
		return nil, logsapi.ArgumentError("must provide a handler")
	}
	start := p.opts.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)

	cursor, err := p.checkpoints.GetCheckpoint(ctx, p.opts.StartFrom)
	if err != nil {
		return nil, err
	}
	logger.Debug("starting logs processor", "checkpoint", cursor, "types", len(p.types), "batch_size", p.opts.BatchSize)

	r := &run{
		p: p,
		s: stream.New(p.source, stream.Options{
			Checkpoint:          cursor,
			Types:               p.types,
			ServerSideFiltering: p.opts.ServerSideFiltering,
			MaxRetries:          p.opts.MaxRetries,
			RetryBackoff:        p.opts.FetchRetryBackoff,
			Start:               start,
			MaxRunTime:          p.opts.MaxRunTime,
			Now:                 p.opts.Now,
			Logger:              logger,
		}),
		handler: handler,
		start:   start,
		logger:  logger,
	}
	r.s.Status().RunID = runID

	f := r.loop(ctx)
	return r.finish(ctx, f)
}

func (r *run) loop(ctx context.Context) *failure {
	batchSize := r.p.opts.BatchSize
	var batch []logsapi.Record
	for {
		page, err := r.s.Next(ctx, nextLimit(batchSize, len(batch)))
		if errors.Is(err, io.EOF) {
			if len(batch) > 0 {
				if f := r.handle(ctx, batch); f != nil {
					return f
				}
			}
			r.s.BatchSaved()
			return nil
		}
		if err != nil {
			return &failure{err: err, checkpoint: r.s.PreviousCheckpoint()}
		}

		r.responses++
		batch = append(batch, page.Records...)
		if len(batch) < batchSize && r.hasTimeLeft() {
			continue
		}

		if len(batch) > 0 {
			if f := r.handle(ctx, batch); f != nil {
				return f
			}
		}
		batch = nil
		r.s.BatchSaved()
		if !r.hasTimeLeft() {
			r.logger.Debug("no time left for additional requests")
			r.s.Done()
		}
	}
}

// handle delivers batch until it succeeds, the retries run out or the run
// deadline passes.
func (r *run) handle(ctx context.Context, batch []logsapi.Record) *failure {
	rs := retryState{max: r.p.opts.MaxRetries}
	for {
		err := r.call(ctx, batch)
		if err == nil {
			metrics.IncBatch("ok")
			if rs.attempt > 0 {
				r.redelivered++
			}
			r.lastDate = batch[len(batch)-1].Date
			return nil
		}

		if ctx.Err() != nil || !r.hasTimeLeft() {
			r.logger.Error("handler failed with no time left", "error", err)
			return &failure{err: err, checkpoint: r.s.PreviousCheckpoint()}
		}
		if !rs.exhausted() {
			rs.attempt++
			metrics.IncBatch("retry")
			r.logger.Warn("handler failed, retrying batch", "attempt", rs.attempt, "max", rs.max, "size", len(batch), "error", err)
			continue
		}

		metrics.IncBatch("skipped")
		skip := fmt.Errorf("Skipping logs from %s to %s after %d retries.",
			cursorString(r.s.PreviousCheckpoint()), cursorString(r.s.Checkpoint()), rs.max)
		r.logger.Error("giving up on batch", "error", err, "skip", skip)
		return &failure{err: multierror.Append(err, skip), checkpoint: r.s.Checkpoint()}
	}
}

func (r *run) call(ctx context.Context, batch []logsapi.Record) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("handler panic: %v", v)
		}
	}()
	return r.handler(ctx, batch)
}

// hasTimeLeft reports whether another round trip of average duration fits
// before the deadline.
func (r *run) hasTimeLeft() bool {
	now := r.p.opts.Now()
	elapsed := now.Sub(r.start)
	avg := elapsed
	if r.responses > 0 {
		avg = elapsed / time.Duration(r.responses)
	}
	left := r.start.Add(r.p.opts.MaxRunTime).Sub(now)
	r.logger.Debug("run time left", "left", left, "average", avg)
	return left >= avg
}

func (r *run) finish(ctx context.Context, f *failure) (*Result, error) {
	now := r.p.opts.Now()
	st := r.s.Status()
	st.Finish(now)

	var cp string
	persist := true
	if f != nil {
		st.Error = status.NewErrorInfo(f.err)
		cp = f.checkpoint
		r.logger.Warn("processor failed", "error", f.err, "checkpoint", cp)
	} else {
		cp = r.s.Checkpoint()
		persist = st.LogsProcessed > 0
		if persist {
			if age := now.Sub(r.lastDate); age >= StalenessThreshold {
				addWarning(st, "Logs are outdated more than for week. Last processed log has date is "+r.lastDate.UTC().Format(time.RFC1123))
			}
			if r.redelivered > 0 {
				addWarning(st, fmt.Sprintf("At-least-once delivery: %d batch(es) were delivered more than once.", r.redelivered))
			}
		}
		r.logger.Info("processor run complete", "logs_processed", st.LogsProcessed, "checkpoint", cp, "warning", st.Warning)
	}

	metrics.AddLogsProcessed(st.LogsProcessed)
	if !r.lastDate.IsZero() {
		metrics.SetLastLogTimestamp(float64(r.lastDate.Unix()))
	}
	metrics.ObserveRun(outcome(st), now.Sub(r.start).Seconds())

	res := &Result{Status: *st, Checkpoint: cp}
	if !persist {
		return res, nil
	}
	if err := r.p.checkpoints.Done(ctx, *st, cp); err != nil {
		return res, err
	}
	res.Status.Checkpoint = cp
	return res, nil
}

// Report aggregates the stored history for runs inside [from, to].
func (p *Processor) Report(ctx context.Context, from, to time.Time) (*status.Report, error) {
	history, err := p.checkpoints.History(ctx)
	if err != nil {
		return nil, err
	}
	r := status.Aggregate(history, from, to)
	return &r, nil
}

func nextLimit(batchSize, have int) int {
	return min(max(batchSize-have, 1), logsapi.MaxPageSize)
}

func cursorString(c string) string {
	if c == "" {
		return "null"
	}
	return c
}

func addWarning(st *status.Status, w string) {
	if st.Warning == "" {
		st.Warning = w
		return
	}
	st.Warning += " " + w
}

func outcome(st *status.Status) string {
	switch {
	case st.Error != nil:
		return "error"
	case st.Warning != "":
		return "warning"
	default:
		return "success"
	}
}
