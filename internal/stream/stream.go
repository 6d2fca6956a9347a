// Package stream turns paged log fetches into a cursor driven sequence that
// tracks the rate limit budget and the committed position.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/metrics"
	"github.com/loykin/logdrain/internal/status"
)

// RateLimitWarning is recorded when the remaining budget runs out.
const RateLimitWarning = "Management API rate limit reached."

// InitialRemaining is the budget assumed before the first response.
const InitialRemaining = 50

type Options struct {
	// Checkpoint is the cursor to resume after. Empty starts from the beginning.
	Checkpoint string
	Types      []string
	// ServerSideFiltering sends the type filter to the API instead of
	// filtering fetched pages locally.
	ServerSideFiltering bool
	MaxRetries          int
	// RetryBackoff is the initial delay between fetch retries, doubled per
	// attempt with jitter.
	RetryBackoff time.Duration
	// Start and MaxRunTime define the run deadline gating fetch retries.
	Start      time.Time
	MaxRunTime time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Stream is Active until the source is exhausted, the rate limit budget runs
// out, Done is called or a fetch fails for good. Ended is final.
type Stream struct {
	src  logsapi.Source
	opts Options

	cursor    string
	previous  string
	remaining int
	pending   int
	ended     bool
	st        *status.Status
	logger    *slog.Logger
}

func New(src logsapi.Source, opts Options) *Stream {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.Now()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Stream{
		src:       src,
		opts:      opts,
		cursor:    opts.Checkpoint,
		previous:  opts.Checkpoint,
		remaining: InitialRemaining,
		st:        &status.Status{Start: opts.Now(), StartCheckpoint: opts.Checkpoint},
		logger:    opts.Logger.With("component", "stream"),
	}
}

// Next fetches up to take records after the cursor. It returns io.EOF once
// the stream has ended. A page whose records were all filtered out is
// returned empty while the cursor still moves past it.
func (s *Stream) Next(ctx context.Context, take int) (*logsapi.Page, error) {
	if s.ended {
		return nil, io.EOF
	}
	if s.remaining < 1 {
		s.logger.Warn("rate limit budget exhausted", "cursor", s.cursor)
		s.st.Warning = RateLimitWarning
		s.Done()
		return nil, io.EOF
	}

	req := logsapi.PageRequest{
		Cursor:       s.cursor,
		Take:         take,
		Types:        s.opts.Types,
		ServerFilter: s.opts.ServerSideFiltering,
	}
	page, err := s.fetch(ctx, req)
	if err != nil {
		s.ended = true
		s.st.Finish(s.opts.Now())
		return nil, err
	}

	if page.RateLimit.HasRemaining {
		s.remaining = page.RateLimit.Remaining
		metrics.SetRateLimitRemaining(s.remaining)
	}
	if len(page.Records) == 0 {
		s.Done()
		return nil, io.EOF
	}

	last := page.Records[len(page.Records)-1].ID
	records := page.Records
	if !s.opts.ServerSideFiltering && len(s.opts.Types) > 0 {
		records = filter(records, s.opts.Types)
	}
	if take > 0 && len(records) > take {
		records = records[:take]
	}
	if len(records) > 0 {
		last = records[len(records)-1].ID
	} else {
		s.logger.Debug("page filtered out entirely, skipping forward", "cursor", last)
	}
	s.cursor = last
	s.pending += len(records)
	return &logsapi.Page{Records: records, RateLimit: page.RateLimit}, nil
}

// fetch retries failed requests with exponential backoff while retries and
// run time remain. Credential errors get a single retry since the source
// drops its cached token on 401 and 403.
func (s *Stream) fetch(ctx context.Context, req logsapi.PageRequest) (*logsapi.Page, error) {
	var (
		page        *logsapi.Page
		attempts    int
		authRetried bool
	)
	op := func() error {
		attempts++
		var err error
		page, err = s.src.FetchPage(ctx, req)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !logsapi.Retryable(err) || !s.hasTime() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, logsapi.ErrAuth) || errors.Is(err, logsapi.ErrForbidden) {
			if authRetried {
				return backoff.Permanent(err)
			}
			authRetried = true
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.IncFetchRetry(errorKind(err))
		s.logger.Warn("fetching logs failed, retrying", "cursor", req.Cursor, "attempt", attempts, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, s.retryPolicy(ctx), notify); err != nil {
		s.logger.Error("fetching logs failed", "cursor", req.Cursor, "attempts", attempts, "error", err)
		return nil, fmt.Errorf("fetch logs from %q: %w", req.Cursor, err)
	}
	return page, nil
}

// retryPolicy doubles RetryBackoff per attempt and stops once MaxRetries are
// spent or the next wait would end past the run deadline.
func (s *Stream) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = max(s.opts.RetryBackoff, 0)
	eb.Multiplier = 2
	eb.Clock = clockFunc(s.opts.Now)
	eb.MaxElapsedTime = 0
	if s.opts.MaxRunTime > 0 {
		// a zero MaxElapsedTime would mean no limit
		eb.MaxElapsedTime = max(s.opts.Start.Add(s.opts.MaxRunTime).Sub(s.opts.Now()), time.Nanosecond)
	}
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(s.opts.MaxRetries, 0))), ctx)
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

func (s *Stream) hasTime() bool {
	if s.opts.MaxRunTime <= 0 {
		return true
	}
	return !s.opts.Now().After(s.opts.Start.Add(s.opts.MaxRunTime))
}

// BatchSaved commits everything returned since the last call.
func (s *Stream) BatchSaved() {
	s.st.LogsProcessed += s.pending
	s.previous = s.cursor
	s.pending = 0
}

// Done ends the stream.
func (s *Stream) Done() {
	s.ended = true
	s.st.Finish(s.opts.Now())
}

// Checkpoint is the id of the last record returned.
func (s *Stream) Checkpoint() string { return s.cursor }

// PreviousCheckpoint is the id of the last committed record.
func (s *Stream) PreviousCheckpoint() string { return s.previous }

// Status is the live run status owned by the stream.
func (s *Stream) Status() *status.Status { return s.st }

// Remaining is the last observed rate limit budget.
func (s *Stream) Remaining() int { return s.remaining }

func (s *Stream) Ended() bool { return s.ended }

func filter(records []logsapi.Record, types []string) []logsapi.Record {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	out := make([]logsapi.Record, 0, len(records))
	for _, r := range records {
		if _, ok := allowed[r.Type]; ok {
			out = append(out, r)
		}
	}
	return out
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, logsapi.ErrAuth):
		return "auth"
	case errors.Is(err, logsapi.ErrForbidden):
		return "forbidden"
	case errors.Is(err, logsapi.ErrProtocol):
		return "protocol"
	default:
		return "transient"
	}
}
