// Package logdrain pulls tenant log records from the Management API in time
// boxed runs, hands them to sinks in batches and persists a resumable
// checkpoint. It wires the internal packages for embedding and for the CLI.
package logdrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/logdrain/internal/auth"
	"github.com/loykin/logdrain/internal/checkpoint"
	"github.com/loykin/logdrain/internal/config"
	"github.com/loykin/logdrain/internal/cron"
	"github.com/loykin/logdrain/internal/job"
	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/metrics"
	"github.com/loykin/logdrain/internal/processor"
	"github.com/loykin/logdrain/internal/report"
	"github.com/loykin/logdrain/internal/server"
	"github.com/loykin/logdrain/internal/sink"
	sinkfactory "github.com/loykin/logdrain/internal/sink/factory"
	"github.com/loykin/logdrain/internal/status"
	"github.com/loykin/logdrain/internal/store"
	storefactory "github.com/loykin/logdrain/internal/store/factory"
)

// Re-export core types for embedders.

type Config = config.Config

type Record = logsapi.Record

// Handler processes one batch; see processor.Handler.
type Handler = processor.Handler

type Result = processor.Result

type Status = status.Status

type Report = status.Report

type Tick = job.Tick

// ErrBusy is returned by Run while another run is in progress.
var ErrBusy = job.ErrBusy

// ManualTrigger labels runs started through Drain.Run.
const ManualTrigger = "manual"

// StartTrigger labels the run Serve starts before the first scheduled tick.
const StartTrigger = "start"

// shutdownTimeout bounds how long Serve waits for a running tick.
const shutdownTimeout = time.Minute

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() (*Config, error) { return config.Default() }

type Options struct {
	Logger *slog.Logger
	// Handler replaces the configured sinks.
	Handler Handler
	// HTTPClient is used for the Management API. It defaults to a client
	// with the configured source timeout.
	HTTPClient *http.Client
	// Registerer receives the collectors when metrics are enabled. The
	// served endpoint always reads the default gatherer.
	Registerer prometheus.Registerer
}

// Checkpoints opens the configured checkpoint document without touching the
// Management API. Close releases the storage.
type Checkpoints struct {
	*checkpoint.Store
	storage store.Store
}

func OpenCheckpoints(ctx context.Context, cfg *Config, logger *slog.Logger) (*Checkpoints, error) {
	st, err := storefactory.NewFromDSN(cfg.Storage.DSN, cfg.Storage.Key)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prepare checkpoint storage: %w", err)
	}
	cs, err := checkpoint.New(st, checkpoint.Options{HistoryLimitBytes: cfg.Storage.HistoryLimitBytes, Logger: logger})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Checkpoints{Store: cs, storage: st}, nil
}

// Cursor is the stored resume position, empty before the first commit.
func (c *Checkpoints) Cursor(ctx context.Context) (string, error) {
	doc, err := c.Read(ctx)
	if err != nil {
		return "", err
	}
	return doc.CheckpointID, nil
}

// Report aggregates stored runs inside [from, to].
func (c *Checkpoints) Report(ctx context.Context, from, to time.Time) (*Report, error) {
	history, err := c.History(ctx)
	if err != nil {
		return nil, err
	}
	r := status.Aggregate(history, from, to)
	return &r, nil
}

func (c *Checkpoints) Close() error { return c.storage.Close() }

// Drain is a fully wired puller.
type Drain struct {
	cfg         *Config
	logger      *slog.Logger
	checkpoints *Checkpoints
	proc        *processor.Processor
	sinks       *sink.Multi
	slack       *report.Slack
	daily       *report.Daily
	runner      *job.Runner
}

// New opens storage and sinks and builds the processor. Close releases them.
func New(ctx context.Context, cfg *Config, opts Options) (*Drain, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.ValidateSource(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	d := &Drain{cfg: cfg, logger: logger}
	cps, err := OpenCheckpoints(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.checkpoints = cps

	handler := opts.Handler
	if handler == nil {
		d.sinks, err = openSinks(cfg.Sinks)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		handler = d.sinks.Handle
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Source.Timeout}
	}
	source, err := logsapi.New(logsapi.Options{
		Domain:            cfg.Source.Domain,
		ClientID:          cfg.Source.ClientID,
		ClientSecret:      cfg.Source.ClientSecret,
		BaseURL:           cfg.Source.BaseURL,
		HTTPClient:        hc,
		TokenCache:        cps.Store,
		Jitter:            cfg.Source.Jitter,
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
		Burst:             cfg.Source.Burst,
		Logger:            logger,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	d.proc, err = processor.New(cps.Store, source, processor.Options{
		StartFrom:           cfg.Processor.StartFrom,
		LogTypes:            cfg.Processor.LogTypes,
		LogLevel:            cfg.Level(),
		ServerSideFiltering: cfg.Processor.ServerSideFiltering,
		BatchSize:           cfg.Processor.BatchSize,
		MaxBatchSize:        cfg.Processor.MaxBatchSize,
		MaxRetries:          cfg.Processor.MaxRetries,
		MaxRunTime:          cfg.Processor.MaxRunTime,
		FetchRetryBackoff:   cfg.Processor.FetchRetryBackoff,
		Logger:              logger,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	var notifier report.Notifier
	if cfg.Report.SlackWebhook != "" {
		d.slack = report.NewSlack(report.SlackOptions{
			Hook:     cfg.Report.SlackWebhook,
			Username: cfg.Report.Username,
			Icon:     cfg.Report.Icon,
			Title:    cfg.Report.Title,
			URL:      cfg.Report.URL,
			Logger:   logger,
		})
		notifier = d.slack
		if cfg.Report.Daily {
			loc := time.Local
			if cfg.Report.TimeZone != "" {
				if loc, err = time.LoadLocation(cfg.Report.TimeZone); err != nil {
					_ = d.Close()
					return nil, fmt.Errorf("report time zone %q: %w", cfg.Report.TimeZone, err)
				}
			}
			d.daily = report.NewDaily(d.proc, cps.Store, d.slack, report.DailyOptions{
				Hour:     cfg.Report.DailyHour,
				Location: loc,
				Logger:   logger,
			})
		}
	}

	d.runner = job.NewRunner(d.proc, handler, notifier, d.daily, job.Options{
		SendSuccess: cfg.Report.SendSuccess,
		Logger:      logger,
	})
	return d, nil
}

func openSinks(cfgs []config.SinkConfig) (*sink.Multi, error) {
	m := sink.NewMulti()
	if len(cfgs) == 0 {
		m.Add("stdout", sink.NewStdout())
		return m, nil
	}
	for _, sc := range cfgs {
		s, err := sinkfactory.NewSinkFromDSN(sc.DSN)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("sink %s: %w", sc.Name, err)
		}
		m.Add(sc.Name, s)
	}
	return m, nil
}

// Run executes one tick now.
func (d *Drain) Run(ctx context.Context) (*Tick, error) {
	return d.runner.Run(ctx, ManualTrigger)
}

// Report aggregates stored runs inside [from, to].
func (d *Drain) Report(ctx context.Context, from, to time.Time) (*Report, error) {
	return d.proc.Report(ctx, from, to)
}

// SendDailyReport posts the last 24 hours regardless of the daily schedule.
func (d *Drain) SendDailyReport(ctx context.Context) error {
	if d.daily == nil {
		return errors.New("daily report requires report.slack_webhook and report.daily")
	}
	return d.daily.Send(ctx)
}

// Checkpoints exposes the checkpoint document.
func (d *Drain) Checkpoints() *Checkpoints { return d.checkpoints }

// Types is the effective log type filter, empty when every type is pulled.
func (d *Drain) Types() []string { return d.proc.Types() }

// Handler returns the HTTP API. next may be nil.
func (d *Drain) Handler(next func() time.Time) (http.Handler, error) {
	mw := auth.NewMiddleware(nil)
	if a := d.cfg.Server.Auth; a.Enabled {
		v, err := auth.NewVerifier(a.Token, a.TokenHash)
		if err != nil {
			return nil, err
		}
		mw = auth.NewMiddleware(v)
	}
	opts := server.Options{
		BasePath:     d.cfg.Server.BasePath,
		Runner:       d.runner,
		Checkpoints:  d.checkpoints,
		Reports:      d.proc,
		NextSchedule: next,
		Auth:         mw,
	}
	if d.daily != nil {
		opts.Daily = d.daily
	}
	if d.cfg.Metrics.Enabled {
		opts.Metrics = metrics.Handler()
		opts.MetricsPath = d.cfg.Metrics.Path
	}
	return server.NewRouter(opts).Handler(), nil
}

// Serve runs the scheduler and, when enabled, the HTTP API until ctx is
// cancelled. A tick in progress is given time to finish.
func (d *Drain) Serve(ctx context.Context) error {
	sched, err := cron.New(d.cfg.Schedule.Cron, d.cfg.Schedule.TimeZone, d.runner, d.logger)
	if err != nil {
		return err
	}

	var srv *server.Server
	if d.cfg.Server.Enabled {
		h, err := d.Handler(sched.Next)
		if err != nil {
			return err
		}
		if srv, err = server.New(d.cfg.Server, h, d.logger); err != nil {
			return err
		}
		srv.Start()
	}
	if err := sched.Start(); err != nil {
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
		return err
	}

	var wg sync.WaitGroup
	if d.cfg.Schedule.RunOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.runner.Run(context.WithoutCancel(ctx), StartTrigger); err != nil && !errors.Is(err, job.ErrBusy) {
				d.logger.Error("initial run failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	d.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result error
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http server: %w", err))
		}
	}
	if err := sched.Stop(sctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
	}
	wg.Wait()
	return result
}

// Close releases sinks and storage.
func (d *Drain) Close() error {
	var result error
	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.checkpoints != nil {
		if err := d.checkpoints.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
