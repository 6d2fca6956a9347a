package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/logdrain"
	"github.com/loykin/logdrain/internal/auth"
	"github.com/loykin/logdrain/internal/job"
	"github.com/loykin/logdrain/internal/logtypes"
	"github.com/loykin/logdrain/internal/report"
	"github.com/loykin/logdrain/internal/status"
	"github.com/loykin/logdrain/pkg/template"
)

type command struct {
	global *GlobalFlags
}

// env loads the configuration and installs the configured logger as default.
func (c command) env(cmd *cobra.Command) (*logdrain.Config, *slog.Logger, io.Closer, error) {
	cfg, err := logdrain.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func (c command) Run(cmd *cobra.Command, f RunFlags) error {
	cfg, logger, closer, err := c.env(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	if f.StartFrom != "" {
		cfg.Processor.StartFrom = f.StartFrom
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	d, err := logdrain.New(ctx, cfg, logdrain.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	tick, err := d.Run(ctx)
	if tick != nil {
		printJSON(cmd.ErrOrStderr(), tick)
	}
	if err != nil {
		return err
	}
	if tick.Phase == job.PhaseFailed {
		return fmt.Errorf("run failed: %s", failureMessage(tick))
	}
	return nil
}

func failureMessage(t *logdrain.Tick) string {
	if t.Error != "" {
		return t.Error
	}
	if t.Result != nil && t.Result.Status.Error != nil {
		return t.Result.Status.Error.Error()
	}
	return string(t.Phase)
}

func (c command) Serve(cmd *cobra.Command) error {
	cfg, logger, closer, err := c.env(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	d, err := logdrain.New(ctx, cfg, logdrain.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	logger.Info("logdrain daemon starting", "schedule", cfg.Schedule.Cron, "server", cfg.Server.Enabled, "listen", cfg.Server.Listen)
	return d.Serve(ctx)
}

// offline opens the checkpoint document without the Management API.
func (c command) offline(cmd *cobra.Command, fn func(ctx context.Context, cfg *logdrain.Config, cps *logdrain.Checkpoints) error) error {
	cfg, logger, closer, err := c.env(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cps, err := logdrain.OpenCheckpoints(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cps.Close() }()
	return fn(ctx, cfg, cps)
}

func (c command) Report(cmd *cobra.Command, f ReportFlags) error {
	if f.Hours <= 0 {
		return errors.New("--hours must be positive")
	}
	return c.offline(cmd, func(ctx context.Context, cfg *logdrain.Config, cps *logdrain.Checkpoints) error {
		to := time.Now()
		rep, err := cps.Report(ctx, to.Add(-time.Duration(f.Hours)*time.Hour), to)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), rep)
		if !f.Send {
			return nil
		}
		if cfg.Report.SlackWebhook == "" {
			return errors.New("--send requires report.slack_webhook")
		}
		report.NewSlack(report.SlackOptions{
			Hook:     cfg.Report.SlackWebhook,
			Username: cfg.Report.Username,
			Icon:     cfg.Report.Icon,
			Title:    cfg.Report.Title,
			URL:      cfg.Report.URL,
		}).SendReport(ctx, *rep)
		return nil
	})
}

func (c command) History(cmd *cobra.Command, f HistoryFlags) error {
	return c.offline(cmd, func(ctx context.Context, _ *logdrain.Config, cps *logdrain.Checkpoints) error {
		logs, err := cps.History(ctx)
		if err != nil {
			return err
		}
		if f.Limit > 0 && f.Limit < len(logs) {
			logs = logs[len(logs)-f.Limit:]
		}
		if logs == nil {
			logs = []status.Status{}
		}
		printJSON(cmd.OutOrStdout(), logs)
		return nil
	})
}

// checkpointView is the document minus the cached access token.
type checkpointView struct {
	Checkpoint     *string        `json:"checkpoint"`
	StartFrom      string         `json:"start_from,omitempty"`
	LastReportDate string         `json:"last_report_date,omitempty"`
	Runs           int            `json:"runs"`
	LastRun        *status.Status `json:"last_run,omitempty"`
}

func (c command) CheckpointShow(cmd *cobra.Command) error {
	return c.offline(cmd, func(ctx context.Context, _ *logdrain.Config, cps *logdrain.Checkpoints) error {
		doc, err := cps.Read(ctx)
		if err != nil {
			return err
		}
		v := checkpointView{StartFrom: doc.StartFrom, LastReportDate: doc.LastReportDate, Runs: len(doc.Logs)}
		if doc.CheckpointID != "" {
			v.Checkpoint = &doc.CheckpointID
		}
		if n := len(doc.Logs); n > 0 {
			v.LastRun = &doc.Logs[n-1]
		}
		printJSON(cmd.OutOrStdout(), v)
		return nil
	})
}

// CheckpointReset moves the cursor in storage. Stop the daemon first or use
// its API; a running daemon overwrites the cursor after its next batch.
func (c command) CheckpointReset(cmd *cobra.Command, cursor string) error {
	return c.offline(cmd, func(ctx context.Context, _ *logdrain.Config, cps *logdrain.Checkpoints) error {
		if err := cps.Reset(ctx, cursor); err != nil {
			return err
		}
		shown := cursor
		if shown == "" {
			shown = "the oldest available log"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint reset, next run resumes after %s\n", shown)
		return nil
	})
}

func listTypes(cmd *cobra.Command, f TypesFlags) error {
	types := logtypes.All()
	if f.Level != "" {
		lvl, err := logtypes.ParseLevel(f.Level)
		if err != nil {
			return err
		}
		filtered := types[:0]
		for _, t := range types {
			if t.Level >= lvl {
				filtered = append(filtered, t)
			}
		}
		types = filtered
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tLEVEL\tNAME")
	for _, t := range types {
		name := t.Name
		if t.Description != "" {
			name += " (" + t.Description + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", t.Code, t.Level, name)
	}
	return w.Flush()
}

func initConfig(cmd *cobra.Command, f InitFlags) error {
	b, err := template.NewGenerator().GenerateTOML(template.Kind(f.Kind), f.Domain)
	if err != nil {
		return err
	}
	if f.Output == "-" {
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}
	if _, err := os.Stat(f.Output); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", f.Output)
	}
	if err := os.WriteFile(f.Output, b, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\nSet LOGDRAIN_SOURCE_CLIENT_SECRET, then run: logdrain run --config=%s\n", f.Output, f.Output)
	return nil
}

func hashToken(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("token is empty")
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
