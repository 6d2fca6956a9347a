// Package report posts run status and daily summaries to a Slack webhook.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/logdrain/internal/metrics"
	"github.com/loykin/logdrain/internal/status"
)

const (
	colorError   = "#d13f42"
	colorSuccess = "#7cd197"

	// TimeLayout renders status times in Slack fields.
	TimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Notifier delivers run outcomes. Implementations never fail the caller.
type Notifier interface {
	SendStatus(ctx context.Context, st status.Status, checkpoint string)
	SendReport(ctx context.Context, r status.Report)
}

type SlackOptions struct {
	// Hook is the incoming webhook URL. An empty hook disables sending.
	Hook     string
	Username string
	Icon     string
	Title    string
	// URL adds a details link to every message.
	URL      string
	Fallback string
	Text     string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Slack posts attachments to an incoming webhook.
type Slack struct {
	opts   SlackOptions
	client *http.Client
	logger *slog.Logger
}

func NewSlack(opts SlackOptions) *Slack {
	if opts.Username == "" {
		opts.Username = "auth0-logger"
	}
	if opts.Icon == "" {
		opts.Icon = ":rocket:"
	}
	if opts.Title == "" {
		opts.Title = "Auth0 Logger"
	}
	c := opts.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: 10 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Slack{opts: opts, client: c, logger: l.With("component", "slack")}
}

// Enabled reports whether a webhook is configured.
func (s *Slack) Enabled() bool { return s.opts.Hook != "" }

type Field struct {
	Title string `json:"title"`
	Value any    `json:"value"`
	Short bool   `json:"short"`
}

type Attachment struct {
	Color    string  `json:"color"`
	Fallback string  `json:"fallback"`
	Text     string  `json:"text"`
	Fields   []Field `json:"fields"`
}

type Message struct {
	Username    string       `json:"username"`
	IconEmoji   string       `json:"icon_emoji"`
	Attachments []Attachment `json:"attachments"`
}

// StatusMessage builds the payload for one run.
func (s *Slack) StatusMessage(st status.Status, checkpoint string) Message {
	title := s.opts.Title + " Success"
	if st.Error != nil {
		title = s.opts.Title + " Error"
	}
	var end any
	if st.End != nil {
		end = st.End.UTC().Format(TimeLayout)
	}
	var start any
	if !st.Start.IsZero() {
		start = st.Start.UTC().Format(TimeLayout)
	}
	fields := []Field{
		{Title: "Start time", Value: start, Short: true},
		{Title: "End time", Value: end, Short: true},
		{Title: "Logs processed", Value: st.LogsProcessed, Short: true},
		{Title: "Next checkpoint", Value: nullable(checkpoint), Short: true},
	}
	return s.message(title, fields, st.Error)
}

// ReportMessage builds the daily summary payload.
func (s *Slack) ReportMessage(r status.Report) Message {
	fields := []Field{
		{Title: "Logs processed", Value: r.Processed, Short: true},
		{Title: "Warnings", Value: r.Warnings, Short: true},
		{Title: "Errors", Value: r.Errors, Short: true},
		{Title: "Next checkpoint", Value: nullable(r.Checkpoint), Short: true},
	}
	return s.message(s.opts.Title+" Daily Report", fields, nil)
}

func (s *Slack) message(title string, fields []Field, failure *status.ErrorInfo) Message {
	fallback := title
	if s.opts.Fallback != "" {
		fallback = s.opts.Fallback
	}
	color := colorSuccess
	if failure != nil {
		color = colorError
		b, _ := json.Marshal(failure)
		fields = append(fields, Field{Title: "Error", Value: string(b), Short: false})
	}
	text := fallback
	if s.opts.URL != "" {
		text += " (<" + s.opts.URL + "|Details>)"
	}
	return Message{
		Username:  s.opts.Username,
		IconEmoji: s.opts.Icon,
		Attachments: []Attachment{{
			Color:    color,
			Fallback: fallback,
			Text:     text,
			Fields:   fields,
		}},
	}
}

func (s *Slack) SendStatus(ctx context.Context, st status.Status, checkpoint string) {
	s.send(ctx, "status", s.StatusMessage(st, checkpoint))
}

func (s *Slack) SendReport(ctx context.Context, r status.Report) {
	s.send(ctx, "report", s.ReportMessage(r))
}

// send logs delivery failures instead of returning them.
func (s *Slack) send(ctx context.Context, kind string, msg Message) {
	if !s.Enabled() {
		return
	}
	err := s.post(ctx, msg)
	metrics.IncReport(kind, err == nil)
	if err != nil {
		s.logger.Error("error sending to slack", "kind", kind, "error", err)
	}
}

func (s *Slack) post(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Hook, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(body) == 0 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("status %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
