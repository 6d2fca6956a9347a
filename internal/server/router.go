// Package server exposes the logdrain HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/logdrain/internal/auth"
	"github.com/loykin/logdrain/internal/checkpoint"
	"github.com/loykin/logdrain/internal/job"
	"github.com/loykin/logdrain/internal/logtypes"
	"github.com/loykin/logdrain/internal/status"
)

// Trigger labels ticks started over HTTP.
const Trigger = "http"

// Runner executes and tracks ticks.
type Runner interface {
	Run(ctx context.Context, trigger string) (*job.Tick, error)
	Running() *job.Tick
	Last() *job.Tick
	History() []*job.Tick
	// WhenIdle runs fn with ticks held off, or returns job.ErrBusy.
	WhenIdle(fn func() error) error
}

// Checkpoints reads and moves the persisted cursor.
type Checkpoints interface {
	Read(ctx context.Context) (*checkpoint.Document, error)
	Reset(ctx context.Context, cursor string) error
}

// Reports aggregates run history.
type Reports interface {
	Report(ctx context.Context, from, to time.Time) (*status.Report, error)
}

// DailySender sends the daily summary on demand.
type DailySender interface {
	Send(ctx context.Context) error
}

type Options struct {
	BasePath    string
	Runner      Runner
	Checkpoints Checkpoints
	Reports     Reports
	// Daily is optional; without it POST /report/send returns 404.
	Daily DailySender
	// NextSchedule is optional and reported by GET /status.
	NextSchedule func() time.Time
	Auth         *auth.Middleware
	// Metrics is mounted at MetricsPath outside the base path when set.
	Metrics     http.Handler
	MetricsPath string
	Now         func() time.Time
}

// Router provides embeddable HTTP handlers.
// Endpoints:
//
//	POST {basePath}/run               run one tick now (409 while one is running)
//	GET  {basePath}/status            checkpoint summary with current and last tick
//	GET  {basePath}/ticks             recent ticks
//	GET  {basePath}/history           persisted run history, query: limit=N
//	GET  {basePath}/report            query: hours=24
//	POST {basePath}/report/send       send the daily report now
//	POST {basePath}/checkpoint/reset  body: {"checkpoint": "..."}
//	GET  {basePath}/types             log type catalog
//	GET  /healthz
type Router struct {
	opts     Options
	basePath string
}

func NewRouter(opts Options) *Router {
	if opts.Auth == nil {
		opts.Auth = auth.NewMiddleware(nil)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{opts: opts, basePath: sanitizeBase(opts.BasePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	if r.opts.Metrics != nil {
		g.GET(r.opts.MetricsPath, gin.WrapH(r.opts.Auth.HTTPAuth(r.opts.Metrics)))
	}

	group := g.Group(r.basePath, r.opts.Auth.GinAuth())
	group.POST("/run", r.handleRun)
	group.GET("/status", r.handleStatus)
	group.GET("/ticks", r.handleTicks)
	group.GET("/history", r.handleHistory)
	group.GET("/report", r.handleReport)
	group.POST("/report/send", r.handleReportSend)
	group.POST("/checkpoint/reset", r.handleReset)
	group.GET("/types", r.handleTypes)
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Checkpoint     *string    `json:"checkpoint"`
	StartFrom      string     `json:"start_from,omitempty"`
	LastReportDate string     `json:"last_report_date,omitempty"`
	Runs           int        `json:"runs"`
	LastRun        any        `json:"last_run,omitempty"`
	Running        *job.Tick  `json:"running,omitempty"`
	LastTick       *job.Tick  `json:"last_tick,omitempty"`
	NextSchedule   *time.Time `json:"next_schedule,omitempty"`
}

type resetReq struct {
	Checkpoint string `json:"checkpoint"`
}

func (r *Router) handleRun(c *gin.Context) {
	// the run outlives a disconnected client so the checkpoint stays consistent
	ctx := context.WithoutCancel(c.Request.Context())
	tick, err := r.opts.Runner.Run(ctx, Trigger)
	switch {
	case errors.Is(err, job.ErrBusy):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, tick)
	default:
		writeJSON(c, http.StatusOK, tick)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	doc, err := r.opts.Checkpoints.Read(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	resp := statusResp{
		StartFrom:      doc.StartFrom,
		LastReportDate: doc.LastReportDate,
		Runs:           len(doc.Logs),
		Running:        r.opts.Runner.Running(),
		LastTick:       r.opts.Runner.Last(),
	}
	if doc.CheckpointID != "" {
		cp := doc.CheckpointID
		resp.Checkpoint = &cp
	}
	if n := len(doc.Logs); n > 0 {
		resp.LastRun = doc.Logs[n-1]
	}
	if r.opts.NextSchedule != nil {
		if next := r.opts.NextSchedule(); !next.IsZero() {
			resp.NextSchedule = &next
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleTicks(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.opts.Runner.History())
}

func (r *Router) handleHistory(c *gin.Context) {
	doc, err := r.opts.Checkpoints.Read(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	logs := doc.Logs
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		if n < len(logs) {
			logs = logs[len(logs)-n:]
		}
	}
	if logs == nil {
		logs = []status.Status{}
	}
	writeJSON(c, http.StatusOK, logs)
}

func (r *Router) handleReport(c *gin.Context) {
	hours := 24
	if s := c.Query("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "hours must be a positive integer"})
			return
		}
		hours = n
	}
	to := r.opts.Now()
	rep, err := r.opts.Reports.Report(c.Request.Context(), to.Add(-time.Duration(hours)*time.Hour), to)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleReportSend(c *gin.Context) {
	if r.opts.Daily == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "reporting is not configured"})
		return
	}
	if err := r.opts.Daily.Send(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReset(c *gin.Context) {
	var req resetReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	err := r.opts.Runner.WhenIdle(func() error {
		return r.opts.Checkpoints.Reset(c.Request.Context(), req.Checkpoint)
	})
	switch {
	case errors.Is(err, job.ErrBusy):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTypes(c *gin.Context) {
	writeJSON(c, http.StatusOK, logtypes.All())
}
