package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/logdrain/internal/auth"
	"github.com/loykin/logdrain/internal/checkpoint"
	"github.com/loykin/logdrain/internal/job"
	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/processor"
	"github.com/loykin/logdrain/internal/status"
	"github.com/loykin/logdrain/internal/store"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeRunner struct {
	tick    *job.Tick
	err     error
	running *job.Tick
	calls   int
	ctxErr  error
}

func (f *fakeRunner) Run(ctx context.Context, trigger string) (*job.Tick, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	if f.tick != nil {
		f.tick.Trigger = trigger
	}
	return f.tick, f.err
}
func (f *fakeRunner) Running() *job.Tick { return f.running }
func (f *fakeRunner) WhenIdle(fn func() error) error {
	if f.running != nil {
		return job.ErrBusy
	}
	return fn()
}
func (f *fakeRunner) Last() *job.Tick    { return f.tick }
func (f *fakeRunner) History() []*job.Tick {
	if f.tick == nil {
		return nil
	}
	return []*job.Tick{f.tick}
}

type fakeDaily struct {
	calls int
	err   error
}

func (f *fakeDaily) Send(context.Context) error {
	f.calls++
	return f.err
}

func newCheckpoints(t *testing.T) *checkpoint.Store {
	t.Helper()
	cs, err := checkpoint.New(store.NewMemory(), checkpoint.Options{})
	require.NoError(t, err)
	return cs
}

func finished(start time.Time, n int) status.Status {
	end := start.Add(time.Minute)
	return status.Status{Start: start, End: &end, LogsProcessed: n}
}

func newTestRouter(t *testing.T, runner Runner, cs *checkpoint.Store, opts Options) http.Handler {
	t.Helper()
	proc, err := processor.New(cs, &logsapi.Client{}, processor.Options{})
	require.NoError(t, err)
	opts.Runner = runner
	opts.Checkpoints = cs
	opts.Reports = proc
	return NewRouter(opts).Handler()
}

func do(h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		r.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "api": "/api", "/api/": "/api", " /x/y/ ": "/x/y"}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), in)
	}
}

func TestRunEndpoint(t *testing.T) {
	cs := newCheckpoints(t)
	runner := &fakeRunner{tick: &job.Tick{ID: "t1", Phase: job.PhaseSucceeded, Result: &processor.Result{Checkpoint: "90"}}}
	h := newTestRouter(t, runner, cs, Options{BasePath: "/api"})

	w := do(h, http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "t1", got["id"])
	assert.Equal(t, Trigger, got["trigger"])
	assert.Equal(t, "90", got["result"].(map[string]any)["checkpoint"])
	assert.NoError(t, runner.ctxErr)
}

func TestRunEndpointBusyAndFailure(t *testing.T) {
	cs := newCheckpoints(t)
	busy := &fakeRunner{err: job.ErrBusy}
	w := do(newTestRouter(t, busy, cs, Options{}), http.MethodPost, "/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in progress")

	failed := &fakeRunner{tick: &job.Tick{ID: "t2", Phase: job.PhaseFailed, Error: "disk full"}, err: errors.New("disk full")}
	w = do(newTestRouter(t, failed, cs, Options{}), http.MethodPost, "/run", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "disk full")
}

func TestStatusHidesToken(t *testing.T) {
	ctx := context.Background()
	cs := newCheckpoints(t)
	require.NoError(t, cs.SetToken(ctx, &logsapi.Token{AccessToken: "secret-token", ExpiresAt: 1}))
	require.NoError(t, cs.Done(ctx, status.Status{Start: time.Now(), LogsProcessed: 3}, "42"))
	next := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	h := newTestRouter(t, &fakeRunner{}, cs, Options{NextSchedule: func() time.Time { return next }})

	w := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-token")
	var got statusResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, "42", *got.Checkpoint)
	assert.Equal(t, 1, got.Runs)
	require.NotNil(t, got.NextSchedule)
	assert.True(t, next.Equal(*got.NextSchedule))
}

func TestStatusEmptyCheckpointIsNull(t *testing.T) {
	h := newTestRouter(t, &fakeRunner{}, newCheckpoints(t), Options{})
	w := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"checkpoint":null`)
}

func TestHistoryLimit(t *testing.T) {
	ctx := context.Background()
	cs := newCheckpoints(t)
	for i, cp := range []string{"1", "2", "3"} {
		require.NoError(t, cs.Done(ctx, status.Status{Start: time.Unix(int64(i), 0), LogsProcessed: 1}, cp))
	}
	h := newTestRouter(t, &fakeRunner{}, cs, Options{})

	w := do(h, http.MethodGet, "/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []status.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].Checkpoint)
	assert.Equal(t, "3", got[1].Checkpoint)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/history?limit=x", "").Code)

	w = do(newTestRouter(t, &fakeRunner{}, newCheckpoints(t), Options{}), http.MethodGet, "/history", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestReportEndpoint(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cs := newCheckpoints(t)
	require.NoError(t, cs.Done(ctx, finished(now.Add(-48*time.Hour), 100), "7"))
	require.NoError(t, cs.Done(ctx, finished(now.Add(-time.Hour), 7), "8"))
	h := newTestRouter(t, &fakeRunner{}, cs, Options{Now: func() time.Time { return now }})

	w := do(h, http.MethodGet, "/report", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got status.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.Processed)
	assert.Equal(t, "8", got.Checkpoint)

	w = do(h, http.MethodGet, "/report?hours=72", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 107, got.Processed)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/report?hours=0", "").Code)
}

func TestReportSend(t *testing.T) {
	cs := newCheckpoints(t)
	assert.Equal(t, http.StatusNotFound, do(newTestRouter(t, &fakeRunner{}, cs, Options{}), http.MethodPost, "/report/send", "").Code)

	daily := &fakeDaily{}
	h := newTestRouter(t, &fakeRunner{}, cs, Options{Daily: daily})
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/report/send", "").Code)
	assert.Equal(t, 1, daily.calls)

	daily.err = errors.New("slack down")
	assert.Equal(t, http.StatusInternalServerError, do(h, http.MethodPost, "/report/send", "").Code)
}

func TestCheckpointReset(t *testing.T) {
	ctx := context.Background()
	cs := newCheckpoints(t)
	require.NoError(t, cs.Done(ctx, status.Status{Start: time.Now(), LogsProcessed: 1}, "500"))
	runner := &fakeRunner{}
	h := newTestRouter(t, runner, cs, Options{})

	w := do(h, http.MethodPost, "/checkpoint/reset", `{"checkpoint":"120"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc, err := cs.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "120", doc.CheckpointID)

	w = do(h, http.MethodPost, "/checkpoint/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc, _ = cs.Read(ctx)
	assert.Equal(t, "", doc.CheckpointID)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/checkpoint/reset", `{bad`).Code)

	runner.running = &job.Tick{ID: "busy", Phase: job.PhaseRunning}
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/checkpoint/reset", `{"checkpoint":"1"}`).Code)
}

func TestTypesAndHealth(t *testing.T) {
	h := newTestRouter(t, &fakeRunner{}, newCheckpoints(t), Options{BasePath: "/api"})
	w := do(h, http.MethodGet, "/api/types", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"s"`)

	w = do(h, http.MethodGet, "/healthz", "")
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	v, err := auth.NewVerifier("letmein", "")
	require.NoError(t, err)
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1\n")) })
	h := newTestRouter(t, &fakeRunner{}, newCheckpoints(t), Options{
		BasePath: "/api",
		Auth:     auth.NewMiddleware(v),
		Metrics:  metricsHandler,
	})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", "Authorization", "Bearer letmein").Code)
	w := do(h, http.MethodGet, "/metrics", "", "Authorization", "Bearer letmein")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("m 1")))
	// health stays open for probes
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
}
