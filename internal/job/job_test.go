package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/processor"
	"github.com/loykin/logdrain/internal/report"
	"github.com/loykin/logdrain/internal/status"
)

type fakeProcessor struct {
	result *processor.Result
	err    error
	block  chan struct{}
	calls  int
}

func (f *fakeProcessor) Run(ctx context.Context, h processor.Handler) (*processor.Result, error) {
	f.calls++
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

type notifications struct {
	mu       sync.Mutex
	statuses []status.Status
	cps      []string
	reports  []status.Report
}

func (n *notifications) SendStatus(_ context.Context, st status.Status, cp string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, st)
	n.cps = append(n.cps, cp)
}

func (n *notifications) SendReport(_ context.Context, r status.Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, r)
}

func noop(context.Context, []logsapi.Record) error { return nil }

func success(n int, cp string) *processor.Result {
	return &processor.Result{Status: status.Status{Start: time.Now(), LogsProcessed: n}, Checkpoint: cp}
}

func TestSuccessIsQuietByDefault(t *testing.T) {
	n := &notifications{}
	r := NewRunner(&fakeProcessor{result: success(10, "10")}, noop, n, nil, Options{})
	tick, err := r.Run(context.Background(), "cron")
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, tick.Phase)
	assert.Equal(t, "cron", tick.Trigger)
	assert.NotEmpty(t, tick.ID)
	assert.NotNil(t, tick.CompletionTime)
	assert.Empty(t, n.statuses)
	assert.Same(t, tick, r.Last())
}

func TestSendSuccess(t *testing.T) {
	n := &notifications{}
	r := NewRunner(&fakeProcessor{result: success(10, "10")}, noop, n, nil, Options{SendSuccess: true})
	_, err := r.Run(context.Background(), "manual")
	require.NoError(t, err)
	require.Len(t, n.statuses, 1)
	assert.Equal(t, "10", n.cps[0])
}

func TestFailedRunIsNotified(t *testing.T) {
	n := &notifications{}
	res := success(0, "5")
	res.Status.Error = &status.ErrorInfo{Message: "sink down"}
	r := NewRunner(&fakeProcessor{result: res}, noop, n, nil, Options{})
	tick, err := r.Run(context.Background(), "cron")
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, tick.Phase)
	require.Len(t, n.statuses, 1)
	assert.Equal(t, "sink down", n.statuses[0].Error.Message)
	assert.Equal(t, "5", n.cps[0])
}

func TestStorageErrorIsNotified(t *testing.T) {
	n := &notifications{}
	r := NewRunner(&fakeProcessor{err: errors.New("storage unavailable")}, noop, n, nil, Options{})
	tick, err := r.Run(context.Background(), "cron")
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, tick.Phase)
	assert.Equal(t, "storage unavailable", tick.Error)
	require.Len(t, n.statuses, 1)
	assert.Equal(t, 0, n.statuses[0].LogsProcessed)
	assert.Equal(t, "", n.cps[0])
}

type reportSource struct{}

func (reportSource) Report(context.Context, time.Time, time.Time) (*status.Report, error) {
	return &status.Report{Type: "report", Processed: 3}, nil
}

type dates struct{ last string }

func (d *dates) LastReportDate(context.Context) (string, error) { return d.last, nil }
func (d *dates) SetLastReportDate(_ context.Context, v string) error {
	d.last = v
	return nil
}

func TestDailyReportAfterTick(t *testing.T) {
	n := &notifications{}
	now := time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)
	daily := report.NewDaily(reportSource{}, &dates{}, n, report.DailyOptions{Location: time.UTC, Now: func() time.Time { return now }})
	r := NewRunner(&fakeProcessor{result: success(1, "1")}, noop, n, daily, Options{})

	tick, err := r.Run(context.Background(), "cron")
	require.NoError(t, err)
	assert.True(t, tick.ReportSent)
	require.Len(t, n.reports, 1)

	tick, err = r.Run(context.Background(), "cron")
	require.NoError(t, err)
	assert.False(t, tick.ReportSent)
	assert.Len(t, r.History(), 2)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	p := &fakeProcessor{result: success(1, "1"), block: make(chan struct{})}
	r := NewRunner(p, noop, nil, nil, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), "cron")
	}()
	require.Eventually(t, func() bool { return r.Running() != nil }, time.Second, 5*time.Millisecond)

	_, err := r.Run(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrBusy)

	close(p.block)
	<-done
	assert.Nil(t, r.Running())
	assert.Equal(t, 1, p.calls)
}

func TestWhenIdleExcludesTicks(t *testing.T) {
	p := &fakeProcessor{result: success(1, "1"), block: make(chan struct{})}
	r := NewRunner(p, noop, nil, nil, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), "cron")
	}()
	require.Eventually(t, func() bool { return r.Running() != nil }, time.Second, 5*time.Millisecond)

	called := false
	err := r.WhenIdle(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, called)
	close(p.block)
	<-done

	// a tick requested while fn holds the lock is rejected
	p.block = nil
	err = r.WhenIdle(func() error {
		_, runErr := r.Run(context.Background(), "cron")
		assert.ErrorIs(t, runErr, ErrBusy)
		return errors.New("reset failed")
	})
	assert.EqualError(t, err, "reset failed")
	assert.Equal(t, 1, p.calls)

	_, err = r.Run(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestHistoryIsBounded(t *testing.T) {
	r := NewRunner(&fakeProcessor{result: success(1, "1")}, noop, nil, nil, Options{HistoryLimit: 2})
	for i := 0; i < 5; i++ {
		_, err := r.Run(context.Background(), "cron")
		require.NoError(t, err)
	}
	assert.Len(t, r.History(), 2)
}
