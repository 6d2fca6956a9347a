package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/logdrain/internal/status"
)

type hook struct {
	*httptest.Server
	mu       sync.Mutex
	messages []Message
	code     int
}

func newHook(t *testing.T) *hook {
	h := &hook{code: http.StatusOK}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		h.mu.Lock()
		h.messages = append(h.messages, m)
		code := h.code
		h.mu.Unlock()
		w.WriteHeader(code)
		if code >= 300 {
			_, _ = w.Write([]byte("invalid_payload"))
		}
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hook) received() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

func fieldValues(a Attachment) map[string]any {
	out := map[string]any{}
	for _, f := range a.Fields {
		out[f.Title] = f.Value
	}
	return out
}

func TestStatusMessageSuccess(t *testing.T) {
	s := NewSlack(SlackOptions{Hook: "http://unused", URL: "https://example.com/logs"})
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)
	m := s.StatusMessage(status.Status{Start: start, End: &end, LogsProcessed: 42}, "900")

	assert.Equal(t, "auth0-logger", m.Username)
	assert.Equal(t, ":rocket:", m.IconEmoji)
	require.Len(t, m.Attachments, 1)
	a := m.Attachments[0]
	assert.Equal(t, colorSuccess, a.Color)
	assert.Equal(t, "Auth0 Logger Success", a.Fallback)
	assert.Equal(t, "Auth0 Logger Success (<https://example.com/logs|Details>)", a.Text)
	assert.Len(t, a.Fields, 4)
	v := fieldValues(a)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", v["Start time"])
	assert.Equal(t, "2024-03-01T10:00:03.000Z", v["End time"])
	assert.Equal(t, 42, v["Logs processed"])
	assert.Equal(t, "900", v["Next checkpoint"])
}

func TestStatusMessageError(t *testing.T) {
	s := NewSlack(SlackOptions{Title: "Exporter", Username: "exporter"})
	err := multierror.Append(errors.New("sink down"), errors.New("Skipping logs from null to 100 after 5 retries."))
	m := s.StatusMessage(status.Status{Start: time.Now(), Error: status.NewErrorInfo(err)}, "")

	a := m.Attachments[0]
	assert.Equal(t, "exporter", m.Username)
	assert.Equal(t, colorError, a.Color)
	assert.Equal(t, "Exporter Error", a.Text)
	require.Len(t, a.Fields, 5)
	assert.Nil(t, fieldValues(a)["Next checkpoint"])
	assert.Nil(t, fieldValues(a)["End time"])
	last := a.Fields[4]
	assert.Equal(t, "Error", last.Title)
	assert.False(t, last.Short)
	assert.Contains(t, last.Value, "sink down")
	assert.Contains(t, last.Value, "Skipping logs from null to 100")
}

func TestReportMessage(t *testing.T) {
	s := NewSlack(SlackOptions{Fallback: "custom"})
	m := s.ReportMessage(status.Report{Type: "report", Processed: 300, Warnings: 1, Errors: 2, Checkpoint: "77"})
	a := m.Attachments[0]
	assert.Equal(t, "custom", a.Fallback)
	assert.Equal(t, colorSuccess, a.Color)
	v := fieldValues(a)
	assert.Equal(t, 300, v["Logs processed"])
	assert.Equal(t, 1, v["Warnings"])
	assert.Equal(t, 2, v["Errors"])
	assert.Equal(t, "77", v["Next checkpoint"])

	assert.Equal(t, "Auth0 Logger Daily Report", NewSlack(SlackOptions{}).ReportMessage(status.Report{}).Attachments[0].Text)
}

func TestSendPostsToHook(t *testing.T) {
	h := newHook(t)
	s := NewSlack(SlackOptions{Hook: h.URL})
	s.SendStatus(context.Background(), status.Status{Start: time.Now(), LogsProcessed: 1}, "1")
	s.SendReport(context.Background(), status.Report{Processed: 5})

	got := h.received()
	require.Len(t, got, 2)
	assert.Equal(t, "Auth0 Logger Success", got[0].Attachments[0].Fallback)
	assert.Equal(t, "Auth0 Logger Daily Report", got[1].Attachments[0].Fallback)
}

func TestSendSwallowsFailures(t *testing.T) {
	h := newHook(t)
	h.code = http.StatusBadRequest
	s := NewSlack(SlackOptions{Hook: h.URL})
	assert.NotPanics(t, func() {
		s.SendStatus(context.Background(), status.Status{}, "")
	})
	assert.Len(t, h.received(), 1)

	err := s.post(context.Background(), Message{})
	require.Error(t, err)
	assert.Equal(t, "status 400 - invalid_payload", err.Error())

	unreachable := NewSlack(SlackOptions{Hook: "http://127.0.0.1:1/hook"})
	assert.NotPanics(t, func() {
		unreachable.SendReport(context.Background(), status.Report{})
	})
}

func TestDisabledWithoutHook(t *testing.T) {
	s := NewSlack(SlackOptions{})
	assert.False(t, s.Enabled())
	s.SendStatus(context.Background(), status.Status{}, "")
}
