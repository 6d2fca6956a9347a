// Package logsapitest provides an in-process Management API fake serving a
// fixed sequence of log records.
package logsapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a fake token and logs endpoint. Records have sequential ids
// "1".."N" so the last id of a page is a valid next cursor.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	records   []map[string]any
	remaining int

	TokenRequests atomic.Int32
	LogRequests   atomic.Int32
	// FailNext makes the next n logs requests answer with Status.
	FailNext   atomic.Int32
	FailStatus int
	ExpiresIn  int
}

// New serves count records of type "s" dated at date plus one second per record.
func New(count int, date time.Time) *Server {
	s := &Server{remaining: 50, FailStatus: http.StatusInternalServerError, ExpiresIn: 86400}
	for i := 1; i <= count; i++ {
		s.records = append(s.records, map[string]any{
			"_id":  strconv.Itoa(i),
			"type": "s",
			"date": date.Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339Nano),
		})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", s.token)
	mux.HandleFunc("/api/v2/logs", s.logs)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetType overrides the type of record id.
func (s *Server) SetType(id int, typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id-1]["type"] = typ
}

// SetRemaining sets the rate limit budget reported on every response.
func (s *Server) SetRemaining(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = n
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	s.TokenRequests.Add(1)
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["client_secret"] != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"access_denied","error_description":"Unauthorized"}`))
		return
	}
	writeJSON(w, map[string]any{"access_token": "tok-" + strconv.Itoa(int(s.TokenRequests.Load())), "expires_in": s.ExpiresIn})
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	s.LogRequests.Add(1)
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.FailNext.Load() > 0 {
		s.FailNext.Add(-1)
		w.WriteHeader(s.FailStatus)
		_, _ = w.Write([]byte(`{"statusCode":500,"error":"Internal Server Error","message":"boom"}`))
		return
	}

	q := r.URL.Query()
	take, _ := strconv.Atoi(q.Get("take"))
	if take == 0 {
		take, _ = strconv.Atoi(q.Get("per_page"))
	}
	var types map[string]bool
	if f := q.Get("q"); f != "" {
		types = map[string]bool{}
		for _, part := range strings.Split(f, " OR ") {
			types[strings.TrimPrefix(part, "type:")] = true
		}
	}

	s.mu.Lock()
	start := 0
	if from := q.Get("from"); from != "" {
		start, _ = strconv.Atoi(from)
	}
	var out []map[string]any
	for i := start; i < len(s.records) && len(out) < take; i++ {
		if types != nil && !types[s.records[i]["type"].(string)] {
			continue
		}
		out = append(out, s.records[i])
	}
	remaining := s.remaining
	s.mu.Unlock()

	w.Header().Set("X-Ratelimit-Limit", "50")
	w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
