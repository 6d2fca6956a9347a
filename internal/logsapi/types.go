package logsapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one log entry returned by the Management API. Only the id, type
// and date are interpreted; Raw keeps the full object for forwarding.
type Record struct {
	ID   string
	Type string
	Date time.Time
	Raw  json.RawMessage
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var head struct {
		ID    string `json:"_id"`
		LogID string `json:"log_id"`
		Type  string `json:"type"`
		Date  string `json:"date"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	r.ID = head.ID
	if r.ID == "" {
		r.ID = head.LogID
	}
	if r.ID == "" {
		return fmt.Errorf("log record without id")
	}
	r.Type = head.Type
	r.Date = time.Time{}
	if head.Date != "" {
		d, err := time.Parse(time.RFC3339Nano, head.Date)
		if err != nil {
			return fmt.Errorf("log record %s: bad date %q: %w", r.ID, head.Date, err)
		}
		r.Date = d
	}
	r.Raw = append(r.Raw[:0], b...)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(struct {
		ID   string    `json:"_id"`
		Type string    `json:"type,omitempty"`
		Date time.Time `json:"date"`
	}{r.ID, r.Type, r.Date})
}

// RateLimit carries the x-ratelimit-* response headers. HasRemaining is false
// when the response did not carry a remaining count.
type RateLimit struct {
	Limit        int
	Remaining    int
	Reset        int64
	HasRemaining bool
}

// PageRequest selects one page of records. An empty Cursor starts from the
// beginning using page based paging.
type PageRequest struct {
	Cursor       string
	Take         int
	Types        []string
	ServerFilter bool
}

// Page is the result of one fetch.
type Page struct {
	Records   []Record
	RateLimit RateLimit
}

// Token is a cached bearer credential. ExpiresAt is in unix milliseconds.
type Token struct {
	AccessToken string `json:"token"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// expiryMargin is how close to expiry a cached token is still reused.
const expiryMargin = 10 * time.Second

// Fresh reports whether the token can be used at now.
func (t *Token) Fresh(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt-now.UnixMilli() > expiryMargin.Milliseconds()
}
