// Package status defines the run status record shared by the stream, the
// processor, the checkpoint history and the reporters.
package status

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrorInfo is the serialisable form of a run failure.
type ErrorInfo struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// NewErrorInfo flattens err. A multierror contributes one detail per wrapped
// error.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var me *multierror.Error
	if errors.As(err, &me) && len(me.Errors) > 0 {
		info := &ErrorInfo{Message: me.Errors[0].Error()}
		for _, e := range me.Errors {
			info.Details = append(info.Details, e.Error())
		}
		return info
	}
	return &ErrorInfo{Message: err.Error()}
}

// Status describes one run. End is nil while the run is active.
type Status struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end"`
	LogsProcessed   int        `json:"logsProcessed"`
	StartCheckpoint string     `json:"startCheckpoint,omitempty"`
	Warning         string     `json:"warning,omitempty"`
	Error           *ErrorInfo `json:"error,omitempty"`
	Checkpoint      string     `json:"checkpoint,omitempty"`
	RunID           string     `json:"runId,omitempty"`
}

// Finish sets the end time once.
func (s *Status) Finish(at time.Time) {
	if s.End == nil {
		s.End = &at
	}
}

// Failed reports whether the run recorded an error.
func (s *Status) Failed() bool { return s.Error != nil }

// Report aggregates history entries over a time window.
type Report struct {
	Type       string `json:"type"`
	Processed  int    `json:"processed"`
	Warnings   int    `json:"warnings"`
	Errors     int    `json:"errors"`
	Checkpoint string `json:"checkpoint"`
}

// Aggregate folds the entries that started at or after from and ended at or
// before to. Entries without an end time are ignored.
func Aggregate(entries []Status, from, to time.Time) Report {
	r := Report{Type: "report"}
	for _, e := range entries {
		if e.End == nil || e.Start.Before(from) || e.End.After(to) {
			continue
		}
		r.Processed += e.LogsProcessed
		r.Checkpoint = e.Checkpoint
		if e.Error != nil {
			r.Errors++
		}
		if e.Warning != "" {
			r.Warnings++
		}
	}
	return r
}
