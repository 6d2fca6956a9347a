package client

import (
	"fmt"
	"time"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type ResetRequest struct {
	Checkpoint string `json:"checkpoint"`
}

// RunError is the recorded failure of a run.
type RunError struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Run is one persisted processor run.
type Run struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end"`
	LogsProcessed   int        `json:"logsProcessed"`
	StartCheckpoint string     `json:"startCheckpoint,omitempty"`
	Warning         string     `json:"warning,omitempty"`
	Error           *RunError  `json:"error,omitempty"`
	Checkpoint      string     `json:"checkpoint,omitempty"`
	RunID           string     `json:"runId,omitempty"`
}

type Result struct {
	Status     Run     `json:"status"`
	Checkpoint *string `json:"checkpoint"`
}

// Tick is one scheduled or triggered execution inside the daemon.
type Tick struct {
	ID             string     `json:"id"`
	Trigger        string     `json:"trigger"`
	Phase          string     `json:"phase"`
	StartTime      time.Time  `json:"start_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	Result         *Result    `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	ReportSent     bool       `json:"report_sent,omitempty"`
}

type Status struct {
	Checkpoint     *string    `json:"checkpoint"`
	StartFrom      string     `json:"start_from,omitempty"`
	LastReportDate string     `json:"last_report_date,omitempty"`
	Runs           int        `json:"runs"`
	LastRun        *Run       `json:"last_run,omitempty"`
	Running        *Tick      `json:"running,omitempty"`
	LastTick       *Tick      `json:"last_tick,omitempty"`
	NextSchedule   *time.Time `json:"next_schedule,omitempty"`
}

type Report struct {
	Type       string `json:"type"`
	Processed  int    `json:"processed"`
	Warnings   int    `json:"warnings"`
	Errors     int    `json:"errors"`
	Checkpoint string `json:"checkpoint"`
}

type LogType struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
}
