package checkpoint

import (
	"encoding/json"

	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/status"
)

// Document is the persisted state. Fields this package does not know about
// survive a read-modify-write cycle.
type Document struct {
	CheckpointID   string
	StartFrom      string
	Logs           []status.Status
	Token          *logsapi.Token
	LastReportDate string

	extra map[string]json.RawMessage
}

var knownFields = []string{"checkpointId", "startFrom", "logs", "logs_access_token", "lastReportDate"}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var known struct {
		CheckpointID   *string         `json:"checkpointId"`
		StartFrom      *string         `json:"startFrom"`
		Logs           []status.Status `json:"logs"`
		Token          *logsapi.Token  `json:"logs_access_token"`
		LastReportDate string          `json:"lastReportDate"`
	}
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	*d = Document{Logs: known.Logs, Token: known.Token, LastReportDate: known.LastReportDate}
	if known.CheckpointID != nil {
		d.CheckpointID = *known.CheckpointID
	}
	if known.StartFrom != nil {
		d.StartFrom = *known.StartFrom
	}
	for _, k := range knownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		d.extra = raw
	}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+len(knownFields))
	for k, v := range d.extra {
		out[k] = v
	}
	out["checkpointId"] = nullable(d.CheckpointID)
	if d.StartFrom != "" {
		out["startFrom"] = d.StartFrom
	}
	logs := d.Logs
	if logs == nil {
		logs = []status.Status{}
	}
	out["logs"] = logs
	if d.Token != nil {
		out["logs_access_token"] = d.Token
	}
	if d.LastReportDate != "" {
		out["lastReportDate"] = d.LastReportDate
	}
	return json.Marshal(out)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
