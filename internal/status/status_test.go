package status

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
)

func ended(start time.Time, d time.Duration) *time.Time {
	e := start.Add(d)
	return &e
}

func TestAggregate(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []Status{
		{Start: base.Add(-time.Hour), End: ended(base.Add(-time.Hour), time.Minute), LogsProcessed: 7, Checkpoint: "old"},
		{Start: base, End: ended(base, time.Minute), LogsProcessed: 10, Checkpoint: "a"},
		{Start: base.Add(time.Hour), End: ended(base.Add(time.Hour), time.Minute), LogsProcessed: 5, Warning: "w", Checkpoint: "b"},
		{Start: base.Add(2 * time.Hour), End: ended(base.Add(2*time.Hour), time.Minute), Error: &ErrorInfo{Message: "x"}, Checkpoint: "c"},
		{Start: base.Add(3 * time.Hour), LogsProcessed: 99},
	}
	r := Aggregate(entries, base, base.Add(24*time.Hour))
	assert.Equal(t, Report{Type: "report", Processed: 15, Warnings: 1, Errors: 1, Checkpoint: "c"}, r)
}

func TestNewErrorInfo(t *testing.T) {
	assert.Nil(t, NewErrorInfo(nil))

	info := NewErrorInfo(errors.New("boom"))
	assert.Equal(t, "boom", info.Message)
	assert.Empty(t, info.Details)

	var me *multierror.Error
	me = multierror.Append(me, errors.New("handler failed"), errors.New("Skipping logs from 1 to 2 after 5 retries."))
	info = NewErrorInfo(me)
	assert.Equal(t, "handler failed", info.Message)
	assert.Equal(t, []string{"handler failed", "Skipping logs from 1 to 2 after 5 retries."}, info.Details)
}

func TestFinishKeepsFirstEnd(t *testing.T) {
	var s Status
	first := time.Now()
	s.Finish(first)
	s.Finish(first.Add(time.Hour))
	assert.True(t, s.End.Equal(first))
}
