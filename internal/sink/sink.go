// Package sink holds the destinations processed log batches are written to.
package sink

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/metrics"
)

// Sink is a destination for log batches. A batch may be written more than
// once after a failed attempt, so implementations should key on the record id.
// Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, batch []logsapi.Record) error
	Close() error
}

// Multi writes every batch to each registered sink in order.
type Multi struct {
	names []string
	sinks []Sink
}

func NewMulti() *Multi { return &Multi{} }

// Add registers s under name. The name labels metrics and errors.
func (m *Multi) Add(name string, s Sink) {
	m.names = append(m.names, name)
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Len() int { return len(m.sinks) }

// Write fails when any sink fails. Sinks that succeeded see the batch again
// on the retry.
func (m *Multi) Write(ctx context.Context, batch []logsapi.Record) error {
	var result *multierror.Error
	for i, s := range m.sinks {
		err := s.Write(ctx, batch)
		metrics.IncSinkWrite(m.names[i], err == nil)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("sink %s: %w", m.names[i], err))
		}
	}
	return result.ErrorOrNil()
}

// Handle adapts Write to the processor handler signature.
func (m *Multi) Handle(ctx context.Context, batch []logsapi.Record) error {
	return m.Write(ctx, batch)
}

func (m *Multi) Close() error {
	var result *multierror.Error
	for i, s := range m.sinks {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sink %s: %w", m.names[i], err))
		}
	}
	return result.ErrorOrNil()
}
