// Package checkpoint persists the resume cursor, the run history and the
// cached access token in a single opaque document.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/loykin/logdrain/internal/logsapi"
	"github.com/loykin/logdrain/internal/status"
)

// DefaultHistoryLimit bounds the serialised document size.
const DefaultHistoryLimit = 400 * 1024

// trimBlock is how many history entries are dropped at a time.
const trimBlock = 5

// Storage reads and writes the raw document. Read returns nil, nil when
// nothing has been written yet.
type Storage interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

type Options struct {
	// HistoryLimitBytes defaults to DefaultHistoryLimit.
	HistoryLimitBytes int
	Logger            *slog.Logger
}

// Store is the only writer of persisted progress.
type Store struct {
	storage Storage
	limit   int
	logger  *slog.Logger
	mu      sync.Mutex
}

func New(storage Storage, opts Options) (*Store, error) {
	if storage == nil {
		return nil, logsapi.ArgumentError("the storage is required")
	}
	if opts.HistoryLimitBytes <= 0 {
		opts.HistoryLimitBytes = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{storage: storage, limit: opts.HistoryLimitBytes, logger: opts.Logger.With("component", "checkpoint")}, nil
}

func (s *Store) read(ctx context.Context) (*Document, error) {
	b, err := s.storage.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint document: %w", err)
	}
	doc := &Document{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint document: %w", err)
	}
	return doc, nil
}

func (s *Store) write(ctx context.Context, doc *Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoint document: %w", err)
	}
	if err := s.storage.Write(ctx, b); err != nil {
		return fmt.Errorf("write checkpoint document: %w", err)
	}
	return nil
}

// update runs fn over the current document and writes it back.
func (s *Store) update(ctx context.Context, fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(ctx, doc)
}

var errNoChange = errors.New("no change")

// Read returns a snapshot of the document.
func (s *Store) Read(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

// GetCheckpoint returns the cursor to resume from. A startFrom different from
// the stored marker replaces both the marker and the cursor and is persisted
// immediately.
func (s *Store) GetCheckpoint(ctx context.Context, startFrom string) (string, error) {
	var cursor string
	err := s.update(ctx, func(doc *Document) error {
		if startFrom == "" || startFrom == doc.StartFrom {
			cursor = doc.CheckpointID
			return errNoChange
		}
		s.logger.Info("overriding stored checkpoint", "from", doc.CheckpointID, "to", startFrom)
		doc.StartFrom = startFrom
		doc.CheckpointID = startFrom
		cursor = startFrom
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return "", err
	}
	return cursor, nil
}

// Done appends st to the history with its checkpoint set, trims the history
// to the size limit and stores checkpoint as the resume cursor.
func (s *Store) Done(ctx context.Context, st status.Status, checkpoint string) error {
	return s.update(ctx, func(doc *Document) error {
		st.Checkpoint = checkpoint
		doc.Logs = append(doc.Logs, st)
		doc.CheckpointID = checkpoint
		return s.trim(doc)
	})
}

// trim drops the oldest entries in blocks until the document fits, always
// keeping the newest entry. When that entry alone is too large its free text
// is cut down. The limit can still be exceeded by fields outside the history.
func (s *Store) trim(doc *Document) error {
	for {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode checkpoint document: %w", err)
		}
		if len(b) < s.limit {
			return nil
		}
		if len(doc.Logs) > 1 {
			n := min(trimBlock, len(doc.Logs)-1)
			doc.Logs = append(doc.Logs[:0:0], doc.Logs[n:]...)
			s.logger.Debug("trimmed checkpoint history", "dropped", n, "size", len(b), "limit", s.limit)
			continue
		}
		if len(doc.Logs) == 0 || !shrink(&doc.Logs[0], len(b)-s.limit+1) {
			s.logger.Warn("checkpoint document exceeds size limit", "size", len(b), "limit", s.limit)
			return nil
		}
	}
}

const ellipsis = "..."

// shrink removes about over bytes of text from st: error details go first,
// then the error message and the warning are shortened. It reports false
// when nothing is left to cut.
func shrink(st *status.Status, over int) bool {
	if st.Error != nil {
		// the caller may still hold the original
		e := *st.Error
		st.Error = &e
		if len(e.Details) > 0 {
			e.Details = nil
			return true
		}
		if e.Message != "" {
			e.Message = cut(e.Message, over)
			return true
		}
	}
	if st.Warning != "" {
		st.Warning = cut(st.Warning, over)
		return true
	}
	return false
}

// cut shortens v by at least over bytes on a rune boundary. The result is
// always shorter than v.
func cut(v string, over int) string {
	keep := max(len(v)-over-len(ellipsis), 0)
	for keep > 0 && !utf8.RuneStart(v[keep]) {
		keep--
	}
	if keep == 0 {
		return ""
	}
	return v[:keep] + ellipsis
}

// History returns the stored run history, oldest first.
func (s *Store) History(ctx context.Context) ([]status.Status, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Logs, nil
}

// Reset moves the resume cursor. An empty cursor restarts from the beginning.
func (s *Store) Reset(ctx context.Context, cursor string) error {
	return s.update(ctx, func(doc *Document) error {
		doc.CheckpointID = cursor
		return nil
	})
}

// GetToken implements logsapi.TokenCache.
func (s *Store) GetToken(ctx context.Context) (*logsapi.Token, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Token, nil
}

// SetToken implements logsapi.TokenCache.
func (s *Store) SetToken(ctx context.Context, t *logsapi.Token) error {
	return s.update(ctx, func(doc *Document) error {
		doc.Token = t
		return nil
	})
}

func (s *Store) LastReportDate(ctx context.Context) (string, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return "", err
	}
	return doc.LastReportDate, nil
}

func (s *Store) SetLastReportDate(ctx context.Context, date string) error {
	return s.update(ctx, func(doc *Document) error {
		doc.LastReportDate = date
		return nil
	})
}
