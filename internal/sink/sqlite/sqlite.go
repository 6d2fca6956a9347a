package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/logdrain/internal/logsapi"
)

// Sink writes log records to a SQLite table keyed by log id.
type Sink struct {
	db *sql.DB
}

// New opens the database and creates the table when missing.
// DSN format: "file:/path/to/file.db", "/path/to/file.db" or ":memory:".
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tenant_logs(
		log_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		date TIMESTAMP,
		raw TEXT NOT NULL
	);`)
	return err
}

// Write inserts the batch in one transaction. Records already stored are left
// untouched.
func (s *Sink) Write(ctx context.Context, batch []logsapi.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tenant_logs(log_id, type, date, raw) VALUES(?, ?, ?, ?)
		ON CONFLICT(log_id) DO NOTHING;`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range batch {
		raw, err := r.MarshalJSON()
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Type, r.Date.UTC(), string(raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenant_logs`).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
