package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/logdrain/internal/logsapi"
)

// Config selects the server and table. Empty fields fall back to the
// ClickHouse defaults.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends log batches to ClickHouse using the official ClickHouse Go client.
// The table is a ReplacingMergeTree ordered by log id so redelivered records
// collapse on merge.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "tenant_logs"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, table: cfg.Table}, nil
}

// EnsureTable creates the log table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			log_id String,
			type LowCardinality(String),
			date DateTime64(3, 'UTC'),
			raw String
		) ENGINE = ReplacingMergeTree()
		ORDER BY log_id`, s.table))
}

func (s *Sink) Write(ctx context.Context, batch []logsapi.Record) error {
	if len(batch) == 0 {
		return nil
	}
	b, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (log_id, type, date, raw)", s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare ClickHouse batch: %w", err)
	}
	for _, r := range batch {
		raw, err := r.MarshalJSON()
		if err != nil {
			_ = b.Abort()
			return err
		}
		if err := b.Append(r.ID, r.Type, r.Date.UTC(), string(raw)); err != nil {
			_ = b.Abort()
			return fmt.Errorf("failed to append record %s: %w", r.ID, err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("failed to insert logs into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
