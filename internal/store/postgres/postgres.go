package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/logdrain/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db  *sql.DB
	key string
}

func New(dsn, key string) (*DB, error) {
	if key == "" {
		key = store.DefaultKey
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, key: key}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS logdrain_state(
		name TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Read(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc::text FROM logdrain_state WHERE name = $1`, p.key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *DB) Write(ctx context.Context, data []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO logdrain_state(name, doc, updated_at) VALUES($1, $2::jsonb, $3)
		ON CONFLICT(name) DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at;`,
		p.key, string(data), time.Now().UTC())
	return err
}
