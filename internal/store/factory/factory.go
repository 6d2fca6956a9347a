package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/logdrain/internal/store"
	pg "github.com/loykin/logdrain/internal/store/postgres"
	"github.com/loykin/logdrain/internal/store/s3"
	sq "github.com/loykin/logdrain/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file:///<path>"
//   - sqlite:   "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - s3:       "s3://access:secret@host/bucket/prefix"
//
// key names the document inside backends that can hold several.
func NewFromDSN(dsn, key string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if key != "" && !store.ValidKey(key) {
		return nil, fmt.Errorf("invalid document key %q", key)
	}
	switch {
	case strings.HasPrefix(ld, "memory://"):
		return store.NewMemory(), nil
	case strings.HasPrefix(ld, "file://"):
		return store.NewFile(strings.TrimPrefix(d, "file://"))
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d, key)
	case strings.HasPrefix(ld, "s3://"):
		return s3.New(d, key)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(strings.TrimPrefix(d, "sqlite://"), key)
	}
	// default to sqlite path
	return sq.New(d, key)
}
