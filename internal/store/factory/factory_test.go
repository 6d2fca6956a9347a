package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/logdrain/internal/store"
)

func TestFactoryDSNSelection(t *testing.T) {
	// Empty DSN -> error
	if _, err := NewFromDSN("", ""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := NewFromDSN(":memory:", "../escape"); err == nil {
		t.Fatalf("expected error for invalid key")
	}
	// postgres scheme -> postgres driver object (Close immediately; no connect performed by sql.Open)
	pg, err := NewFromDSN("postgres://user@localhost/db", "tenant-a")
	if err != nil || pg == nil {
		t.Fatalf("postgres dsn: err=%v obj=%T", err, pg)
	}
	_ = pg.Close()
	// sqlite scheme
	s1, err := NewFromDSN("sqlite://:memory:", "")
	if err != nil || s1 == nil {
		t.Fatalf("sqlite scheme: err=%v obj=%T", err, s1)
	}
	_ = s1.Close()
	// bare path defaults to sqlite
	s2, err := NewFromDSN(":memory:", "")
	if err != nil || s2 == nil {
		t.Fatalf("bare sqlite: err=%v obj=%T", err, s2)
	}
	_ = s2.Close()

	m, err := NewFromDSN("memory://", "")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := m.(*store.Memory); !ok {
		t.Fatalf("expected memory store, got %T", m)
	}

	f, err := NewFromDSN("file://"+filepath.Join(t.TempDir(), "state.json"), "")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := f.(*store.File); !ok {
		t.Fatalf("expected file store, got %T", f)
	}

	// s3 client construction does not dial
	o, err := NewFromDSN("s3://key:secret@localhost:9000/bucket/prefix?secure=false", "tenant")
	if err != nil || o == nil {
		t.Fatalf("s3 dsn: err=%v obj=%T", err, o)
	}
	if _, err := NewFromDSN("s3://localhost:9000/bucket", ""); err == nil {
		t.Fatalf("expected error for s3 dsn without credentials")
	}
}
