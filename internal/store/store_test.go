package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	ctx := context.Background()
	if err := f.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	got, err := f.Read(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty read, got %q err=%v", got, err)
	}
	if err := f.Write(ctx, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = f.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected content %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("x")
	_ = m.Write(ctx, buf)
	buf[0] = 'y'
	got, _ := m.Read(ctx)
	if string(got) != "x" {
		t.Fatalf("memory store must copy on write, got %q", got)
	}
	if m.Writes != 1 {
		t.Fatalf("expected 1 write, got %d", m.Writes)
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"default", "tenant-a.prod", "A_1"} {
		if !ValidKey(k) {
			t.Fatalf("expected %q to be valid", k)
		}
	}
	for _, k := range []string{"", "../x", "a b", "a/b"} {
		if ValidKey(k) {
			t.Fatalf("expected %q to be invalid", k)
		}
	}
}
