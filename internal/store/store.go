package store

import (
	"context"
	"regexp"
)

// DefaultKey names the document when a backend holds more than one.
const DefaultKey = "default"

// Store holds a single opaque document. Read returns nil, nil when the
// document has never been written.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidKey reports whether key can be used as a document name in every
// backend, including object keys and file names.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
