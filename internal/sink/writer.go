package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/logdrain/internal/logsapi"
)

// Writer emits each record as one JSON line.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

// NewStdout writes JSON lines to standard output.
func NewStdout() *Writer { return NewWriter(os.Stdout) }

// FileConfig configures a rotating JSON lines file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFile writes JSON lines to a size rotated file.
func NewFile(cfg FileConfig) *Writer {
	return NewWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

func (w *Writer) Write(ctx context.Context, batch []logsapi.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	if c, ok := w.w.(io.Closer); ok && w.w != os.Stdout && w.w != os.Stderr {
		return c.Close()
	}
	return nil
}
