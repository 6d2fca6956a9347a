package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/logdrain"
	"github.com/loykin/logdrain/internal/logger"
)

func newLogger(cfg *logdrain.Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	l, closer, err := logger.New(cfg.Log, console)
	if err != nil {
		return nil, nil, err
	}
	if closer == nil {
		closer = nopCloser{}
	}
	return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
