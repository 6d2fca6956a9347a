package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/logdrain/internal/config"
	"github.com/loykin/logdrain/internal/tls"
)

// Server is the HTTP listener for a Router.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	tls    bool
	logger *slog.Logger
}

// New binds cfg.Listen and prepares TLS when configured. Serving starts with Start.
func New(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsCfg, err := tls.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// a run triggered over HTTP is answered when it ends
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{srv: srv, ln: ln, tls: tlsCfg != nil, logger: logger.With("component", "server")}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info("http server listening", "addr", s.Addr(), "tls", s.tls)
	go func() {
		var err error
		if s.tls {
			err = s.srv.ServeTLS(s.ln, "", "")
		} else {
			err = s.srv.Serve(s.ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
