// Package client talks to a running logdrain daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ErrBusy is returned when the daemon is already running a tick.
var ErrBusy = errors.New("a run is already in progress")

// Client calls the daemon API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	BaseURL string
	// Token is sent as a bearer credential when set.
	Token  string
	Logger *slog.Logger
	TLS    *TLSClientConfig
	// Timeout bounds each request. Runs are answered when they end, so keep it
	// above the processor max run time.
	Timeout time.Duration
}

type TLSClientConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 2 * time.Minute,
	}
}

func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil {
		tlsConfig, err := setupClientTLS(config.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

// IsReachable checks if the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return true
}

// Run triggers one tick and waits for it to finish.
func (c *Client) Run(ctx context.Context) (*Tick, error) {
	var t Tick
	if err := c.do(ctx, http.MethodPost, "/run", nil, &t); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, ErrBusy
		}
		return nil, err
	}
	return &t, nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Ticks returns the ticks the daemon ran since it started.
func (c *Client) Ticks(ctx context.Context) ([]Tick, error) {
	var out []Tick
	if err := c.do(ctx, http.MethodGet, "/ticks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to limit persisted runs, newest last. Zero means all.
func (c *Client) History(ctx context.Context, limit int) ([]Run, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Run
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Report aggregates the runs of the last hours.
func (c *Client) Report(ctx context.Context, hours int) (*Report, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	path := "/report"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var r Report
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SendReport asks the daemon to post the daily report now.
func (c *Client) SendReport(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/report/send", nil, nil)
}

// ResetCheckpoint moves the resume cursor. Empty restarts from the oldest log.
func (c *Client) ResetCheckpoint(ctx context.Context, checkpoint string) error {
	return c.do(ctx, http.MethodPost, "/checkpoint/reset", ResetRequest{Checkpoint: checkpoint}, nil)
}

func (c *Client) Types(ctx context.Context) ([]LogType, error) {
	var out []LogType
	if err := c.do(ctx, http.MethodGet, "/types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func setupClientTLS(cfg *TLSClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.SkipVerify, //nolint:gosec // opt-in for self-signed daemons
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return c.errorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Message = er.Error
		if apiErr.Message == "" {
			apiErr.Message = er.Message
		}
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", apiErr.Message)
	return apiErr
}
