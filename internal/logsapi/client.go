// Package logsapi fetches pages of tenant log records from the Management API
// using client credentials.
package logsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// MaxPageSize is the largest page the logs endpoint serves.
const MaxPageSize = 100

// Source fetches one page of records.
type Source interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// Options configures a Client.
type Options struct {
	Domain       string
	ClientID     string
	ClientSecret string

	// BaseURL overrides https://<Domain>.
	BaseURL    string
	HTTPClient *http.Client
	TokenCache TokenCache

	// Jitter bounds the random delay before each page request. Zero disables it.
	Jitter time.Duration
	// RequestsPerSecond spaces page requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
	Now    func() time.Time
}

// Client talks to the token and logs endpoints.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	cache        TokenCache
	flight       singleflight.Group
	limiter      *rate.Limiter
	jitter       time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Domain) == "" && opts.BaseURL == "" {
		return nil, ArgumentError("must provide a valid domain")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, ArgumentError("must provide a valid client id")
	}
	if strings.TrimSpace(opts.ClientSecret) == "" {
		return nil, ArgumentError("must provide a valid client secret")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://" + strings.TrimRight(opts.Domain, "/")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, ArgumentError("the provided domain is invalid: %s", opts.Domain)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.TokenCache == nil {
		opts.TokenCache = &MemoryTokenCache{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		baseURL:      base,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		http:         opts.HTTPClient,
		cache:        opts.TokenCache,
		limiter:      rate.NewLimiter(limit, opts.Burst),
		jitter:       opts.Jitter,
		logger:       opts.Logger.With("component", "logsapi"),
		now:          opts.Now,
	}, nil
}

// Query renders the logs endpoint query for req.
func Query(req PageRequest) url.Values {
	take := req.Take
	if take <= 0 || take > MaxPageSize {
		take = MaxPageSize
	}
	q := url.Values{}
	if req.Cursor != "" {
		q.Set("from", req.Cursor)
		q.Set("take", strconv.Itoa(take))
	} else {
		q.Set("per_page", strconv.Itoa(take))
		q.Set("page", "0")
	}
	if req.ServerFilter && len(req.Types) > 0 {
		q.Set("q", "type:"+strings.Join(req.Types, " OR type:"))
	}
	q.Set("sort", "date:1")
	return q
}

// FetchPage requests one page of records in ascending date order.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + "/api/v2/logs?" + Query(req).Encode()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build logs request: %w", err)
	}
	hreq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	hreq.Header.Set("Content-Type", "application/json")

	if req.Cursor != "" {
		c.logger.Debug("requesting logs", "from", req.Cursor, "take", req.Take)
	} else {
		c.logger.Debug("requesting logs", "page", 0, "per_page", req.Take)
	}
	started := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, &APIError{Kind: ErrTransient, Message: "logs request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: ErrTransient, StatusCode: resp.StatusCode, Message: "read logs response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := responseError(resp.StatusCode, raw)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.invalidateToken(ctx)
		}
		return nil, apiErr
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &APIError{Kind: ErrProtocol, StatusCode: resp.StatusCode, Message: "decode logs response", Err: err}
	}
	c.logger.Debug("retrieved logs", "count", len(records), "elapsed", time.Since(started))
	return &Page{Records: records, RateLimit: parseRateLimit(resp.Header)}, nil
}

// pace applies the jitter and the request limiter.
func (c *Client) pace(ctx context.Context) error {
	if c.jitter > 0 {
		d := time.Duration(rand.Int64N(int64(c.jitter)))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.limiter.Wait(ctx)
}

func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if v, err := strconv.Atoi(h.Get("X-Ratelimit-Limit")); err == nil {
		rl.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-Ratelimit-Remaining")); err == nil {
		rl.Remaining = v
		rl.HasRemaining = true
	}
	if v, err := strconv.ParseInt(h.Get("X-Ratelimit-Reset"), 10, 64); err == nil {
		rl.Reset = v
	}
	return rl
}

// responseError maps a non 2xx response to an APIError.
func responseError(status int, body []byte) *APIError {
	var eb struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		ErrorCode        string `json:"errorCode"`
	}
	e := &APIError{Kind: kindForStatus(status), StatusCode: status}
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Code = eb.Error
		if eb.ErrorCode != "" {
			e.Code = eb.ErrorCode
		}
		e.Message = eb.Message
		if e.Message == "" {
			e.Message = eb.ErrorDescription
		}
		if e.Message == "" {
			e.Message = eb.Error
		}
	}
	if e.Message == "" {
		e.Message = "unexpected response from Management API: " + http.StatusText(status)
	}
	return e
}
