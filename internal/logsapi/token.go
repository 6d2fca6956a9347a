package logsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCache stores the bearer credential between fetches and runs.
// SetToken(nil) clears it.
type TokenCache interface {
	GetToken(ctx context.Context) (*Token, error)
	SetToken(ctx context.Context, t *Token) error
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu  sync.Mutex
	tok *Token
}

func (m *MemoryTokenCache) GetToken(context.Context) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil {
		return nil, nil
	}
	t := *m.tok
	return &t, nil
}

func (m *MemoryTokenCache) SetToken(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		m.tok = nil
		return nil
	}
	c := *t
	m.tok = &c
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// accessToken returns a fresh token from the cache or exchanges the client
// credentials for a new one. Concurrent callers share one exchange.
func (c *Client) accessToken(ctx context.Context) (*Token, error) {
	if t, err := c.cache.GetToken(ctx); err == nil && t.Fresh(c.now()) {
		return t, nil
	} else if err != nil {
		c.logger.Warn("token cache read failed", "error", err)
	}

	v, err, shared := c.flight.Do("token", func() (any, error) {
		// another caller may have refreshed while we waited on the cache
		if t, err := c.cache.GetToken(ctx); err == nil && t.Fresh(c.now()) {
			return t, nil
		}
		t, err := c.exchange(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.SetToken(ctx, t); err != nil {
			c.logger.Warn("token cache write failed", "error", err)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return v.(*Token), nil
}

func (c *Client) invalidateToken(ctx context.Context) {
	if err := c.cache.SetToken(ctx, nil); err != nil {
		c.logger.Warn("token cache clear failed", "error", err)
	}
}

func (c *Client) exchange(ctx context.Context) (*Token, error) {
	body, err := json.Marshal(map[string]string{
		"audience":      c.baseURL + "/api/v2/",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting access token", "client_id", c.clientID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Kind: ErrTransient, Message: "token request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: ErrTransient, StatusCode: resp.StatusCode, Message: "read token response", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &APIError{Kind: ErrAuth, StatusCode: resp.StatusCode, Code: "unauthorized",
			Message: "Invalid credentials for " + c.clientID}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp.StatusCode, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, &APIError{Kind: ErrProtocol, StatusCode: resp.StatusCode, Message: "decode token response", Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &APIError{Kind: ErrProtocol, StatusCode: resp.StatusCode, Code: "unknown_error",
			Message: "no access_token was provided"}
	}
	return &Token{AccessToken: tr.AccessToken, ExpiresAt: c.expiry(tr).UnixMilli()}, nil
}

// expiry prefers expires_in and falls back to the exp claim of a JWT token.
func (c *Client) expiry(tr tokenResponse) time.Time {
	now := c.now()
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(time.Second)
}
