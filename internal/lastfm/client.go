// Package lastfm exchanges Last.fm auth tokens for session keys.
//
// API reference: https://www.last.fm/api/show/auth.getSession
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://ws.audioscrobbler.com/2.0/"
	defaultTimeout = 10 * time.Second
)

// ErrNoAPIKey is returned when the client has no API key or secret configured.
var ErrNoAPIKey = errors.New("lastfm: no api key set")

// Config holds API credentials and transport limits.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	Secret  string        `yaml:"secret"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Rate is the maximum number of calls per second.
	Rate float64 `yaml:"rate"`
}

// Session is the result of a successful token exchange.
type Session struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// APIError is an error reported by the Last.fm API.
type APIError struct {
	Status  int
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lastfm API error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// Client calls the Last.fm web service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a client. Missing transport settings get defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), 1),
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" && c.cfg.Secret != "" }

// Timeout is the per-call time bound.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// sign computes api_sig: md5 over sorted name+value pairs followed by the secret.
func sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" || k == "callback" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	b.WriteString(secret)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// GetSession exchanges an auth token for a session key.
func (c *Client) GetSession(ctx context.Context, token string) (Session, error) {
	if !c.Configured() {
		return Session{}, ErrNoAPIKey
	}
	params := url.Values{}
	params.Set("method", "auth.getSession")
	params.Set("api_key", c.cfg.APIKey)
	params.Set("token", token)

	var out struct {
		Session Session `json:"session"`
	}
	if err := c.call(ctx, params, &out); err != nil {
		return Session{}, err
	}
	if out.Session.Key == "" {
		return Session{}, &APIError{Status: http.StatusOK, Message: "empty session key"}
	}
	return out.Session, nil
}

func (c *Client) call(ctx context.Context, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	params.Set("api_sig", sign(params, c.cfg.Secret))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	var apiErr APIError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Code != 0 {
		apiErr.Status = resp.StatusCode
		return &apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
