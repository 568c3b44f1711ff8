package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when ledgerd answers 404.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when ledgerd rejects the session (401/403).
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError carries a non-2xx response from ledgerd.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerd returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes onto the package sentinels so callers
// can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// Client is the GreenLedger SDK entry point. It is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *reportCache

	mu    sync.RWMutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithToken attaches a previously issued session token.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithCacheTTL caches public lookup reports for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", ttl)
		}
		c.cache = newReportCache(ttl)
		return nil
	}
}

// New creates a Client for the ledgerd instance at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("ledgerd base URL is required")
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the current session token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// doJSON sends reqBody (if non-nil) as JSON and decodes the response into
// respBody (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from an error body, falling back to
// the raw text.
func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

// ── Report cache ──────────────────────────────────────────────────────────────

type cacheEntry struct {
	report    *Report
	expiresAt time.Time
}

type reportCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newReportCache(ttl time.Duration) *reportCache {
	return &reportCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (rc *reportCache) get(key string) (*Report, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.report, true
}

func (rc *reportCache) set(key string, r *Report) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[key] = &cacheEntry{report: r, expiresAt: time.Now().Add(rc.ttl)}
}
