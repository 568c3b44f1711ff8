package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Login signs in as role within category and keeps the session token.
func (c *Client) Login(ctx context.Context, category, role string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"category": category, "role": role}, &s); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.SetToken(s.Token)
	return &s, nil
}

// AdminLogin signs in as the administrator and keeps the session token.
func (c *Client) AdminLogin(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/admin",
		map[string]string{"email": email, "password": password}, &s); err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Categories returns the category catalog. No session is required.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp struct {
		Categories []Category `json:"categories"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/categories", nil, &resp); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return resp.Categories, nil
}

// SubmitStage records a stage and returns the appended block.
func (c *Client) SubmitStage(ctx context.Context, req StageRequest) (*Block, error) {
	var b Block
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stages", req, &b); err != nil {
		return nil, fmt.Errorf("submit stage: %w", err)
	}
	return &b, nil
}

// Chain returns the blocks of a batch. An unknown batch yields an empty chain.
func (c *Client) Chain(ctx context.Context, category, batchID string) (*Chain, error) {
	var ch Chain
	if err := c.doJSON(ctx, http.MethodGet, chainPath(category, batchID), nil, &ch); err != nil {
		return nil, fmt.Errorf("get chain: %w", err)
	}
	return &ch, nil
}

// VerifyChain asks ledgerd to re-walk a batch's chain.
func (c *Client) VerifyChain(ctx context.Context, category, batchID string) (*Verification, error) {
	var v Verification
	if err := c.doJSON(ctx, http.MethodGet, chainPath(category, batchID)+"/verify", nil, &v); err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}
	return &v, nil
}

// ListBatches lists a category's batches. A non-empty role keeps only batches
// waiting for that role.
func (c *Client) ListBatches(ctx context.Context, category, role string) ([]BatchSummary, error) {
	path := "/api/v1/categories/" + url.PathEscape(category) + "/batches"
	if role != "" {
		path += "?role=" + url.QueryEscape(role)
	}
	var resp struct {
		Batches []BatchSummary `json:"batches"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return resp.Batches, nil
}

// ListAll lists every batch in the ledger. Requires an administrator session.
func (c *Client) ListAll(ctx context.Context) ([]BatchSummary, error) {
	var resp struct {
		Chains []BatchSummary `json:"chains"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/admin/chains", nil, &resp); err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	return resp.Chains, nil
}

// DeleteBatch removes a batch. Requires an administrator session.
func (c *Client) DeleteBatch(ctx context.Context, category, batchID string) error {
	path := "/api/v1/admin/chains/" + url.PathEscape(category) + "/" + url.PathEscape(batchID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// Summary returns ledger-wide totals. Requires an administrator session.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/admin/summary", nil, &s); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &s, nil
}

// Lookup fetches the public report for a batch reference: a raw id, a
// ?verify= or ?calc= link, or a greenledger:// URI. No session is required.
func (c *Client) Lookup(ctx context.Context, reference string) (*Report, error) {
	reference = strings.TrimSpace(reference)
	if c.cache != nil {
		if r, ok := c.cache.get(reference); ok {
			return r, nil
		}
	}

	var r Report
	path := "/api/v1/public/lookup?ref=" + url.QueryEscape(reference)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", reference, err)
	}

	if c.cache != nil {
		c.cache.set(reference, &r)
	}
	return &r, nil
}

// LookupRaw is like Lookup but returns the undecoded report and bypasses the
// cache. Independent verifiers use it to re-hash blocks exactly as served.
func (c *Client) LookupRaw(ctx context.Context, reference string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := "/api/v1/public/lookup?ref=" + url.QueryEscape(strings.TrimSpace(reference))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", reference, err)
	}
	return raw, nil
}

// Health reports whether ledgerd answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// Ask sends a question to the EcoAssistant and returns its reply.
func (c *Client) Ask(ctx context.Context, message string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/assistant", map[string]string{"message": message}, &resp); err != nil {
		return "", fmt.Errorf("ask assistant: %w", err)
	}
	return resp.Reply, nil
}

func chainPath(category, batchID string) string {
	return "/api/v1/chains/" + url.PathEscape(category) + "/" + url.PathEscape(batchID)
}
