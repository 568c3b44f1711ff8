package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel    = "gemini-3-flash-preview"
	maxResponseBytes      = 1 << 20
)

// GeminiConfig configures the remote auditor.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string // base URL, overridable for tests
	Timeout  time.Duration
	Retries  uint64
}

// GeminiAnalyzer asks a Generative Language model to audit each stage.
// It never fails a submission: a missing key yields Simulation() and any
// transport or parse failure yields Fallback().
type GeminiAnalyzer struct {
	cfg        GeminiConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiAnalyzer creates a GeminiAnalyzer.
func NewGeminiAnalyzer(cfg GeminiConfig, logger *zap.Logger) *GeminiAnalyzer {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGeminiEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	return &GeminiAnalyzer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Analyze implements Analyzer.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, stage string, data ledger.Payload) (*ledger.TrustAnalysis, error) {
	if g.cfg.APIKey == "" {
		return Simulation(), nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		g.logger.Warn("gemini: marshal stage data", zap.Error(err))
		return Fallback(), nil
	}

	text, err := g.generate(ctx, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: auditPrompt(stage, raw)}}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   auditSchema,
		},
	})
	if err != nil {
		g.logger.Warn("gemini: audit failed", zap.String("stage", stage), zap.Error(err))
		return Fallback(), nil
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		g.logger.Warn("gemini: unusable audit response", zap.String("stage", stage), zap.Error(err))
		return Fallback(), nil
	}
	return analysis, nil
}

func auditPrompt(stage string, data []byte) string {
	return fmt.Sprintf(`You are GreenTrust AI, a supply chain auditor.
Analyze the following data input from a %s.

HIERARCHY VALIDATION:
- Check if the productCode matches the category chainID prefix (e.g. Code 101 must be under Category 100).
- Detect any logic errors in energy usage or environment scores.

Data: %s

Return a JSON response with:
- trustScore (0-100 integer)
- anomalies (array of strings explaining issues)
- suggestions (array of strings for improvement)
- isVerified (boolean, true if score > 70)`, stage, data)
}

var auditSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"trustScore":  map[string]any{"type": "INTEGER"},
		"anomalies":   map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		"suggestions": map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		"isVerified":  map[string]any{"type": "BOOLEAN"},
	},
	"required": []string{"trustScore", "anomalies", "suggestions", "isVerified"},
}

// parseAnalysis reads the model's JSON answer. The score is clamped to
// 0..100; a missing score is treated as unusable.
func parseAnalysis(text string) (*ledger.TrustAnalysis, error) {
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("model returned invalid JSON")
	}
	doc := gjson.Parse(text)
	score := doc.Get("trustScore")
	if !score.Exists() {
		return nil, fmt.Errorf("model response has no trustScore")
	}

	s := int(score.Int())
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	out := &ledger.TrustAnalysis{
		TrustScore:  s,
		Anomalies:   stringsOf(doc.Get("anomalies")),
		Suggestions: stringsOf(doc.Get("suggestions")),
		IsVerified:  Verified(s),
	}
	if v := doc.Get("isVerified"); v.Exists() {
		out.IsVerified = v.Bool()
	}
	return out, nil
}

func stringsOf(r gjson.Result) []string {
	out := []string{}
	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ── Wire types ────────────────────────────────────────────────────────────────

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// permanentError marks a failure that retrying will not fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// generate posts req to the model and returns the first candidate's text.
// 5xx and 429 responses are retried with exponential backoff.
func (g *GeminiAnalyzer) generate(ctx context.Context, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(g.cfg.Endpoint, "/"), url.PathEscape(g.cfg.Model), url.QueryEscape(g.cfg.APIKey))

	var text string
	var permanent error
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			permanent = err
			return nil
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("call model: %w", err)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read model response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("model returned HTTP %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			permanent = &permanentError{fmt.Errorf("model returned HTTP %d: %s",
				resp.StatusCode, gjson.GetBytes(respBody, "error.message").String())}
			return nil
		}

		t := gjson.GetBytes(respBody, "candidates.0.content.parts.0.text")
		if !t.Exists() {
			permanent = &permanentError{fmt.Errorf("model response has no candidate text")}
			return nil
		}
		text = t.String()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = g.cfg.Timeout
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, g.cfg.Retries), ctx)); err != nil {
		return "", err
	}
	if permanent != nil {
		return "", permanent
	}
	return text, nil
}
