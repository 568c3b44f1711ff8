package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(eventType string, success bool)

// Endpoint is one subscriber. An empty Events list receives every event.
type Endpoint struct {
	URL    string   `mapstructure:"url"`
	Events []string `mapstructure:"events"`
}

func (e Endpoint) wants(eventType string) bool {
	return len(e.Events) == 0 || slices.Contains(e.Events, eventType)
}

// Config configures a Dispatcher.
type Config struct {
	Endpoints   []Endpoint
	Secret      string        // HMAC key; empty disables signing
	MaxAttempts uint64        // default 3
	Timeout     time.Duration // per attempt, default 10s
	BaseDelay   time.Duration // first retry delay, default 1s
}

// Dispatcher posts events to every interested endpoint with retries.
// Deliveries run in the background; Wait blocks until they finish.
type Dispatcher struct {
	cfg        Config
	httpClient *http.Client
	onMetrics  MetricsRecorder
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Enabled reports whether any endpoint is configured.
func (d *Dispatcher) Enabled() bool { return len(d.cfg.Endpoints) > 0 }

// Dispatch fans an event out to every endpoint subscribed to eventType.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	for _, ep := range d.cfg.Endpoints {
		if !ep.wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.deliver(ctx, url, event, body)
		}(ep.URL)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver sends the event to a single endpoint with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, url string, event Event, body []byte) {
	signature := Sign(body, d.cfg.Secret)

	attempt := 0
	op := func() error {
		attempt++
		status, err := d.doDelivery(ctx, url, body, signature)

		success := err == nil
		if d.onMetrics != nil {
			d.onMetrics(event.Type, success)
		}
		if success {
			d.logger.Debug("webhook delivered",
				zap.String("url", url),
				zap.String("event", event.Type),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		d.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err),
		)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BaseDelay
	bo.Multiplier = 5
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, d.cfg.MaxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		d.logger.Error("webhook: giving up",
			zap.String("url", url),
			zap.String("event", event.Type),
			zap.Int("attempts", attempt),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (d *Dispatcher) doDelivery(ctx context.Context, url string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the signature header value for body. It returns "" when no
// secret is configured.
func Sign(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return expected != "" && hmac.Equal([]byte(expected), []byte(signature))
}
