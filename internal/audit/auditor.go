// Package audit periodically re-verifies every chain in the ledger and
// raises an alert the first time a chain is found tampered.
package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventChainTampered is dispatched once per newly tampered chain.
const EventChainTampered = "chain.tampered"

// Config holds auditor configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// ChainLister returns every chain to audit. *ledger.Store satisfies it.
type ChainLister interface {
	ListAll() []ledger.ChainRef
}

// WebhookDispatchFunc is an optional callback for tamper alerts.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback receiving the result of each pass.
type MetricsRecordFunc func(chains, tampered int)

// Finding is one tampered chain.
type Finding struct {
	Category   string `json:"category"`
	BatchID    string `json:"batchId"`
	FirstIndex int    `json:"firstIndex"`
	Reason     string `json:"reason"`
}

// Result summarises one audit pass.
type Result struct {
	Chains   int       `json:"chains"`
	Tampered []Finding `json:"tampered"`
	Checked  time.Time `json:"checkedAt"`
}

// Auditor runs periodic integrity passes.
type Auditor struct {
	lister    ChainLister
	cfg       Config
	clock     clock.Clock
	mu        sync.Mutex
	known     map[string]bool // chains already reported as tampered
	last      *Result
	onWebhook WebhookDispatchFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates an Auditor.
func New(lister ChainLister, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Auditor{
		lister: lister,
		cfg:    cfg,
		clock:  clock.New(),
		known:  make(map[string]bool),
		logger: logger,
	}
}

// SetWebhookDispatch configures the tamper alert callback.
func (a *Auditor) SetWebhookDispatch(fn WebhookDispatchFunc) { a.onWebhook = fn }

// SetMetricsRecord configures the metrics callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) { a.onMetrics = fn }

// SetClock replaces the time source. Intended for tests.
func (a *Auditor) SetClock(c clock.Clock) { a.clock = c }

// Start runs an immediate pass and then one per interval until ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := a.clock.Ticker(a.cfg.Interval)
	defer ticker.Stop()

	a.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			a.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the most recent pass, or nil before the first one.
func (a *Auditor) Last() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// CheckAll verifies every chain with bounded concurrency. A pass cut short
// by ctx leaves the previous result in place and returns it, or nil.
func (a *Auditor) CheckAll(ctx context.Context) *Result {
	refs := a.lister.ListAll()
	findings := make([]*Finding, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := ledger.Verify(ref.Blocks); err != nil {
				f := &Finding{Category: ref.Category, BatchID: ref.BatchID, Reason: err.Error()}
				if vErr, ok := err.(*ledger.VerificationError); ok {
					f.FirstIndex = vErr.Index
					f.Reason = vErr.Reason
				}
				findings[i] = f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Warn("audit: pass interrupted, keeping previous result", zap.Error(err))
		return a.Last()
	}

	res := &Result{Chains: len(refs), Tampered: []Finding{}, Checked: a.clock.Now().UTC()}
	current := make(map[string]bool)
	var fresh []Finding
	for _, f := range findings {
		if f == nil {
			continue
		}
		res.Tampered = append(res.Tampered, *f)
		key := f.Category + "/" + f.BatchID
		current[key] = true
		if !a.wasKnown(key) {
			fresh = append(fresh, *f)
		}
	}

	a.mu.Lock()
	a.known = current
	a.last = res
	a.mu.Unlock()

	if a.onMetrics != nil {
		a.onMetrics(res.Chains, len(res.Tampered))
	}
	for _, f := range fresh {
		a.logger.Warn("audit: chain tampered",
			zap.String("category", f.Category),
			zap.String("batch_id", f.BatchID),
			zap.Int("first_index", f.FirstIndex),
			zap.String("reason", f.Reason),
		)
		if a.onWebhook != nil {
			a.onWebhook(ctx, EventChainTampered, map[string]string{
				"category":   f.Category,
				"batchId":    f.BatchID,
				"firstIndex": strconv.Itoa(f.FirstIndex),
				"reason":     f.Reason,
			})
		}
	}
	a.logger.Debug("audit pass complete", zap.Int("chains", res.Chains), zap.Int("tampered", len(res.Tampered)))
	return res
}

func (a *Auditor) wasKnown(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.known[key]
}
