// Package verifier re-verifies GreenLedger batches independently of the
// ledgerd instance that stores them.
//
// A batch is fetched from ledgerd's public lookup endpoint, every block is
// re-hashed locally and the verdict is compared with the one ledgerd
// reported. Results are cached with a configurable TTL.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"github.com/jmerrifield20/GreenLedger/pkg/batchref"
	"github.com/jmerrifield20/GreenLedger/pkg/client"
	"go.uber.org/zap"
)

// ErrInvalidReference is returned for references batchref cannot parse.
var ErrInvalidReference = errors.New("invalid batch reference")

// ErrBatchNotFound is returned when ledgerd does not know the batch.
var ErrBatchNotFound = errors.New("batch not found")

// Fetcher retrieves the raw public report for a reference. *client.Client
// satisfies it.
type Fetcher interface {
	LookupRaw(ctx context.Context, reference string) (json.RawMessage, error)
	Health(ctx context.Context) error
}

// Config holds verifier configuration.
type Config struct {
	LedgerAddr  string        // e.g. "http://localhost:8080"
	CacheTTL    time.Duration // 0 disables caching
	HTTPTimeout time.Duration // default 5s
}

// Result is the outcome of one independent verification.
type Result struct {
	Reference       string                    `json:"reference"`
	Category        string                    `json:"category"`
	BatchID         string                    `json:"batchId"`
	ChainID         string                    `json:"chainId"`
	Length          int                       `json:"length"`
	Validity        []bool                    `json:"validity"`
	Valid           bool                      `json:"valid"`         // recomputed locally
	UpstreamValid   bool                      `json:"upstreamValid"` // as reported by ledgerd
	Agrees          bool                      `json:"agrees"`
	FirstFailure    *ledger.VerificationError `json:"firstFailure,omitempty"`
	TotalEmissions  float64                   `json:"totalEmissions"`
	EfficiencyScore int                       `json:"efficiencyScore"`
	CertificateID   string                    `json:"certificateId"`
	CheckedAt       time.Time                 `json:"checkedAt"`
}

// upstreamReport is the subset of ledgerd's public report the verifier
// trusts as input. Every derived figure is recomputed.
type upstreamReport struct {
	Category string         `json:"category"`
	BatchID  string         `json:"batchId"`
	Blocks   []ledger.Block `json:"blocks"`
	Valid    bool           `json:"valid"`
}

// Service performs and caches independent verifications.
type Service struct {
	fetch  Fetcher
	cache  *resultCache
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Service fetching from cfg.LedgerAddr.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	c, err := client.New(cfg.LedgerAddr, client.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("ledgerd client: %w", err)
	}
	return NewWithFetcher(c, cfg.CacheTTL, logger), nil
}

// NewWithFetcher creates a Service over an arbitrary Fetcher.
func NewWithFetcher(f Fetcher, cacheTTL time.Duration, logger *zap.Logger) *Service {
	s := &Service{fetch: f, clock: clock.New(), logger: logger}
	if cacheTTL > 0 {
		s.cache = newResultCache(cacheTTL, s.clock)
	}
	return s
}

// SetClock replaces the time source. Intended for tests; call before use.
func (s *Service) SetClock(c clock.Clock) {
	s.clock = c
	if s.cache != nil {
		s.cache.clock = c
	}
}

// Verify fetches the batch named by reference and re-verifies it.
func (s *Service) Verify(ctx context.Context, reference string) (*Result, error) {
	ref, err := batchref.Parse(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	key := cacheKey(ref)

	if s.cache != nil {
		if r, ok := s.cache.get(key); ok {
			s.logger.Debug("cache hit", zap.String("key", key))
			return r, nil
		}
	}

	raw, err := s.fetch.LookupRaw(ctx, ref.String())
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("fetch from ledgerd: %w", err)
	}

	up, err := decodeReport(raw)
	if err != nil {
		return nil, err
	}

	res := s.evaluate(reference, up, ref.Mode)
	if !res.Agrees {
		s.logger.Warn("verdict disagrees with ledgerd",
			zap.String("category", res.Category),
			zap.String("batch_id", res.BatchID),
			zap.Bool("local_valid", res.Valid),
			zap.Bool("upstream_valid", res.UpstreamValid),
		)
	}

	if s.cache != nil {
		s.cache.set(key, res)
	}
	s.logger.Info("verified",
		zap.String("category", res.Category),
		zap.String("batch_id", res.BatchID),
		zap.Int("length", res.Length),
		zap.Bool("valid", res.Valid),
	)
	return res, nil
}

func (s *Service) evaluate(reference string, up *upstreamReport, mode batchref.Mode) *Result {
	rep := service.BuildReport(up.Category, up.BatchID, up.Blocks, mode)
	res := &Result{
		Reference:       reference,
		Category:        rep.Category,
		BatchID:         rep.BatchID,
		ChainID:         rep.ChainID,
		Length:          len(up.Blocks),
		Validity:        rep.Validity,
		Valid:           rep.Valid,
		UpstreamValid:   up.Valid,
		Agrees:          rep.Valid == up.Valid,
		TotalEmissions:  rep.TotalEmissions,
		EfficiencyScore: rep.EfficiencyScore,
		CertificateID:   rep.CertificateID,
		CheckedAt:       s.clock.Now().UTC(),
	}
	var vErr *ledger.VerificationError
	if errors.As(ledger.Verify(up.Blocks), &vErr) {
		res.FirstFailure = vErr
	}
	return res
}

// Invalidate drops the cached result for reference.
func (s *Service) Invalidate(reference string) {
	if s.cache == nil {
		return
	}
	if ref, err := batchref.Parse(reference); err == nil {
		s.cache.invalidate(cacheKey(ref))
	}
}

// CacheStats returns the current cache size.
func (s *Service) CacheStats() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.len()
}

// Ping checks that ledgerd is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.fetch.Health(ctx)
}

// StartCacheEviction periodically evicts expired results until ctx is done.
func (s *Service) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if s.cache == nil {
		return
	}
	if interval == 0 {
		interval = time.Minute
	}
	go func() {
		t := s.clock.Ticker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.cache.evict(); n > 0 {
					s.logger.Debug("cache eviction", zap.Int("evicted", n))
				}
			}
		}
	}()
}

// decodeReport decodes with UseNumber so payload numbers are re-hashed with
// the exact text ledgerd hashed.
func decodeReport(raw []byte) (*upstreamReport, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var up upstreamReport
	if err := dec.Decode(&up); err != nil {
		return nil, fmt.Errorf("decode ledgerd report: %w", err)
	}
	if len(up.Blocks) == 0 {
		return nil, ErrBatchNotFound
	}
	return &up, nil
}

func cacheKey(ref *batchref.Ref) string {
	return strings.ToLower(ref.Category) + "/" + ref.BatchID + "/" + string(ref.Mode)
}
