package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/emissions"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/trust"
	"github.com/jmerrifield20/GreenLedger/pkg/batchref"
	"go.uber.org/zap"
)

// WebhookDispatcher fans events out to subscribers.
// *webhooks.Dispatcher satisfies this interface.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// StageRecorder is an optional callback invoked after every committed stage.
type StageRecorder func(category string, emissions float64, trustScore int)

// LedgerService is the single writer for the GreenLedger chain store. It
// turns actor submissions into blocks and serves the read views.
type LedgerService struct {
	store    *ledger.Store
	analyzer trust.Analyzer    // nil = no trust annotation
	webhooks WebhookDispatcher // nil = no webhook events
	onStage  StageRecorder
	locks    *keyLock
	clock    clock.Clock
	logger   *zap.Logger
}

// NewLedgerService creates a LedgerService over store.
func NewLedgerService(store *ledger.Store, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		locks:  newKeyLock(),
		clock:  clock.New(),
		logger: logger,
	}
}

// SetAnalyzer configures the trust analyzer run on every submission.
func (s *LedgerService) SetAnalyzer(a trust.Analyzer) { s.analyzer = a }

// SetWebhookDispatcher configures outbound event delivery.
func (s *LedgerService) SetWebhookDispatcher(d WebhookDispatcher) { s.webhooks = d }

// SetStageRecorder configures the metrics callback.
func (s *LedgerService) SetStageRecorder(fn StageRecorder) { s.onStage = fn }

// SetClock replaces the time source used for block timestamps.
func (s *LedgerService) SetClock(c clock.Clock) { s.clock = c }

// Store returns the underlying chain store.
func (s *LedgerService) Store() *ledger.Store { return s.store }

// SubmitStage records one actor's stage for a batch and returns the new block.
func (s *LedgerService) SubmitStage(ctx context.Context, req StageRequest) (*ledger.Block, error) {
	cat, err := catalog.Lookup(req.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
	}
	roleIdx, err := cat.RoleIndex(req.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
	}
	role := cat.Roles[roleIdx]
	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = strings.TrimSpace(req.Data.String(ledger.FieldBatchID))
	}
	if err := batchref.ValidateID(batchID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
	}

	// Enrichment and analysis run on a read of the chain; only the link to
	// the tip is made under the batch lock.
	chain := s.store.Get(cat.ID, batchID)

	productCode := s.resolveProductCode(req, cat, chain)
	data := req.Data.Clone()
	data[ledger.FieldActorType] = role
	data[ledger.FieldTimestamp] = s.clock.Now().UTC().Format(time.RFC3339Nano)
	data[ledger.FieldCategory] = cat.ID
	data[ledger.FieldProductCode] = productCode
	data[ledger.FieldChainID] = cat.ChainID(productCode)
	data[ledger.FieldBatchID] = batchID

	if len(chain) != roleIdx {
		s.logger.Warn("stage submitted out of role order",
			zap.String("category", cat.ID),
			zap.String("batch_id", batchID),
			zap.String("role", role),
			zap.Int("role_position", roleIdx),
			zap.Int("chain_length", len(chain)),
		)
	}

	footprint := emissions.Calculate(data)

	var analysis *ledger.TrustAnalysis
	if s.analyzer != nil {
		analysis, err = s.analyzer.Analyze(ctx, role, data)
		if err != nil {
			s.logger.Warn("trust analysis failed", zap.String("batch_id", batchID), zap.Error(err))
			analysis = nil
		}
	}

	block, err := s.appendLocked(ctx, cat.ID, batchID, role, data, footprint, analysis)
	if err != nil {
		return nil, err
	}

	s.logger.Info("stage recorded",
		zap.String("category", cat.ID),
		zap.String("batch_id", batchID),
		zap.String("role", role),
		zap.Int("index", block.Index),
		zap.Float64("emissions", block.Emissions),
		zap.String("hash", block.Hash),
	)

	score := 0
	if analysis != nil {
		score = analysis.TrustScore
	}
	if s.onStage != nil {
		s.onStage(cat.ID, block.Emissions, score)
	}
	if s.webhooks != nil {
		s.webhooks.Dispatch(context.WithoutCancel(ctx), EventBlockAppended, map[string]string{
			"category":            cat.ID,
			"batchId":             batchID,
			"index":               strconv.Itoa(block.Index),
			"actor":               role,
			"hash":                block.Hash,
			"emissions":           strconv.FormatFloat(block.Emissions, 'f', -1, 64),
			"cumulativeEmissions": strconv.FormatFloat(block.CumulativeEmissions, 'f', -1, 64),
		})
	}
	return block, nil
}

// appendLocked links a new block to the current tip of the batch and stores
// it while holding the batch lock.
func (s *LedgerService) appendLocked(ctx context.Context, category, batchID, role string, data ledger.Payload, footprint float64, analysis *ledger.TrustAnalysis) (*ledger.Block, error) {
	unlock := s.locks.Lock(category + "\x00" + batchID)
	defer unlock()

	chain := s.store.Get(category, batchID)
	block, err := ledger.CreateBlock(chain, role, data, footprint, category, batchID,
		ledger.WithTrustAnalysis(analysis),
		ledger.WithClock(s.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	if err := s.store.Append(ctx, category, batchID, *block); err != nil {
		return nil, err
	}
	return block, nil
}

// resolveProductCode picks the request's code, then the payload's, then the
// code already stamped on the batch, then the category default.
func (s *LedgerService) resolveProductCode(req StageRequest, cat catalog.Category, chain []ledger.Block) int {
	if req.ProductCode != 0 {
		return req.ProductCode
	}
	if v, ok := req.Data.Number(ledger.FieldProductCode); ok && v > 0 && v == math.Trunc(v) {
		return int(v)
	}
	if tip := ledger.Tip(chain); tip != nil && tip.ProductCode != 0 {
		return tip.ProductCode
	}
	return cat.DefaultProduct().Code
}

// Chain returns the chain for (category, batchID) with its validity. A
// missing batch yields an empty view, not an error.
func (s *LedgerService) Chain(_ context.Context, category, batchID string) *ChainView {
	chain := s.store.Get(category, batchID)
	validity := ledger.ValidateChain(chain)
	return &ChainView{
		Category:       category,
		BatchID:        batchID,
		Blocks:         chain,
		Validity:       validity,
		Valid:          ledger.AllValid(validity),
		TotalEmissions: ledger.TotalEmissions(chain),
		AverageTrust:   ledger.AverageTrust(chain),
	}
}

// VerifyBatch re-walks the chain for (category, batchID).
func (s *LedgerService) VerifyBatch(_ context.Context, category, batchID string) *VerifyResult {
	chain := s.store.Get(category, batchID)
	validity := ledger.ValidateChain(chain)
	res := &VerifyResult{
		Category: category,
		BatchID:  batchID,
		Length:   len(chain),
		Validity: validity,
		Valid:    ledger.AllValid(validity),
	}
	var vErr *ledger.VerificationError
	if err := ledger.Verify(chain); errors.As(err, &vErr) {
		res.FirstFailure = vErr
		s.logger.Warn("chain integrity failure",
			zap.String("category", category),
			zap.String("batch_id", batchID),
			zap.Int("index", vErr.Index),
			zap.String("reason", vErr.Reason),
		)
	}
	return res
}

// ListBatches summarises every batch in category. When role is non-empty only
// batches waiting for that role's stage are returned.
func (s *LedgerService) ListBatches(_ context.Context, category, role string) ([]BatchSummary, error) {
	cat, err := catalog.Lookup(category)
	if err != nil {
		return nil, err
	}
	want := -1
	if role != "" {
		if want, err = cat.RoleIndex(role); err != nil {
			return nil, err
		}
	}

	out := []BatchSummary{}
	for _, id := range s.store.ListBatches(cat.ID) {
		chain := s.store.Get(cat.ID, id)
		if want >= 0 && len(chain) != want {
			continue
		}
		out = append(out, summarize(cat, id, chain))
	}
	return out, nil
}

// ListAll summarises every batch in the ledger, ordered by category then batch.
func (s *LedgerService) ListAll(_ context.Context) []BatchSummary {
	out := []BatchSummary{}
	for _, ref := range s.store.ListAll() {
		cat, err := catalog.Lookup(ref.Category)
		if err != nil {
			cat = catalog.Category{ID: ref.Category}
		}
		out = append(out, summarize(cat, ref.BatchID, ref.Blocks))
	}
	return out
}

func summarize(cat catalog.Category, batchID string, chain []ledger.Block) BatchSummary {
	sum := BatchSummary{
		Category:            cat.ID,
		BatchID:             batchID,
		Stages:              len(chain),
		CumulativeEmissions: ledger.TotalEmissions(chain),
		AverageTrust:        ledger.AverageTrust(chain),
		Valid:               ledger.AllValid(ledger.ValidateChain(chain)),
	}
	if tip := ledger.Tip(chain); tip != nil {
		sum.ChainID = tip.ChainID
		sum.ProductCode = tip.ProductCode
		sum.LastUpdated = tip.Timestamp
	}
	if len(chain) < len(cat.Roles) {
		sum.NextRole = cat.Roles[len(chain)]
	} else {
		sum.Complete = len(cat.Roles) > 0
	}
	return sum
}

// DeleteBatch removes a batch. Deleting a batch that does not exist succeeds.
func (s *LedgerService) DeleteBatch(ctx context.Context, category, batchID string) error {
	unlock := s.locks.Lock(category + "\x00" + batchID)
	existed := len(s.store.Get(category, batchID)) > 0
	err := s.store.Delete(ctx, category, batchID)
	unlock()
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}

	s.logger.Info("batch deleted", zap.String("category", category), zap.String("batch_id", batchID))
	if s.webhooks != nil {
		s.webhooks.Dispatch(context.WithoutCancel(ctx), EventBatchDeleted, map[string]string{
			"category": category,
			"batchId":  batchID,
		})
	}
	return nil
}

// PublicLookup resolves a batch reference across every category and returns
// its public report. It never mutates the store.
func (s *LedgerService) PublicLookup(_ context.Context, reference string) (*Report, error) {
	ref, err := batchref.Parse(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchNotFound, err)
	}

	var category string
	var chain []ledger.Block
	if ref.Category != "" {
		category, chain = ref.Category, s.store.Get(ref.Category, ref.BatchID)
	} else {
		category, chain = s.store.FindBatch(ref.BatchID)
	}
	if len(chain) == 0 {
		return nil, ErrBatchNotFound
	}
	return BuildReport(category, ref.BatchID, chain, ref.Mode), nil
}

// BuildReport assembles the public report for a chain. It is shared with the
// standalone verifier so both sides compute identical figures.
func BuildReport(category, batchID string, chain []ledger.Block, mode batchref.Mode) *Report {
	validity := ledger.ValidateChain(chain)
	total := ledger.TotalEmissions(chain)
	if mode == "" {
		mode = batchref.ModeVerify
	}
	r := &Report{
		Category:        category,
		BatchID:         batchID,
		Blocks:          chain,
		Validity:        validity,
		Valid:           ledger.AllValid(validity),
		TotalEmissions:  total,
		EfficiencyScore: emissions.EfficiencyScore(total),
		AverageTrust:    ledger.AverageTrust(chain),
		Mode:            string(mode),
	}
	if tip := ledger.Tip(chain); tip != nil {
		r.ChainID = tip.ChainID
		r.ProductCode = tip.ProductCode
		r.CertificateID = CertificateID(tip.Hash)
	}
	return r
}

// CertificateID derives the printable certificate number from a tip hash.
func CertificateID(hash string) string {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return strings.ToUpper(hash)
}

// Summary aggregates the whole ledger.
func (s *LedgerService) Summary(_ context.Context) *Summary {
	sum := &Summary{ByCategory: map[string]CategorySummary{}}
	trustTotal, trustBatches := 0, 0
	for _, ref := range s.store.ListAll() {
		cs := sum.ByCategory[ref.Category]
		cs.Batches++
		cs.Blocks += len(ref.Blocks)
		total := ledger.TotalEmissions(ref.Blocks)
		cs.TotalEmissions = emissions.Round2(cs.TotalEmissions + total)
		sum.ByCategory[ref.Category] = cs

		sum.Batches++
		sum.Blocks += len(ref.Blocks)
		sum.TotalEmissions = emissions.Round2(sum.TotalEmissions + total)
		if !ledger.AllValid(ledger.ValidateChain(ref.Blocks)) {
			sum.TamperedBatches++
		}
		trustTotal += ledger.AverageTrust(ref.Blocks)
		trustBatches++
	}
	sum.Categories = len(sum.ByCategory)
	if trustBatches > 0 {
		sum.AverageTrust = int(math.Round(float64(trustTotal) / float64(trustBatches)))
	}
	return sum
}

// TamperDrill returns the chain as it would look had block index been edited
// in storage, together with the verifier's verdict. Nothing is written.
func (s *LedgerService) TamperDrill(_ context.Context, category, batchID string, index int) (*ChainView, error) {
	chain := s.store.Get(category, batchID)
	if len(chain) == 0 {
		return nil, ErrBatchNotFound
	}
	if index < 0 || index >= len(chain) {
		return nil, fmt.Errorf("%w: block %d out of range [0,%d)", ErrInvalidStage, index, len(chain))
	}
	drill := ledger.SimulateTamper(chain, index)
	validity := ledger.ValidateChain(drill)
	return &ChainView{
		Category:       category,
		BatchID:        batchID,
		Blocks:         drill,
		Validity:       validity,
		Valid:          ledger.AllValid(validity),
		TotalEmissions: ledger.TotalEmissions(drill),
		AverageTrust:   ledger.AverageTrust(drill),
	}, nil
}
