package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ChainRef identifies one chain in the store together with its blocks.
type ChainRef struct {
	Category string  `json:"category"`
	BatchID  string  `json:"batchId"`
	Blocks   []Block `json:"blocks"`
}

// Store is the multi-chain collection. It is the sole owner of chain
// lifecycles: a chain is created by its first Append and removed only by
// Delete. Every successful mutation is followed by a Save of the full
// snapshot through the configured Persister.
//
// Store guards its maps but does not serialise the read-create-append
// sequence of a writer; callers appending to the same batch must do that
// themselves (see supply/service).
type Store struct {
	mu        sync.RWMutex
	chains    Snapshot
	persister Persister
	logger    *zap.Logger
}

// NewStore returns an empty Store backed by p. p may be nil for a purely
// in-memory store.
func NewStore(p Persister, logger *zap.Logger) *Store {
	return &Store{chains: Snapshot{}, persister: p, logger: logger}
}

// Open loads the last snapshot from p. A missing or unreadable snapshot is
// logged and replaced by an empty store; it never prevents startup.
func Open(ctx context.Context, p Persister, logger *zap.Logger) *Store {
	s := NewStore(p, logger)
	if p == nil {
		return s
	}

	snap, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		logger.Info("no ledger snapshot found, starting empty")
	case err != nil:
		logger.Warn("ledger snapshot unreadable, starting empty", zap.Error(err))
	default:
		s.chains = snap.compact()
		cats, batches, blocks := s.Stats()
		logger.Info("ledger snapshot loaded",
			zap.Int("categories", cats),
			zap.Int("batches", batches),
			zap.Int("blocks", blocks),
		)
	}
	return s
}

// Append adds block to the tail of the chain for (category, batchID),
// creating the entry if needed, and persists the snapshot. If persisting
// fails the append is undone and the error returned.
func (s *Store) Append(ctx context.Context, category, batchID string, block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches, hadCategory := s.chains[category]
	if batches == nil {
		hadCategory = false
		batches = make(map[string][]Block)
		s.chains[category] = batches
	}
	prev, hadBatch := batches[batchID]
	batches[batchID] = append(slices.Clip(prev), block)

	if err := s.persist(ctx); err != nil {
		switch {
		case hadBatch:
			batches[batchID] = prev
		case hadCategory:
			delete(batches, batchID)
		default:
			delete(s.chains, category)
		}
		return fmt.Errorf("append %s/%s: %w", category, batchID, err)
	}

	s.logger.Debug("block appended",
		zap.String("category", category),
		zap.String("batch_id", batchID),
		zap.Int("index", block.Index),
		zap.String("hash", block.Hash),
	)
	return nil
}

// Get returns a copy of the chain for (category, batchID), or an empty
// slice when it does not exist.
func (s *Store) Get(category, batchID string) []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[category][batchID]
	if chain == nil {
		return []Block{}
	}
	return slices.Clone(chain)
}

// ListBatches returns the batch IDs recorded under category, sorted.
func (s *Store) ListBatches(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chains[category]))
	for id := range s.chains[category] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListCategories returns every category holding at least one chain, sorted.
func (s *Store) ListCategories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoriesLocked()
}

// ListAll returns every chain in the store ordered by category, then batch.
func (s *Store) ListAll() []ChainRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []ChainRef
	for _, cat := range s.categoriesLocked() {
		batches := s.chains[cat]
		ids := make([]string, 0, len(batches))
		for id := range batches {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			refs = append(refs, ChainRef{Category: cat, BatchID: id, Blocks: slices.Clone(batches[id])})
		}
	}
	return refs
}

// FindBatch searches every category for batchID and returns the first match
// in category order. It never mutates the store. A miss returns "" and an
// empty chain.
func (s *Store) FindBatch(batchID string) (string, []Block) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cat := range s.categoriesLocked() {
		if chain, ok := s.chains[cat][batchID]; ok {
			return cat, slices.Clone(chain)
		}
	}
	return "", []Block{}
}

// Delete removes the chain for (category, batchID) and persists the
// snapshot. Deleting a chain that does not exist is a no-op.
func (s *Store) Delete(ctx context.Context, category, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches, ok := s.chains[category]
	if !ok {
		return nil
	}
	prev, ok := batches[batchID]
	if !ok {
		return nil
	}

	delete(batches, batchID)
	if len(batches) == 0 {
		delete(s.chains, category)
	}

	if err := s.persist(ctx); err != nil {
		if _, ok := s.chains[category]; !ok {
			s.chains[category] = batches
		}
		batches[batchID] = prev
		return fmt.Errorf("delete %s/%s: %w", category, batchID, err)
	}
	return nil
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chains.Clone()
}

// Stats returns the number of categories, batches and blocks held.
func (s *Store) Stats() (categories, batches, blocks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bs := range s.chains {
		categories++
		for _, chain := range bs {
			batches++
			blocks += len(chain)
		}
	}
	return categories, batches, blocks
}

func (s *Store) categoriesLocked() []string {
	cats := make([]string, 0, len(s.chains))
	for cat := range s.chains {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, s.chains); err != nil {
		s.logger.Error("persist ledger snapshot", zap.Error(err))
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
