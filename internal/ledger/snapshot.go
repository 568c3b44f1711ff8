package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrNoSnapshot is returned by Persister.Load when nothing has been stored yet.
var ErrNoSnapshot = errors.New("no ledger snapshot stored")

// Snapshot is the full multi-chain state: category → batch ID → chain.
type Snapshot map[string]map[string][]Block

// Clone returns a copy of s whose maps and chain slices can be mutated
// independently. Block payloads are shared; blocks are immutable once built.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for cat, batches := range s {
		cp := make(map[string][]Block, len(batches))
		for id, chain := range batches {
			cp[id] = slices.Clone(chain)
		}
		out[cat] = cp
	}
	return out
}

// Persister stores and retrieves whole-ledger snapshots.
type Persister interface {
	// Load returns the last saved snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the stored snapshot with s.
	Save(ctx context.Context, s Snapshot) error
}

// EncodeSnapshot serializes s as a JSON document.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses a JSON snapshot document. Numbers inside block
// payloads are kept as json.Number so their digests reproduce exactly.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s.compact(), nil
}

// compact drops null categories and empty chains so every entry left is
// safe to append to.
func (s Snapshot) compact() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	for cat, batches := range s {
		for id, chain := range batches {
			if len(chain) == 0 {
				delete(batches, id)
			}
		}
		if len(batches) == 0 {
			delete(s, cat)
		}
	}
	return s
}
