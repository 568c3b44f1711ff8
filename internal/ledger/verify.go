package ledger

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Reasons reported by VerificationError.
const (
	ReasonBrokenLink = "previous hash does not match predecessor"
	ReasonBadHash    = "stored hash does not match recomputed digest"
	ReasonUnhashable = "block data cannot be serialized"
)

// VerificationError describes the first invalid block found by Verify.
type VerificationError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("block %d invalid: %s", e.Index, e.Reason)
}

// ValidateChain reports the validity of every block in chain, in order.
//
// The genesis block is trusted implicitly. Block i > 0 is valid when its
// PreviousHash equals the hash of block i-1 and its stored Hash equals the
// digest recomputed from its fields. Blocks are checked concurrently; the
// chain is never modified. An empty chain yields an empty result.
func ValidateChain(chain []Block) []bool {
	validity := make([]bool, len(chain))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range chain {
		g.Go(func() error {
			validity[i] = checkBlock(chain, i) == ""
			return nil
		})
	}
	_ = g.Wait()
	return validity
}

// Verify walks chain and returns a *VerificationError for the first invalid
// block, or nil when every block is valid.
func Verify(chain []Block) error {
	for i := range chain {
		if reason := checkBlock(chain, i); reason != "" {
			return &VerificationError{Index: i, Reason: reason}
		}
	}
	return nil
}

// AllValid reports whether every entry of validity is true.
func AllValid(validity []bool) bool {
	for _, ok := range validity {
		if !ok {
			return false
		}
	}
	return true
}

// checkBlock returns "" when chain[i] is valid, otherwise the reason.
func checkBlock(chain []Block, i int) string {
	if i == 0 {
		return ""
	}
	curr := &chain[i]
	if curr.PreviousHash != chain[i-1].Hash {
		return ReasonBrokenLink
	}
	hash, err := hashBlock(curr)
	if err != nil {
		return ReasonUnhashable
	}
	if hash != curr.Hash {
		return ReasonBadHash
	}
	return ""
}

// TamperedNote is written into a block's notes by SimulateTamper.
const TamperedNote = "HACKED DATA"

// SimulateTamper returns a copy of chain in which block index has had its
// notes overwritten without recomputing its hash, as an attacker editing the
// stored document would. chain itself is left untouched. It is used for
// detection drills; an out-of-range index returns an unmodified copy.
func SimulateTamper(chain []Block, index int) []Block {
	out := slices.Clone(chain)
	if index < 0 || index >= len(out) {
		return out
	}
	b := out[index]
	b.Data = b.Data.Clone()
	b.Data[FieldNotes] = TamperedNote
	b.IsTampered = true
	out[index] = b
	return out
}
