package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Digest computes the deterministic SHA-256 digest over the fields that make
// up a block's identity:
//
//	index | previousHash | timestamp | canonical(data) | emissions | chainID
//
// The payload is serialized canonically (see CanonicalJSON) so two payloads
// with equal content always hash identically, whatever their key order. A nil
// payload hashes as an empty one.
func Digest(index int, previousHash string, timestamp int64, data Payload, emissions float64, chainID string) (string, error) {
	if data == nil {
		data = Payload{}
	}
	canon, err := CanonicalJSON(data)
	if err != nil {
		return "", fmt.Errorf("serialize block data: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s",
		index, previousHash, timestamp, canon,
		strconv.FormatFloat(emissions, 'f', -1, 64), chainID,
	)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashBlock recomputes the digest of b from its stored fields.
func hashBlock(b *Block) (string, error) {
	return Digest(b.Index, b.PreviousHash, b.Timestamp, b.Data, b.Emissions, b.ChainID)
}

// CanonicalJSON renders v as compact JSON with object keys sorted at every
// level. Values are normalized through a decode pass that preserves number
// literals, so a payload serializes the same before and after a snapshot
// round trip. An untyped nil renders as {}.
func CanonicalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys when marshalling.
	return json.Marshal(normalized)
}
