package ledger

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// GenesisPreviousHash is the PreviousHash sentinel of the first block in a chain.
const GenesisPreviousHash = "0"

// Well-known payload fields populated by the collection layer.
const (
	FieldActorType   = "actorType"
	FieldBatchID     = "batchId"
	FieldTimestamp   = "timestamp"
	FieldCategory    = "category"
	FieldProductCode = "productCode"
	FieldChainID     = "chainId"
	FieldNotes       = "notes"
)

// Payload is the open-ended stage data recorded in a block. The ledger does
// not validate its shape; it only serializes it canonically into the digest.
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	return maps.Clone(p)
}

// String returns the value under key rendered as a string, or "" when absent.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Number returns the value under key as a float64. Numeric strings are
// accepted because form inputs arrive as text.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// TrustAnalysis is the advisory annotation attached to a block. It is not
// part of the digest and never affects validity.
type TrustAnalysis struct {
	TrustScore  int      `json:"trustScore"`
	Anomalies   []string `json:"anomalies"`
	Suggestions []string `json:"suggestions"`
	IsVerified  bool     `json:"isVerified"`
}

// Block is one stage's contribution to a batch's provenance chain.
//
// JSON field names follow the persisted snapshot format so documents written
// by earlier releases load unchanged.
type Block struct {
	Index               int            `json:"index"`
	Timestamp           int64          `json:"timestamp"` // Unix milliseconds
	Actor               string         `json:"actor"`
	Category            string         `json:"category"`
	BatchID             string         `json:"batchId"`
	ChainID             string         `json:"chainId"`
	ProductCode         int            `json:"productCode"`
	Data                Payload        `json:"data"`
	Emissions           float64        `json:"emissions"`
	CumulativeEmissions float64        `json:"cumulativeEmissions"`
	PreviousHash        string         `json:"previousHash"`
	Hash                string         `json:"hash"`
	TrustAnalysis       *TrustAnalysis `json:"trustAnalysis,omitempty"`
	IsTampered          bool           `json:"isTampered,omitempty"` // informational only
}

// Tip returns the last block of chain, or nil for an empty chain.
func Tip(chain []Block) *Block {
	if len(chain) == 0 {
		return nil
	}
	return &chain[len(chain)-1]
}

// TotalEmissions returns the cumulative emissions recorded at the chain tip.
func TotalEmissions(chain []Block) float64 {
	if tip := Tip(chain); tip != nil {
		return tip.CumulativeEmissions
	}
	return 0
}

// AverageTrust returns the rounded mean trust score over chain. Blocks
// without an annotation count as zero.
func AverageTrust(chain []Block) int {
	if len(chain) == 0 {
		return 0
	}
	sum := 0
	for _, b := range chain {
		if b.TrustAnalysis != nil {
			sum += b.TrustAnalysis.TrustScore
		}
	}
	return int(float64(sum)/float64(len(chain)) + 0.5)
}
