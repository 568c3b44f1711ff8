package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/facebookgo/clock"
)

// DefaultProductCode is used when a payload carries no usable productCode.
const DefaultProductCode = 0

// ErrNonFiniteEmissions is returned by CreateBlock when the supplied emissions
// value is NaN or infinite.
var ErrNonFiniteEmissions = errors.New("emissions must be a finite number")

type blockOptions struct {
	clock clock.Clock
	trust *TrustAnalysis
}

// Option customises CreateBlock.
type Option func(*blockOptions)

// WithClock sets the clock used to stamp the block. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *blockOptions) { o.clock = c }
}

// WithTrustAnalysis attaches an advisory annotation to the block.
func WithTrustAnalysis(t *TrustAnalysis) Option {
	return func(o *blockOptions) { o.trust = t }
}

// CreateBlock builds the block that would extend chain with a new stage.
//
// chain is read, never modified; the caller appends the returned block and
// persists the result. emissions is taken as given. The payload is not
// validated: productCode and chainId are read from it when present and fall
// back to DefaultProductCode and "<category>-<productCode>".
func CreateBlock(chain []Block, actor string, data Payload, emissions float64, category, batchID string, opts ...Option) (*Block, error) {
	if math.IsNaN(emissions) || math.IsInf(emissions, 0) {
		return nil, ErrNonFiniteEmissions
	}

	o := blockOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	prevHash := GenesisPreviousHash
	prevCumulative := 0.0
	if prev := Tip(chain); prev != nil {
		prevHash = prev.Hash
		prevCumulative = prev.CumulativeEmissions
	}

	productCode := productCodeOf(data)
	chainID := data.String(FieldChainID)
	if chainID == "" {
		chainID = category + "-" + strconv.Itoa(productCode)
	}

	b := &Block{
		Index:               len(chain),
		Timestamp:           o.clock.Now().UnixMilli(),
		Actor:               actor,
		Category:            category,
		BatchID:             batchID,
		ChainID:             chainID,
		ProductCode:         productCode,
		Data:                data.Clone(),
		Emissions:           emissions,
		CumulativeEmissions: prevCumulative + emissions,
		PreviousHash:        prevHash,
		TrustAnalysis:       o.trust,
	}

	hash, err := hashBlock(b)
	if err != nil {
		return nil, fmt.Errorf("hash block %d: %w", b.Index, err)
	}
	b.Hash = hash
	return b, nil
}

func productCodeOf(data Payload) int {
	n, ok := data.Number(FieldProductCode)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return DefaultProductCode
	}
	return int(n)
}
