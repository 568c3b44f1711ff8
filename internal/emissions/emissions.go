// Package emissions computes the per-stage CO2 footprint recorded on each
// block. The ledger stores and sums these values but never derives them.
package emissions

import (
	"math"

	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

// DefaultProductCode is assumed when a stage carries no product code.
const DefaultProductCode = 101

// DefaultEnvScore is assumed when a stage carries no environmental score.
const DefaultEnvScore = 80

const (
	gridIntensity    = 0.45   // kg CO2 per kWh
	transportFactor  = 0.0001 // per km per kg
	thermalBaseline  = 20.0   // °C
	thermalPerDegree = 0.02
	poorEnvPenalty   = 1.15
	goodEnvBonus     = 0.90
)

// Multiplier scales the energy and thermal terms for a product.
type Multiplier struct {
	Factor  float64 `json:"factor"`
	Thermal float64 `json:"thermal"`
}

// DefaultMultiplier applies to product codes missing from the table.
var DefaultMultiplier = Multiplier{Factor: 1.0, Thermal: 0.5}

var multipliers = map[int]Multiplier{
	101: {1.2, 0.8}, // coffee
	102: {2.5, 1.5}, // chemicals
	201: {1.8, 0.5}, // pharma
	202: {1.1, 0.4}, // food dough
	301: {0.9, 0.3}, // brewing
	302: {2.1, 0.6}, // bio-plastics
	401: {1.5, 0.9}, // essential oils
	402: {4.2, 1.8}, // lithium
	501: {3.5, 0.2}, // electronics
	502: {1.3, 0.1}, // packaging
}

// Field aliases, in lookup order. Different roles capture the same quantity
// under different names.
var (
	energyFields   = []string{"energyKwh", "machine_energy", "hvac_usage", "idle_energy"}
	distanceFields = []string{"transport_dist", "supply_distance"}
	weightFields   = []string{"weight_kg", "mass_inbound"}
	thermalFields  = []string{"targetTemp", "sterilization_temp"}
	scrapFields    = []string{"scrap_rate"}
	envScoreFields = []string{"envScore"}
	productFields  = []string{ledger.FieldProductCode}
)

// MultiplierFor returns the multiplier for a product code.
func MultiplierFor(code int) Multiplier {
	if m, ok := multipliers[code]; ok {
		return m
	}
	return DefaultMultiplier
}

// Calculate returns the stage footprint in kg CO2, rounded to two decimals.
// The result is always finite and non-negative: missing, zero and non-numeric
// inputs fall through to the next alias or the default, negative ones count
// as 0.
func Calculate(data ledger.Payload) float64 {
	code := int(first(data, productFields, DefaultProductCode))
	m := MultiplierFor(code)

	co2 := first(data, energyFields, 0) * gridIntensity * m.Factor

	if dist := first(data, distanceFields, 0); dist > 0 {
		weight := first(data, weightFields, 1)
		co2 += dist * weight * transportFactor
	}

	if temp := first(data, thermalFields, 0); temp > thermalBaseline {
		co2 += (temp - thermalBaseline) * thermalPerDegree * m.Thermal
	}

	if scrap := first(data, scrapFields, 0); scrap > 0 {
		co2 *= 1 + scrap/100
	}

	switch env := first(data, envScoreFields, DefaultEnvScore); {
	case env < 70:
		co2 *= poorEnvPenalty
	case env > 90:
		co2 *= goodEnvBonus
	}

	if math.IsNaN(co2) || math.IsInf(co2, 0) || co2 < 0 {
		return 0
	}
	return Round2(co2)
}

// EfficiencyScore maps a batch's total footprint onto 0..100, higher is
// better.
func EfficiencyScore(total float64) int {
	return int(math.Round(math.Max(0, 100-total/5)))
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// first returns the first alias holding a non-zero finite number, or def.
// A negative value counts as 0.
func first(data ledger.Payload, keys []string, def float64) float64 {
	for _, k := range keys {
		v, ok := data.Number(k)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
			continue
		}
		return math.Max(v, 0)
	}
	return def
}
