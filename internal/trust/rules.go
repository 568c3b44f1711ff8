package trust

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

// finding is a single rule match.
type finding struct {
	anomaly    string
	suggestion string
	penalty    int
}

type ruleFunc func(stage string, data ledger.Payload) []finding

// RuleAnalyzer scores stages with a fixed set of local consistency checks.
// It needs no network access and is the default analyzer.
type RuleAnalyzer struct {
	rules []ruleFunc
}

// NewRuleAnalyzer returns a RuleAnalyzer loaded with the default rule set.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{rules: []ruleFunc{
		ruleMissingBatch,
		ruleProductHierarchy,
		ruleEnvScoreRange,
		ruleNegativeMeasurements,
	}}
}

// Analyze implements Analyzer.
func (a *RuleAnalyzer) Analyze(_ context.Context, stage string, data ledger.Payload) (*ledger.TrustAnalysis, error) {
	var findings []finding
	for _, r := range a.rules {
		findings = append(findings, r(stage, data)...)
	}

	score := 100
	out := &ledger.TrustAnalysis{Anomalies: []string{}, Suggestions: []string{}}
	for _, f := range findings {
		score -= f.penalty
		out.Anomalies = append(out.Anomalies, f.anomaly)
		if f.suggestion != "" {
			out.Suggestions = append(out.Suggestions, f.suggestion)
		}
	}
	if score < 0 {
		score = 0
	}
	out.TrustScore = score
	out.IsVerified = Verified(score)
	return out, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

func ruleMissingBatch(_ string, data ledger.Payload) []finding {
	if data.String(ledger.FieldBatchID) != "" {
		return nil
	}
	return []finding{{
		anomaly:    "Stage is not linked to a batch ID",
		suggestion: "Record the batch ID printed on the lot label",
		penalty:    40,
	}}
}

// ruleProductHierarchy checks that the product code sits under the
// category's code series, e.g. 101 under 100.
func ruleProductHierarchy(_ string, data ledger.Payload) []finding {
	cat, err := catalog.Lookup(data.String(ledger.FieldCategory))
	if err != nil {
		return nil
	}
	code, ok := data.Number(ledger.FieldProductCode)
	if !ok {
		return nil
	}
	if cat.ProductMatches(int(code)) {
		return nil
	}
	return []finding{{
		anomaly: fmt.Sprintf("Product code %d does not belong to category %s (code %d)",
			int(code), cat.ID, cat.Code),
		suggestion: fmt.Sprintf("Use a %d-series product code for %s batches", cat.Code, cat.ID),
		penalty:    35,
	}}
}

func ruleEnvScoreRange(_ string, data ledger.Payload) []finding {
	v, ok := data.Number("envScore")
	if !ok || (v >= 0 && v <= 100) {
		return nil
	}
	return []finding{{
		anomaly:    fmt.Sprintf("Environment score %g is outside 0-100", v),
		suggestion: "Re-measure the environment score on the 0-100 scale",
		penalty:    20,
	}}
}

// measurementFields are quantities that cannot physically be negative.
var measurementFields = []string{
	"energyKwh", "machine_energy", "hvac_usage", "idle_energy",
	"transport_dist", "supply_distance", "weight_kg", "mass_inbound",
	"scrap_rate",
}

func ruleNegativeMeasurements(_ string, data ledger.Payload) []finding {
	var bad []string
	for _, k := range measurementFields {
		if v, ok := data.Number(k); ok && v < 0 {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	findings := make([]finding, 0, len(bad))
	for _, k := range bad {
		findings = append(findings, finding{
			anomaly: "Negative value recorded for " + k,
			penalty: 15,
		})
	}
	findings[0].suggestion = "Check sensor calibration for negative readings"
	return findings
}
