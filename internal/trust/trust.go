// Package trust produces the advisory TrustAnalysis attached to each stage.
// Analyses never influence chain validity; they are stored beside the block
// for auditors and dashboards.
package trust

import (
	"context"

	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

// Analyzer inspects a stage payload before it is committed.
type Analyzer interface {
	Analyze(ctx context.Context, stage string, data ledger.Payload) (*ledger.TrustAnalysis, error)
}

// VerifiedThreshold is the score above which a stage counts as verified.
const VerifiedThreshold = 70

// Verified reports whether score clears VerifiedThreshold.
func Verified(score int) bool {
	return score > VerifiedThreshold
}

// Simulation is returned when no model credentials are configured.
func Simulation() *ledger.TrustAnalysis {
	return &ledger.TrustAnalysis{
		TrustScore:  85,
		Anomalies:   []string{"API Key missing - running in simulation mode."},
		Suggestions: []string{"Configure valid API Key for real-time AI audit."},
		IsVerified:  true,
	}
}

// Fallback is returned when the remote audit cannot be completed.
func Fallback() *ledger.TrustAnalysis {
	return &ledger.TrustAnalysis{
		TrustScore:  50,
		Anomalies:   []string{"Audit Logic Error"},
		Suggestions: []string{"Retry analysis"},
		IsVerified:  false,
	}
}
