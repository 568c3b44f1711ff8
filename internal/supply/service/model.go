package service

import (
	"errors"

	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

var (
	// ErrInvalidStage is returned when a submission is missing required fields
	// or names an unknown category or role.
	ErrInvalidStage = errors.New("invalid stage submission")

	// ErrBatchNotFound is returned by lookups that require an existing batch.
	ErrBatchNotFound = errors.New("batch not found")
)

// Webhook event types.
const (
	EventBlockAppended = "block.appended"
	EventBatchDeleted  = "batch.deleted"
)

// StageRequest is one actor's submission for a batch.
type StageRequest struct {
	Category    string         `json:"category"`
	Role        string         `json:"role"`
	BatchID     string         `json:"batchId"`
	ProductCode int            `json:"productCode,omitempty"` // 0 = reuse the batch's or the category default
	Data        ledger.Payload `json:"data"`
}

// ChainView is a chain together with its verification outcome.
type ChainView struct {
	Category       string         `json:"category"`
	BatchID        string         `json:"batchId"`
	Blocks         []ledger.Block `json:"blocks"`
	Validity       []bool         `json:"validity"`
	Valid          bool           `json:"valid"`
	TotalEmissions float64        `json:"totalEmissions"`
	AverageTrust   int            `json:"averageTrust"`
}

// VerifyResult is the outcome of re-walking one chain.
type VerifyResult struct {
	Category     string                    `json:"category"`
	BatchID      string                    `json:"batchId"`
	Length       int                       `json:"length"`
	Validity     []bool                    `json:"validity"`
	Valid        bool                      `json:"valid"`
	FirstFailure *ledger.VerificationError `json:"firstFailure,omitempty"`
}

// BatchSummary describes a batch's progress through its category's roles.
type BatchSummary struct {
	Category            string  `json:"category"`
	BatchID             string  `json:"batchId"`
	ChainID             string  `json:"chainId"`
	ProductCode         int     `json:"productCode"`
	Stages              int     `json:"stages"`
	NextRole            string  `json:"nextRole,omitempty"` // empty once every role has signed
	Complete            bool    `json:"complete"`
	CumulativeEmissions float64 `json:"cumulativeEmissions"`
	AverageTrust        int     `json:"averageTrust"`
	Valid               bool    `json:"valid"`
	LastUpdated         int64   `json:"lastUpdated"` // Unix ms of the tip block
}

// Report is the public, unauthenticated view of a batch.
type Report struct {
	Category        string         `json:"category"`
	BatchID         string         `json:"batchId"`
	ChainID         string         `json:"chainId"`
	ProductCode     int            `json:"productCode"`
	Blocks          []ledger.Block `json:"blocks"`
	Validity        []bool         `json:"validity"`
	Valid           bool           `json:"valid"`
	TotalEmissions  float64        `json:"totalEmissions"`
	EfficiencyScore int            `json:"efficiencyScore"`
	AverageTrust    int            `json:"averageTrust"`
	CertificateID   string         `json:"certificateId"`
	Mode            string         `json:"mode"`
}

// Summary aggregates the whole ledger for the admin dashboard.
type Summary struct {
	Categories      int                        `json:"categories"`
	Batches         int                        `json:"batches"`
	Blocks          int                        `json:"blocks"`
	TamperedBatches int                        `json:"tamperedBatches"`
	TotalEmissions  float64                    `json:"totalEmissions"`
	AverageTrust    int                        `json:"averageTrust"`
	ByCategory      map[string]CategorySummary `json:"byCategory"`
}

// CategorySummary is the per-category slice of Summary.
type CategorySummary struct {
	Batches        int     `json:"batches"`
	Blocks         int     `json:"blocks"`
	TotalEmissions float64 `json:"totalEmissions"`
}
