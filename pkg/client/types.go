package client

// TrustAnalysis is the advisory annotation attached to a block.
type TrustAnalysis struct {
	TrustScore  int      `json:"trustScore"`
	Anomalies   []string `json:"anomalies"`
	Suggestions []string `json:"suggestions"`
	IsVerified  bool     `json:"isVerified"`
}

// Block is one stage of a batch's chain.
type Block struct {
	Index               int            `json:"index"`
	Timestamp           int64          `json:"timestamp"`
	Actor               string         `json:"actor"`
	Category            string         `json:"category"`
	BatchID             string         `json:"batchId"`
	ChainID             string         `json:"chainId"`
	ProductCode         int            `json:"productCode"`
	Data                map[string]any `json:"data"`
	Emissions           float64        `json:"emissions"`
	CumulativeEmissions float64        `json:"cumulativeEmissions"`
	PreviousHash        string         `json:"previousHash"`
	Hash                string         `json:"hash"`
	TrustAnalysis       *TrustAnalysis `json:"trustAnalysis,omitempty"`
	IsTampered          bool           `json:"isTampered,omitempty"`
}

// StageRequest is the payload of SubmitStage. Actor sessions may leave
// Category and Role empty; administrators must set both.
type StageRequest struct {
	Category    string         `json:"category,omitempty"`
	Role        string         `json:"role,omitempty"`
	BatchID     string         `json:"batchId"`
	ProductCode int            `json:"productCode,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Session is the result of Login and AdminLogin.
type Session struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	ExpiresIn int    `json:"expiresIn"`
	Category  string `json:"category,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Category is one industrial sector with its ordered roles.
type Category struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Code     int       `json:"code"`
	Roles    []string  `json:"roles"`
	Products []Product `json:"products"`
}

// Product is one product line of a category.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code int    `json:"code"`
}

// Chain is a batch's blocks with their validity.
type Chain struct {
	Category       string  `json:"category"`
	BatchID        string  `json:"batchId"`
	Blocks         []Block `json:"blocks"`
	Validity       []bool  `json:"validity"`
	Valid          bool    `json:"valid"`
	TotalEmissions float64 `json:"totalEmissions"`
	AverageTrust   int     `json:"averageTrust"`
}

// VerificationFailure names the first invalid block of a chain.
type VerificationFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Verification is the outcome of VerifyChain.
type Verification struct {
	Category     string               `json:"category"`
	BatchID      string               `json:"batchId"`
	Length       int                  `json:"length"`
	Validity     []bool               `json:"validity"`
	Valid        bool                 `json:"valid"`
	FirstFailure *VerificationFailure `json:"firstFailure,omitempty"`
}

// BatchSummary describes a batch's progress.
type BatchSummary struct {
	Category            string  `json:"category"`
	BatchID             string  `json:"batchId"`
	ChainID             string  `json:"chainId"`
	ProductCode         int     `json:"productCode"`
	Stages              int     `json:"stages"`
	NextRole            string  `json:"nextRole,omitempty"`
	Complete            bool    `json:"complete"`
	CumulativeEmissions float64 `json:"cumulativeEmissions"`
	AverageTrust        int     `json:"averageTrust"`
	Valid               bool    `json:"valid"`
	LastUpdated         int64   `json:"lastUpdated"`
}

// Report is the public view of a batch.
type Report struct {
	Category        string  `json:"category"`
	BatchID         string  `json:"batchId"`
	ChainID         string  `json:"chainId"`
	ProductCode     int     `json:"productCode"`
	Blocks          []Block `json:"blocks"`
	Validity        []bool  `json:"validity"`
	Valid           bool    `json:"valid"`
	TotalEmissions  float64 `json:"totalEmissions"`
	EfficiencyScore int     `json:"efficiencyScore"`
	AverageTrust    int     `json:"averageTrust"`
	CertificateID   string  `json:"certificateId"`
	Mode            string  `json:"mode"`
}

// Summary is the administrator's ledger-wide overview.
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
