// Package model holds the records produced by a token risk analysis.
package model

// OwnershipStatus is the control state of a token contract.
type OwnershipStatus string

const (
	OwnershipRenounced    OwnershipStatus = "renounced"
	OwnershipControlledBy OwnershipStatus = "controlled"
	OwnershipUnknown      OwnershipStatus = "unknown"
)

// ControllerKind tells whether an owner address holds code.
type ControllerKind string

const (
	ControllerEOA      ControllerKind = "EOA"
	ControllerContract ControllerKind = "Contract"
)

// Confidence of an ownership finding. Storage heuristics only reach ConfidenceInference.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceInference Confidence = "inference"
)

// OwnershipFinding is the outcome of the ownership cascade.
type OwnershipFinding struct {
	Status     OwnershipStatus `json:"status"`
	Owner      string          `json:"owner,omitempty"`
	Kind       ControllerKind  `json:"kind,omitempty"`
	Source     string          `json:"source,omitempty"`
	Method     string          `json:"method,omitempty"`
	ViaProxy   bool            `json:"via_proxy,omitempty"`
	Confidence Confidence      `json:"confidence,omitempty"`
}

func (o OwnershipFinding) IsRenounced() bool {
	return o.Status == OwnershipRenounced
}

// IsControlled reports a high-confidence owner. Inference-grade findings are excluded.
func (o OwnershipFinding) IsControlled() bool {
	return o.Status == OwnershipControlledBy && o.Confidence != ConfidenceInference
}

// ABIParam is one input or output of an ABI entry.
type ABIParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ABIEntry describes a single item of a contract interface definition.
type ABIEntry struct {
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Inputs          []ABIParam `json:"inputs"`
	Outputs         []ABIParam `json:"outputs"`
	StateMutability string     `json:"stateMutability,omitempty"`
	Constant        bool       `json:"constant,omitempty"`
}

func (e ABIEntry) IsFunction() bool {
	return e.Type == "function"
}

// LiquidityPool is the deepest AMM pair found for a token.
type LiquidityPool struct {
	PairAddress          string   `json:"pair"`
	BaseSymbol           string   `json:"base_symbol"`
	BaseAddress          string   `json:"base_address"`
	BaseReserveHuman     float64  `json:"base_reserve_human"`
	USDLiquidityEstimate float64  `json:"usd_liquidity_est"`
	TokenReserveRaw      string   `json:"token_reserve_units"`
	LPBurnPercent        *float64 `json:"lp_burn_pct,omitempty"`
}

// ContractAge is the estimated age of the token contract.
type ContractAge struct {
	AgeDays   *float64 `json:"age_days"`
	CreatedTx string   `json:"created_tx,omitempty"`
	Source    string   `json:"source,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// HoneypotFinding is the result of the router quote probe.
type HoneypotFinding struct {
	Skipped       bool     `json:"skipped,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	BuyOK         *bool    `json:"buy_quote_ok"`
	SellOK        *bool    `json:"sell_quote_ok"`
	SuspiciousABI bool     `json:"suspicious_abi"`
	Notes         []string `json:"notes"`
}

// Tier is the coarse risk bucket derived from the score.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// ScoreReason records a single applied scoring rule.
type ScoreReason struct {
	Rule  string `json:"rule"`
	Delta int    `json:"delta"`
}

// CodeEvidence is the static bytecode analysis of the token contract.
type CodeEvidence struct {
	TokenType string   `json:"token_type,omitempty"`
	Flags     []string `json:"flags"`
	Score     int      `json:"score"`
}

// RiskResult aggregates every signal gathered for one token.
type RiskResult struct {
	Chain               string             `json:"chain"`
	Address             string             `json:"address"`
	Symbol              string             `json:"symbol,omitempty"`
	Ownership           *OwnershipFinding  `json:"ownership"`
	OwnershipError      string             `json:"ownership_error,omitempty"`
	ABIVerified         bool               `json:"abi_verified"`
	ABIError            string             `json:"abi_error,omitempty"`
	SuspiciousFunctions []string           `json:"suspicious_functions"`
	HasMint             bool               `json:"has_mint"`
	Fees                map[string]float64 `json:"fees_percent"`
	FeesError           string             `json:"fees_error,omitempty"`
	Liquidity           *LiquidityPool     `json:"liquidity"`
	LiquidityError      string             `json:"liquidity_error,omitempty"`
	Context             ContractAge        `json:"context"`
	Honeypot            HoneypotFinding    `json:"honeypot"`
	Code                *CodeEvidence      `json:"code,omitempty"`
	Score               int                `json:"score"`
	Tier                Tier               `json:"risk_tier"`
	Reasons             []ScoreReason      `json:"score_reasons"`
}

// MaxFeePercent returns the largest normalized fee, or 0 when none were read.
func (r *RiskResult) MaxFeePercent() float64 {
	max := 0.0
	for _, v := range r.Fees {
		if v > max {
			max = v
		}
	}
	return max
}
