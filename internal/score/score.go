// Package score turns analysis signals into a bounded risk score and tier.
package score

import "github.com/rnts08/eth-riskradar/internal/model"

const (
	minScore = 0
	maxScore = 100

	lowLiquidityUSD = 1000.0
	lowBurnPercent  = 1.0
	newTokenDays    = 2.0
	matureDays      = 365.0
)

// Rule names reported with each applied delta.
const (
	RuleControlled    = "ownership_controlled"
	RuleRenounced     = "ownership_renounced"
	RuleUnverifiedABI = "abi_unverified"
	RuleSuspicious    = "suspicious_functions"
	RuleMint          = "mint_function"
	RuleLowLiquidity  = "low_or_unknown_liquidity"
	RuleLowLPBurn     = "low_lp_burn"
	RuleNewToken      = "new_contract"
	RuleMatureToken   = "mature_contract"
)

// Inputs are the signals the scorer reads. Nil pointers mean unknown.
type Inputs struct {
	Ownership           *model.OwnershipFinding
	ABIVerified         bool
	SuspiciousFunctions []string
	HasMint             bool
	USDLiquidity        *float64
	LPBurnPercent       *float64
	AgeDays             *float64
}

// Score applies every rule independently, clamps the sum to [0,100] and
// buckets it. It never fails.
func Score(in Inputs) (int, model.Tier, []model.ScoreReason) {
	reasons := []model.ScoreReason{}
	total := 0
	add := func(rule string, delta int) {
		total += delta
		reasons = append(reasons, model.ScoreReason{Rule: rule, Delta: delta})
	}

	if in.Ownership != nil {
		switch {
		case in.Ownership.IsControlled():
			add(RuleControlled, 25)
		case in.Ownership.IsRenounced():
			add(RuleRenounced, -10)
		}
	}
	if !in.ABIVerified {
		add(RuleUnverifiedABI, 20)
	}
	if len(in.SuspiciousFunctions) > 0 {
		add(RuleSuspicious, 30)
	}
	if in.HasMint {
		add(RuleMint, 15)
	}
	if in.USDLiquidity == nil || *in.USDLiquidity < lowLiquidityUSD {
		add(RuleLowLiquidity, 20)
	}
	if in.LPBurnPercent != nil && *in.LPBurnPercent < lowBurnPercent {
		add(RuleLowLPBurn, 10)
	}
	if in.AgeDays != nil {
		if *in.AgeDays < newTokenDays {
			add(RuleNewToken, 10)
		}
		if *in.AgeDays > matureDays {
			add(RuleMatureToken, -5)
		}
	}

	total = clamp(total)
	return total, TierFor(total), reasons
}

func clamp(v int) int {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// TierFor buckets a score: below 25 LOW, below 60 MEDIUM, else HIGH.
func TierFor(score int) model.Tier {
	switch {
	case score < 25:
		return model.TierLow
	case score < 60:
		return model.TierMedium
	default:
		return model.TierHigh
	}
}
