// Package fees reads fee and tax getters from a verified token interface and
// normalizes their raw values to percentages.
package fees

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	feeKeywords   = []string{"fee", "tax", "buy", "sell", "transfer"}
	denomKeywords = []string{"denominator", "feedenominator", "taxdenominator", "feesdenominator"}

	// guessedDenominators cover percent, per-mille, basis points and ppm.
	guessedDenominators = []int64{100, 1000, 10000, 1_000_000}

	hundred     = decimal.NewFromInt(100)
	maxSanePcnt = decimal.NewFromInt(1000)
)

type Reader struct {
	caller *evm.Caller
	logger logrus.FieldLogger
}

func NewReader(caller *evm.Caller, logger logrus.FieldLogger) *Reader {
	return &Reader{caller: caller, logger: logger}
}

// ReadFees returns normalized percentages keyed by getter name. Getters that
// cannot be called are left out. An interface without fee getters yields an
// empty map.
func (r *Reader) ReadFees(ctx context.Context, token common.Address, abi []model.ABIEntry) map[string]float64 {
	result := make(map[string]float64)

	// Denominator getters match "fee" too and are reported alongside the fees.
	denomGetters := collectGetters(abi, denomKeywords)
	feeGetters := collectGetters(abi, feeKeywords)
	if len(feeGetters) == 0 {
		return result
	}

	var denominators []decimal.Decimal
	for _, name := range denomGetters {
		v, err := r.caller.RawUint(ctx, token, name+"()")
		if err != nil || v.Sign() <= 0 {
			continue
		}
		denominators = append(denominators, decimal.NewFromBigInt(v, 0))
	}
	if len(denominators) == 0 {
		for _, d := range guessedDenominators {
			denominators = append(denominators, decimal.NewFromInt(d))
		}
	}

	for _, name := range feeGetters {
		raw, err := r.caller.RawUint(ctx, token, name+"()")
		if err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{"token": token.Hex(), "getter": name}).Debug("Fee getter not callable")
			continue
		}
		result[name] = Normalize(raw, denominators)
	}
	return result
}

// Normalize divides raw by each denominator in turn and returns the first
// percentage not above 1000. If none qualifies raw is taken as a percent.
func Normalize(raw *big.Int, denominators []decimal.Decimal) float64 {
	value := decimal.NewFromBigInt(raw, 0)
	for _, d := range denominators {
		if d.Sign() <= 0 {
			continue
		}
		pct := value.Div(d).Mul(hundred)
		if pct.LessThanOrEqual(maxSanePcnt) {
			return pct.InexactFloat64()
		}
	}
	return value.InexactFloat64()
}

// collectGetters returns zero-input, single-uint-output functions whose name
// contains one of keywords, deduplicated in order.
func collectGetters(abi []model.ABIEntry, keywords []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range abi {
		if !e.IsFunction() || seen[e.Name] {
			continue
		}
		if len(e.Inputs) != 0 || len(e.Outputs) != 1 || !strings.HasPrefix(e.Outputs[0].Type, "uint") {
			continue
		}
		name := strings.ToLower(e.Name)
		if !matchesAny(name, keywords) {
			continue
		}
		seen[e.Name] = true
		out = append(out, e.Name)
	}
	return out
}

func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
