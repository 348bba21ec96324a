// Package report renders risk results for people and for batch files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rnts08/eth-riskradar/internal/model"
)

// Columns is the CSV header of a batch scan.
var Columns = []string{
	"chain", "address", "ownership", "abi_verified", "suspicious_functions", "has_mint",
	"max_fee_pct", "lp_burn_pct", "base_symbol", "base_reserve", "usd_liquidity",
	"age_days", "score", "risk_tier", "error",
}

// Entry is one line of a batch outcome: either a result or an error.
type Entry struct {
	Chain   string
	Address string
	Result  *model.RiskResult
	Err     error
}

// MarshalJSON writes the result itself, or {chain, address, error} on failure.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Result != nil {
		return json.Marshal(e.Result)
	}
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Chain   string `json:"chain"`
		Address string `json:"address"`
		Error   string `json:"error"`
	}{e.Chain, e.Address, msg})
}

// Ownership summarizes an ownership finding in one short phrase.
func Ownership(o *model.OwnershipFinding) string {
	if o == nil {
		return string(model.OwnershipUnknown)
	}
	switch o.Status {
	case model.OwnershipRenounced:
		return "renounced"
	case model.OwnershipControlledBy:
		s := fmt.Sprintf("controlled by %s", o.Owner)
		if o.Kind != "" {
			s += " (" + string(o.Kind) + ")"
		}
		if o.Confidence == model.ConfidenceInference {
			s += " [inferred]"
		}
		return s
	default:
		return string(model.OwnershipUnknown)
	}
}

// Row flattens an entry into the Columns order. Error rows keep only chain,
// address and error.
func Row(e Entry) []string {
	row := make([]string, len(Columns))
	row[0], row[1] = e.Chain, e.Address
	if e.Result == nil {
		if e.Err != nil {
			row[14] = e.Err.Error()
		}
		return row
	}
	r := e.Result

	var burn, reserve, usd float64
	var base string
	if lp := r.Liquidity; lp != nil {
		base = lp.BaseSymbol
		reserve = lp.BaseReserveHuman
		usd = lp.USDLiquidityEstimate
		if lp.LPBurnPercent != nil {
			burn = *lp.LPBurnPercent
		}
	}
	var age float64
	if r.Context.AgeDays != nil {
		age = *r.Context.AgeDays
	}

	row[0], row[1] = r.Chain, r.Address
	row[2] = Ownership(r.Ownership)
	row[3] = strconv.FormatBool(r.ABIVerified)
	row[4] = strings.Join(r.SuspiciousFunctions, ";")
	row[5] = strconv.FormatBool(r.HasMint)
	row[6] = fmt.Sprintf("%.2f", r.MaxFeePercent())
	row[7] = fmt.Sprintf("%.2f", burn)
	row[8] = base
	row[9] = fmt.Sprintf("%.6f", reserve)
	row[10] = fmt.Sprintf("%.0f", usd)
	row[11] = fmt.Sprintf("%.1f", age)
	row[12] = strconv.Itoa(r.Score)
	row[13] = string(r.Tier)
	return row
}

// WriteCSV writes the header and one row per entry.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(Row(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Text writes a human readable report of r.
func Text(w io.Writer, r *model.RiskResult) {
	name := r.Address
	if r.Symbol != "" {
		name = fmt.Sprintf("%s (%s)", r.Address, r.Symbol)
	}
	fmt.Fprintf(w, "Chain=%s  Token=%s\n", r.Chain, name)
	fmt.Fprintf(w, "Ownership: %s\n", Ownership(r.Ownership))
	if r.OwnershipError != "" {
		fmt.Fprintf(w, "  ownership check failed: %s\n", r.OwnershipError)
	}

	if r.ABIVerified {
		if len(r.SuspiciousFunctions) > 0 {
			fmt.Fprintf(w, "Suspicious functions: %s\n", strings.Join(r.SuspiciousFunctions, ", "))
		} else {
			fmt.Fprintln(w, "No blacklist/whitelist/bot traps found.")
		}
		if r.HasMint {
			fmt.Fprintln(w, "Mint function found.")
		} else {
			fmt.Fprintln(w, "No mint function found.")
		}
		fmt.Fprintf(w, "Fees: %s\n", topFees(r.Fees, 6))
	} else {
		msg := r.ABIError
		if msg == "" {
			msg = "ABI not verified."
		}
		fmt.Fprintf(w, "%s\nSkipping ABI-based checks for this contract.\n", msg)
	}

	switch lp := r.Liquidity; {
	case lp != nil:
		fmt.Fprintf(w, "Pair: %s\nDeepest base: %s\nBase reserve ~ %.6f\n", lp.PairAddress, lp.BaseSymbol, lp.BaseReserveHuman)
		fmt.Fprintf(w, "USD liquidity ~ $%.0f\n", lp.USDLiquidityEstimate)
		if lp.LPBurnPercent != nil {
			fmt.Fprintf(w, "LP burn ~ %.2f%%\n", *lp.LPBurnPercent)
		} else {
			fmt.Fprintln(w, "LP burn: n/a")
		}
	case r.LiquidityError != "":
		fmt.Fprintf(w, "Liquidity lookup failed: %s\n", r.LiquidityError)
	default:
		fmt.Fprintln(w, "No V2 token/base pair found, skipping liquidity checks.")
	}

	if r.Context.AgeDays != nil {
		fmt.Fprintf(w, "Contract age ~ %.1f days\n", *r.Context.AgeDays)
	} else {
		fmt.Fprintln(w, "Contract age: unknown")
	}

	hp := r.Honeypot
	switch {
	case hp.Skipped:
		fmt.Fprintf(w, "Honeypot probe skipped (%s)\n", hp.Reason)
	case hp.BuyOK != nil && hp.SellOK != nil:
		fmt.Fprintf(w, "Honeypot probe: buy quote ok=%t, sell quote ok=%t\n", *hp.BuyOK, *hp.SellOK)
	}

	if r.Code != nil && len(r.Code.Flags) > 0 {
		fmt.Fprintf(w, "Bytecode flags: %s\n", strings.Join(r.Code.Flags, ", "))
	}

	fmt.Fprintf(w, "Final Risk Score: %d/100 (%s RISK)\n", r.Score, r.Tier)
	for _, reason := range r.Reasons {
		fmt.Fprintf(w, "  %+d %s\n", reason.Delta, reason.Rule)
	}
}

func topFees(fees map[string]float64, n int) string {
	if len(fees) == 0 {
		return "none detected"
	}
	names := make([]string, 0, len(fees))
	for k := range fees {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if fees[names[i]] != fees[names[j]] {
			return fees[names[i]] > fees[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s~%.2f%%", k, fees[k])
	}
	return strings.Join(parts, ", ")
}
