// Package honeypot runs a read-only router quote probe. It is not a trade
// simulation: a quote can succeed for a token whose transfer still reverts.
package honeypot

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
)

const defaultDecimals = 18

// buyAmount is 0.01 of an 18-decimal base.
var buyAmount = big.NewInt(1e16)

var gateKeywords = []string{
	"blacklist", "whitelist", "bot", "maxwallet", "maxtx", "maxtxamount", "cooldown",
	"enabletrading", "opentrading", "settrading", "starttrading", "tradingopen",
	"swapenabled", "setfees", "settax", "excludefromfees", "setlimits",
}

type Prober struct {
	logger logrus.FieldLogger
}

func NewProber(logger logrus.FieldLogger) *Prober {
	return &Prober{logger: logger}
}

// Skipped builds the finding recorded when the probe does not run.
func Skipped(reason string) model.HoneypotFinding {
	return model.HoneypotFinding{Skipped: true, Reason: reason, Notes: []string{}}
}

// Probe asks the chain's router for a buy quote (base to token) and a sell
// quote (0.001 token to base). Failures are recorded as notes.
func (p *Prober) Probe(ctx context.Context, caller *evm.Caller, cfg chain.Config, token, base common.Address, abi []model.ABIEntry) model.HoneypotFinding {
	out := model.HoneypotFinding{Notes: []string{}}

	buyOK, err := quoteOK(ctx, caller, cfg.Router, buyAmount, []common.Address{base, token})
	if err != nil {
		out.Notes = append(out.Notes, fmt.Sprintf("buy quote failed: %v", err))
	}
	out.BuyOK = &buyOK

	dec := uint8(defaultDecimals)
	if d, err := caller.Decimals(ctx, token); err == nil {
		dec = d
	}
	sellOK, err := quoteOK(ctx, caller, cfg.Router, SellAmount(dec), []common.Address{token, base})
	if err != nil {
		out.Notes = append(out.Notes, fmt.Sprintf("sell quote failed: %v", err))
	}
	out.SellOK = &sellOK

	out.SuspiciousABI = HasTradingGates(abi)

	p.logger.WithFields(logrus.Fields{
		"chain": cfg.Key, "token": token.Hex(), "step": "honeypot",
		"buy_ok": buyOK, "sell_ok": sellOK, "suspicious_abi": out.SuspiciousABI,
	}).Debug("Honeypot probe finished")
	return out
}

// SellAmount is 0.001 token in raw units, at least 1.
func SellAmount(decimals uint8) *big.Int {
	if decimals <= 3 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-3), nil)
}

func quoteOK(ctx context.Context, caller *evm.Caller, router common.Address, amountIn *big.Int, path []common.Address) (bool, error) {
	amounts, err := caller.GetAmountsOut(ctx, router, amountIn, path)
	if err != nil {
		return false, err
	}
	return len(amounts) == 2 && amounts[1].Sign() > 0, nil
}

// HasTradingGates reports whether any function name contains a trading-gate keyword.
func HasTradingGates(abi []model.ABIEntry) bool {
	for _, e := range abi {
		if !e.IsFunction() {
			continue
		}
		name := strings.ToLower(e.Name)
		for _, kw := range gateKeywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}
