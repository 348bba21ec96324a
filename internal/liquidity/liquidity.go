// Package liquidity finds the deepest constant-product pool for a token.
package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	poolTTL         = 10 * time.Second
	defaultDecimals = 18
)

var (
	burnAddresses = []common.Address{
		common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		{},
	}
	hundred = decimal.NewFromInt(100)
)

type Finder struct {
	cache  *hostcall.Cache
	logger logrus.FieldLogger
}

func NewFinder(cache *hostcall.Cache, logger logrus.FieldLogger) *Finder {
	return &Finder{cache: cache, logger: logger}
}

type candidate struct {
	pool  model.LiquidityPool
	depth decimal.Decimal
}

// DeepestPool returns the pool with the greatest base-side depth across the
// chain's base assets, or nil when the token has no pair. The lookup is cached
// briefly per chain and token.
func (f *Finder) DeepestPool(ctx context.Context, caller *evm.Caller, cfg chain.Config, token common.Address) (*model.LiquidityPool, error) {
	key := hostcall.Key("liquidity.DeepestPool", []any{cfg.Key, token.Hex()}, nil)
	return hostcall.Memoize(f.cache, key, poolTTL, func() (*model.LiquidityPool, error) {
		return f.deepestPool(ctx, caller, cfg, token)
	})
}

func (f *Finder) deepestPool(ctx context.Context, caller *evm.Caller, cfg chain.Config, token common.Address) (*model.LiquidityPool, error) {
	log := f.logger.WithFields(logrus.Fields{"chain": cfg.Key, "token": token.Hex(), "step": "liquidity"})

	var best *candidate
	var lastErr error
	for _, base := range cfg.Bases {
		if base.Address == token {
			continue
		}
		c, err := f.inspect(ctx, caller, cfg, token, base)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("base", base.Symbol).Debug("Pair inspection failed")
			continue
		}
		if c == nil {
			continue
		}
		log.WithFields(logrus.Fields{"base": base.Symbol, "pair": c.pool.PairAddress, "depth": c.depth.String()}).Debug("Pair found")
		if best == nil || c.depth.GreaterThan(best.depth) {
			best = c
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, nil
	}

	pool := best.pool
	pool.LPBurnPercent = burnPercent(ctx, caller, common.HexToAddress(pool.PairAddress))
	return &pool, nil
}

func (f *Finder) inspect(ctx context.Context, caller *evm.Caller, cfg chain.Config, token common.Address, base chain.Base) (*candidate, error) {
	pair, err := caller.GetPair(ctx, cfg.Factory, token, base.Address)
	if err != nil {
		return nil, fmt.Errorf("getPair %s: %w", base.Symbol, err)
	}
	if pair == (common.Address{}) {
		return nil, nil
	}

	t0, err := caller.Token0(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("token0 %s: %w", pair.Hex(), err)
	}
	if _, err := caller.Token1(ctx, pair); err != nil {
		return nil, fmt.Errorf("token1 %s: %w", pair.Hex(), err)
	}
	r0, r1, err := caller.GetReserves(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("getReserves %s: %w", pair.Hex(), err)
	}

	baseReserve, tokenReserve := r1, r0
	if t0 == base.Address {
		baseReserve, tokenReserve = r0, r1
	}

	dec := uint8(defaultDecimals)
	if d, err := caller.Decimals(ctx, base.Address); err == nil {
		dec = d
	}
	human := decimal.NewFromBigInt(baseReserve, -int32(dec))

	usd := decimal.Zero
	if base.IsStable() {
		usd = human
	}

	return &candidate{
		pool: model.LiquidityPool{
			PairAddress:          pair.Hex(),
			BaseSymbol:           base.Symbol,
			BaseAddress:          base.Address.Hex(),
			BaseReserveHuman:     human.InexactFloat64(),
			USDLiquidityEstimate: usd.InexactFloat64(),
			TokenReserveRaw:      tokenReserve.String(),
		},
		depth: human,
	}, nil
}

// burnPercent is the share of LP supply held by burn addresses, nil if unreadable.
func burnPercent(ctx context.Context, caller *evm.Caller, pair common.Address) *float64 {
	supply, err := caller.TotalSupply(ctx, pair)
	if err != nil || supply.Sign() <= 0 {
		return nil
	}
	burned := new(big.Int)
	for _, addr := range burnAddresses {
		bal, err := caller.BalanceOf(ctx, pair, addr)
		if err != nil {
			return nil
		}
		burned.Add(burned, bal)
	}
	pct := decimal.NewFromBigInt(burned, 0).Div(decimal.NewFromBigInt(supply, 0)).Mul(hundred).InexactFloat64()
	return &pct
}
