package liquidity

import (
	"context"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/chain/chaintest"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	wethPair  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	usdcPair  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	deadAddr  = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	ethConfig chain.Config
)

func init() {
	ethConfig, _ = chain.Lookup("eth")
}

func tenPow(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func reserves(r0, r1 *big.Int) []byte {
	out := append(chaintest.Uint(r0), chaintest.Uint(r1)...)
	return append(out, chaintest.Uint(big.NewInt(0))...)
}

// stubPairs wires a WETH pair (token is token0) and a USDC pair (USDC is token0).
func stubPairs(mock *chaintest.MockEthClient) {
	weth := ethConfig.Bases[0].Address
	usdc := ethConfig.Bases[1].Address

	mock.Handle(ethConfig.Factory, "getPair(address,address)", func(args []byte) ([]byte, error) {
		switch common.BytesToAddress(args[32:64]) {
		case weth:
			return chaintest.Address(wethPair), nil
		case usdc:
			return chaintest.Address(usdcPair), nil
		}
		return chaintest.Address(common.Address{}), nil
	})

	mock.Return(wethPair, "token0()", chaintest.Address(token))
	mock.Return(wethPair, "token1()", chaintest.Address(weth))
	mock.Return(wethPair, "getReserves()", reserves(big.NewInt(1_000_000), new(big.Int).Mul(big.NewInt(12), tenPow(18))))
	mock.Return(weth, "decimals()", chaintest.Uint(big.NewInt(18)))

	mock.Return(usdcPair, "token0()", chaintest.Address(usdc))
	mock.Return(usdcPair, "token1()", chaintest.Address(token))
	mock.Return(usdcPair, "getReserves()", reserves(new(big.Int).Mul(big.NewInt(50_000), tenPow(6)), big.NewInt(777)))
	mock.Return(usdc, "decimals()", chaintest.Uint(big.NewInt(6)))
}

func newFinder() *Finder {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewFinder(hostcall.NewCache(nil), l)
}

func TestDeepestPool_StableBeatsShallowWrapped(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	stubPairs(mock)
	mock.Return(usdcPair, "totalSupply()", chaintest.Uint(big.NewInt(1000)))
	mock.Handle(usdcPair, "balanceOf(address)", func(args []byte) ([]byte, error) {
		if common.BytesToAddress(args) == deadAddr {
			return chaintest.Uint(big.NewInt(10)), nil
		}
		return chaintest.Uint(big.NewInt(0)), nil
	})

	pool, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), ethConfig, token)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, usdcPair.Hex(), pool.PairAddress)
	assert.Equal(t, "USDC", pool.BaseSymbol)
	assert.InDelta(t, 50_000.0, pool.BaseReserveHuman, 1e-9)
	assert.InDelta(t, 50_000.0, pool.USDLiquidityEstimate, 1e-9)
	assert.Equal(t, "777", pool.TokenReserveRaw)
	require.NotNil(t, pool.LPBurnPercent)
	assert.InDelta(t, 1.0, *pool.LPBurnPercent, 1e-9)
}

func TestDeepestPool_WrappedOnly(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	stubPairs(mock)
	cfg := ethConfig
	cfg.Bases = cfg.Bases[:1]

	pool, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), cfg, token)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, "WETH", pool.BaseSymbol)
	assert.InDelta(t, 12.0, pool.BaseReserveHuman, 1e-9)
	assert.Equal(t, 0.0, pool.USDLiquidityEstimate)
	assert.Equal(t, "1000000", pool.TokenReserveRaw)
	assert.Nil(t, pool.LPBurnPercent)
}

func TestDeepestPool_DecimalsDefaultTo18(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	stubPairs(mock)
	cfg := ethConfig
	cfg.Bases = cfg.Bases[1:2]
	// USDC decimals unreadable: 50_000e6 at 18 decimals is tiny
	mock.Return(cfg.Bases[0].Address, "decimals()", nil)

	pool, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), cfg, token)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.InDelta(t, 5e-8, pool.BaseReserveHuman, 1e-15)
}

func TestDeepestPool_NoPairs(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	mock.Return(ethConfig.Factory, "getPair(address,address)", chaintest.Address(common.Address{}))

	pool, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), ethConfig, token)
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestDeepestPool_SkipsSelfPair(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	stubPairs(mock)
	weth := ethConfig.Bases[0].Address

	_, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), ethConfig, weth)
	require.NoError(t, err)
	// one getPair per base except WETH itself
	assert.Equal(t, len(ethConfig.Bases)-1, mock.CallsTo("getPair(address,address)"))
}

func TestDeepestPool_FactoryFailureIsError(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	_, err := newFinder().DeepestPool(context.Background(), evm.NewCaller(mock), ethConfig, token)
	assert.ErrorIs(t, err, chaintest.ErrReverted)
}

func TestDeepestPool_Cached(t *testing.T) {
	mock := chaintest.NewMockEthClient()
	stubPairs(mock)
	f := newFinder()
	caller := evm.NewCaller(mock)

	_, err := f.DeepestPool(context.Background(), caller, ethConfig, token)
	require.NoError(t, err)
	calls := mock.Calls()
	_, err = f.DeepestPool(context.Background(), caller, ethConfig, token)
	require.NoError(t, err)
	assert.Equal(t, calls, mock.Calls())
}
