// Package evm issues typed read-only contract calls through synthetic
// interface descriptions.
package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rnts08/eth-riskradar/internal/chain"
)

// ErrEmptyResult is returned when a call succeeds but yields no data,
// as calls to accounts without code do.
var ErrEmptyResult = errors.New("empty call result")

const (
	factoryJSON = `[{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}]`
	pairJSON    = `[
		{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"type":"function"}
	]`
	erc20JSON = `[
		{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
	]`
	routerJSON = `[{"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}]`
)

var (
	factoryABI = mustParse(factoryJSON)
	pairABI    = mustParse(pairJSON)
	erc20ABI   = mustParse(erc20JSON)
	routerABI  = mustParse(routerJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: bad interface definition: %v", err))
	}
	return parsed
}

// GetterABI describes a single zero-input view function returning outType.
func GetterABI(name, outType string) (abi.ABI, error) {
	def := fmt.Sprintf(`[{"constant":true,"inputs":[],"name":%q,"outputs":[{"name":"","type":%q}],"stateMutability":"view","type":"function"}]`, name, outType)
	return abi.JSON(strings.NewReader(def))
}

// Selector returns the 4-byte function selector for a signature like "owner()".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

type Caller struct {
	client chain.EthClient
}

func NewCaller(client chain.EthClient) *Caller {
	return &Caller{client: client}
}

func (c *Caller) Client() chain.EthClient { return c.client }

// Raw performs eth_call with pre-encoded data against the latest block.
func (c *Caller) Raw(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyResult
	}
	return out, nil
}

// RawUint calls a zero-argument signature and reads the first word as an unsigned integer.
func (c *Caller) RawUint(ctx context.Context, to common.Address, signature string) (*big.Int, error) {
	out, err := c.Raw(ctx, to, Selector(signature))
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("%s: short result of %d bytes", signature, len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// Call packs method with args, calls to and unpacks the outputs.
func (c *Caller) Call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := c.Raw(ctx, to, data)
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return values, nil
}

func (c *Caller) address(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (common.Address, error) {
	values, err := c.Call(ctx, to, parsed, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected output %T", method, values[0])
	}
	return addr, nil
}

func (c *Caller) uint256(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := c.Call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output %T", method, values[0])
	}
	return v, nil
}

// GetPair asks a V2 factory for the pair of a and b. A zero address means none.
func (c *Caller) GetPair(ctx context.Context, factory, a, b common.Address) (common.Address, error) {
	return c.address(ctx, factory, factoryABI, "getPair", a, b)
}

func (c *Caller) Token0(ctx context.Context, pair common.Address) (common.Address, error) {
	return c.address(ctx, pair, pairABI, "token0")
}

func (c *Caller) Token1(ctx context.Context, pair common.Address) (common.Address, error) {
	return c.address(ctx, pair, pairABI, "token1")
}

func (c *Caller) GetReserves(ctx context.Context, pair common.Address) (reserve0, reserve1 *big.Int, err error) {
	values, err := c.Call(ctx, pair, pairABI, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("getReserves: unexpected output types")
	}
	return r0, r1, nil
}

func (c *Caller) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.Call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected output %T", values[0])
	}
	return d, nil
}

// Symbol reads symbol(), accepting the legacy bytes32 encoding some tokens use.
func (c *Caller) Symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := c.Raw(ctx, token, Selector("symbol()"))
	if err != nil {
		return "", err
	}
	if values, err := erc20ABI.Unpack("symbol", out); err == nil {
		if s, ok := values[0].(string); ok {
			return s, nil
		}
	}
	if len(out) == 32 {
		return string(bytes.TrimRight(out, "\x00")), nil
	}
	return "", errors.New("symbol: undecodable result")
}

func (c *Caller) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.uint256(ctx, token, erc20ABI, "totalSupply")
}

func (c *Caller) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return c.uint256(ctx, token, erc20ABI, "balanceOf", holder)
}

// GetAmountsOut quotes amountIn along path on a V2 router.
func (c *Caller) GetAmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := c.Call(ctx, router, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut: unexpected output %T", values[0])
	}
	return amounts, nil
}
