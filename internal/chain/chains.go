// Package chain holds the supported chain registry and the rate-limited,
// retried connection to a chain's JSON-RPC endpoint.
package chain

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// MultichainExplorerBase serves every supported chain selected by chainid.
const MultichainExplorerBase = "https://api.etherscan.io/v2/api"

// BaseKind classifies a pairing asset. Stable bases are valued 1:1 in USD.
type BaseKind string

const (
	BaseWrapped BaseKind = "wrapped"
	BaseStable  BaseKind = "stable"
)

type Base struct {
	Symbol  string
	Address common.Address
	Kind    BaseKind
}

func (b Base) IsStable() bool { return b.Kind == BaseStable }

// Config is the static description of one supported chain.
type Config struct {
	Key     string
	ChainID int64
	// PoA chains carry extended header extra-data.
	PoA bool
	// Primary marks the chain whose legacy explorer accepts the multichain key.
	Primary bool

	DefaultRPC string
	Factory    common.Address
	Router     common.Address

	LegacyExplorer string
	LegacyHostKey  string

	Bases []Base
}

// RPCHostKey is the rate limiter bucket for this chain's RPC traffic.
func (c Config) RPCHostKey() string { return "rpc:" + c.Key }

var registry = map[string]Config{
	"eth": {
		Key:            "eth",
		ChainID:        1,
		Primary:        true,
		Factory:        common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"), // Uniswap V2
		Router:         common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		LegacyExplorer: "https://api.etherscan.io/api",
		LegacyHostKey:  "etherscan_v1",
		Bases: []Base{
			{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Kind: BaseWrapped},
			{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Kind: BaseStable},
			{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Kind: BaseStable},
			{Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Kind: BaseStable},
		},
	},
	"bsc": {
		Key:            "bsc",
		ChainID:        56,
		PoA:            true,
		DefaultRPC:     "https://bsc-dataseed.binance.org",
		Factory:        common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"), // Pancake V2
		Router:         common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
		LegacyExplorer: "https://api.bscscan.com/api",
		LegacyHostKey:  "bscscan_v1",
		Bases: []Base{
			{Symbol: "WBNB", Address: common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), Kind: BaseWrapped},
			{Symbol: "USDT", Address: common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"), Kind: BaseStable},
			{Symbol: "USDC", Address: common.HexToAddress("0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d"), Kind: BaseStable},
			{Symbol: "BUSD", Address: common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"), Kind: BaseStable},
		},
	},
}

// Lookup returns the config for a chain key such as "eth" or "bsc".
func Lookup(key string) (Config, bool) {
	c, ok := registry[key]
	if !ok {
		return Config{}, false
	}
	c.Bases = append([]Base(nil), c.Bases...)
	return c, true
}

// Keys lists the supported chain keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
