package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient is the read-only chain surface the analysis engine needs.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTimestamp(ctx context.Context, number *big.Int) (uint64, error)
	Close()
}

// Dialer opens a raw client for one RPC URL.
type Dialer func(ctx context.Context, url string, poa bool) (EthClient, error)

type rpcClient struct {
	*ethclient.Client
	raw *rpc.Client
	poa bool
}

// DialRPC connects to url over go-ethereum's rpc package.
func DialRPC(ctx context.Context, url string, poa bool) (EthClient, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &rpcClient{Client: ethclient.NewClient(raw), raw: raw, poa: poa}, nil
}

// poaHeader decodes only the fields needed from a block. PoA blocks carry
// validator data in extraData that the full header type rejects on some chains.
type poaHeader struct {
	Number    *hexutil.Big   `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

func (c *rpcClient) BlockTimestamp(ctx context.Context, number *big.Int) (uint64, error) {
	if !c.poa {
		head, err := c.Client.HeaderByNumber(ctx, number)
		if err != nil {
			return 0, err
		}
		return head.Time, nil
	}
	var head *poaHeader
	if err := c.raw.CallContext(ctx, &head, "eth_getBlockByNumber", blockArg(number), false); err != nil {
		return 0, err
	}
	if head == nil {
		return 0, ethereum.NotFound
	}
	return uint64(head.Timestamp), nil
}

func (c *rpcClient) Close() {
	c.Client.Close()
}

func blockArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}
