// Package chaintest provides an in-memory chain.EthClient for tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrReverted is returned for calls to selectors nobody stubbed.
var ErrReverted = errors.New("execution reverted")

// MockEthClient implements chain.EthClient for testing. Unset funcs fall
// back to the registered contract stubs, then to benign defaults.
type MockEthClient struct {
	ChainIDFunc            func(ctx context.Context) (*big.Int, error)
	CallContractFunc       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAtFunc          func(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAtFunc             func(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	TransactionReceiptFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTimestampFunc     func(ctx context.Context, number *big.Int) (uint64, error)
	CloseFunc              func()

	mu       sync.Mutex
	methods  map[common.Address]map[string]func(args []byte) ([]byte, error)
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
	calls    int
	selector map[string]int
}

func NewMockEthClient() *MockEthClient {
	m := &MockEthClient{}
	m.lazyInit()
	return m
}

// lazyInit allocates the stub tables. Caller holds m.mu or owns m exclusively.
func (m *MockEthClient) lazyInit() {
	if m.methods == nil {
		m.methods = make(map[common.Address]map[string]func([]byte) ([]byte, error))
		m.code = make(map[common.Address][]byte)
		m.storage = make(map[common.Address]map[common.Hash]common.Hash)
		m.selector = make(map[string]int)
	}
}

// Selector returns the 4-byte selector of a signature such as "owner()".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Handle stubs signature on contract with fn, which receives the call arguments.
func (m *MockEthClient) Handle(contract common.Address, signature string, fn func(args []byte) ([]byte, error)) *MockEthClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyInit()
	if m.methods[contract] == nil {
		m.methods[contract] = make(map[string]func([]byte) ([]byte, error))
	}
	m.methods[contract][hex.EncodeToString(Selector(signature))] = fn
	return m
}

// Return stubs signature on contract with a fixed result.
func (m *MockEthClient) Return(contract common.Address, signature string, out []byte) *MockEthClient {
	return m.Handle(contract, signature, func([]byte) ([]byte, error) { return out, nil })
}

// SetCode marks account as a contract.
func (m *MockEthClient) SetCode(account common.Address, code []byte) *MockEthClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyInit()
	m.code[account] = code
	return m
}

func (m *MockEthClient) SetStorage(account common.Address, slot, value common.Hash) *MockEthClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyInit()
	if m.storage[account] == nil {
		m.storage[account] = make(map[common.Hash]common.Hash)
	}
	m.storage[account][slot] = value
	return m
}

// Calls reports how many CallContract requests were served.
func (m *MockEthClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CallsTo reports how many calls hit signature on any contract.
func (m *MockEthClient) CallsTo(signature string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector[hex.EncodeToString(Selector(signature))]
}

func (m *MockEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	if m.ChainIDFunc != nil {
		return m.ChainIDFunc(ctx)
	}
	return big.NewInt(1), nil
}

func (m *MockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	m.lazyInit()
	m.calls++
	var sel string
	if len(msg.Data) >= 4 {
		sel = hex.EncodeToString(msg.Data[:4])
		m.selector[sel]++
	}
	m.mu.Unlock()

	if m.CallContractFunc != nil {
		return m.CallContractFunc(ctx, msg, blockNumber)
	}
	if msg.To == nil || sel == "" {
		return nil, ErrReverted
	}
	m.mu.Lock()
	fn := m.methods[*msg.To][sel]
	m.mu.Unlock()
	if fn == nil {
		return nil, ErrReverted
	}
	return fn(msg.Data[4:])
}

func (m *MockEthClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	if m.StorageAtFunc != nil {
		return m.StorageAtFunc(ctx, account, key, blockNumber)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.storage[account][key]
	return v.Bytes(), nil
}

func (m *MockEthClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if m.CodeAtFunc != nil {
		return m.CodeAtFunc(ctx, account, blockNumber)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code[account], nil
}

func (m *MockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if m.TransactionReceiptFunc != nil {
		return m.TransactionReceiptFunc(ctx, txHash)
	}
	return nil, ethereum.NotFound
}

func (m *MockEthClient) BlockTimestamp(ctx context.Context, number *big.Int) (uint64, error) {
	if m.BlockTimestampFunc != nil {
		return m.BlockTimestampFunc(ctx, number)
	}
	return 0, ethereum.NotFound
}

func (m *MockEthClient) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// Word left-pads b to a 32-byte ABI word.
func Word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

func Uint(v *big.Int) []byte {
	return Word(v.Bytes())
}

func Address(a common.Address) []byte {
	return Word(a.Bytes())
}
