package age

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/chain/chaintest"
	"github.com/rnts08/eth-riskradar/internal/explorer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token = common.HexToAddress("0x1111111111111111111111111111111111111111")
	now   = time.Unix(1_700_000_000, 0)
	miss  = errors.New("miss")
)

type MockExplorer struct {
	MultichainCreationFunc func() (*explorer.Creation, error)
	LegacyCreationFunc     func() (*explorer.Creation, error)
	EarliestTransferFunc   func() (int64, error)
	legacyCalls            int
}

func (m *MockExplorer) MultichainCreation(context.Context, chain.Config, common.Address, explorer.Keys) (*explorer.Creation, error) {
	if m.MultichainCreationFunc != nil {
		return m.MultichainCreationFunc()
	}
	return nil, miss
}

func (m *MockExplorer) LegacyCreation(context.Context, chain.Config, common.Address, explorer.Keys) (*explorer.Creation, error) {
	m.legacyCalls++
	if m.LegacyCreationFunc != nil {
		return m.LegacyCreationFunc()
	}
	return nil, miss
}

func (m *MockExplorer) EarliestTransfer(context.Context, chain.Config, common.Address, explorer.Keys) (int64, error) {
	if m.EarliestTransferFunc != nil {
		return m.EarliestTransferFunc()
	}
	return 0, miss
}

func newResolver(ex Explorer) *Resolver {
	l := logrus.New()
	l.SetOutput(io.Discard)
	r := NewResolver(ex, l)
	r.now = func() time.Time { return now }
	return r
}

func ethCfg() chain.Config {
	cfg, _ := chain.Lookup("eth")
	return cfg
}

func TestResolve_MultichainTimestamp(t *testing.T) {
	ts := now.Add(-48 * time.Hour).Unix()
	ex := &MockExplorer{MultichainCreationFunc: func() (*explorer.Creation, error) {
		return &explorer.Creation{TxHash: "0xabc", Timestamp: &ts}, nil
	}}

	res := newResolver(ex).Resolve(context.Background(), ethCfg(), chaintest.NewMockEthClient(), token, explorer.Keys{})
	require.NotNil(t, res.AgeDays)
	assert.InDelta(t, 2.0, *res.AgeDays, 1e-9)
	assert.Equal(t, "0xabc", res.CreatedTx)
	assert.Equal(t, SourceMultichain, res.Source)
	assert.Equal(t, 0, ex.legacyCalls)
}

func TestResolve_MultichainHashUsesBlockTime(t *testing.T) {
	ex := &MockExplorer{MultichainCreationFunc: func() (*explorer.Creation, error) {
		return &explorer.Creation{TxHash: "0x01"}, nil
	}}
	client := &chaintest.MockEthClient{
		TransactionReceiptFunc: func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
			return &types.Receipt{BlockNumber: big.NewInt(123)}, nil
		},
		BlockTimestampFunc: func(ctx context.Context, n *big.Int) (uint64, error) {
			assert.Equal(t, int64(123), n.Int64())
			return uint64(now.Add(-400 * 24 * time.Hour).Unix()), nil
		},
	}

	res := newResolver(ex).Resolve(context.Background(), ethCfg(), client, token, explorer.Keys{})
	require.NotNil(t, res.AgeDays)
	assert.InDelta(t, 400.0, *res.AgeDays, 1e-9)
}

func TestResolve_FallsBackToLegacyThenTransfer(t *testing.T) {
	ex := &MockExplorer{
		MultichainCreationFunc: func() (*explorer.Creation, error) {
			return &explorer.Creation{TxHash: "0x01"}, nil // receipt lookup will fail
		},
		LegacyCreationFunc: func() (*explorer.Creation, error) { return nil, miss },
		EarliestTransferFunc: func() (int64, error) {
			return now.Add(-12 * time.Hour).Unix(), nil
		},
	}

	res := newResolver(ex).Resolve(context.Background(), ethCfg(), chaintest.NewMockEthClient(), token, explorer.Keys{})
	require.NotNil(t, res.AgeDays)
	assert.InDelta(t, 0.5, *res.AgeDays, 1e-9)
	assert.Equal(t, SourceFirstTransfer, res.Source)
	assert.Empty(t, res.CreatedTx)
	assert.Equal(t, 1, ex.legacyCalls)
}

func TestResolve_PanickingStepIsAMiss(t *testing.T) {
	ex := &MockExplorer{
		MultichainCreationFunc: func() (*explorer.Creation, error) { panic("boom") },
		LegacyCreationFunc: func() (*explorer.Creation, error) {
			return &explorer.Creation{TxHash: "0x02"}, nil
		},
	}
	client := &chaintest.MockEthClient{
		TransactionReceiptFunc: func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
			return &types.Receipt{BlockNumber: big.NewInt(5)}, nil
		},
		BlockTimestampFunc: func(ctx context.Context, n *big.Int) (uint64, error) {
			return uint64(now.Add(-24 * time.Hour).Unix()), nil
		},
	}

	res := newResolver(ex).Resolve(context.Background(), ethCfg(), client, token, explorer.Keys{})
	require.NotNil(t, res.AgeDays)
	assert.InDelta(t, 1.0, *res.AgeDays, 1e-9)
	assert.Equal(t, SourceLegacy, res.Source)
	assert.Equal(t, "0x02", res.CreatedTx)
}

func TestResolve_AllMiss(t *testing.T) {
	res := newResolver(&MockExplorer{}).Resolve(context.Background(), ethCfg(), chaintest.NewMockEthClient(), token, explorer.Keys{})
	assert.Nil(t, res.AgeDays)
	assert.Equal(t, ErrCreatedTxUnknown, res.Error)
}
