package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var token = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

const sampleABI = `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"v","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},{"type":"event","name":"Transfer","inputs":[]}]`

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeEnvelope(w http.ResponseWriter, status string, result any) {
	raw, _ := json.Marshal(result)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": map[string]string{"1": "OK", "0": "NOTOK"}[status],
		"result":  json.RawMessage(raw),
	})
}

type fakeExplorer struct {
	srv         *httptest.Server
	v2Hits      int32
	legacyHits  int32
	v2ABI       bool
	legacyABI   bool
	v2Creation  any
	v1Creation  any
	tokenTxs    any
	legacyKeys  []string
	lastChainID string
}

func newFakeExplorer(t *testing.T) *fakeExplorer {
	f := &fakeExplorer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/v2/api":
			atomic.AddInt32(&f.v2Hits, 1)
			f.lastChainID = q.Get("chainid")
			switch q.Get("action") {
			case "getabi":
				if f.v2ABI {
					writeEnvelope(w, "1", sampleABI)
					return
				}
				writeEnvelope(w, "0", "Contract source code not verified")
			case "getcontractcreation":
				if f.v2Creation != nil {
					writeEnvelope(w, "1", f.v2Creation)
					return
				}
				writeEnvelope(w, "0", "No data found")
			}
		case "/api":
			atomic.AddInt32(&f.legacyHits, 1)
			f.legacyKeys = append(f.legacyKeys, q.Get("apikey"))
			switch q.Get("action") {
			case "getabi":
				if f.legacyABI {
					writeEnvelope(w, "1", sampleABI)
					return
				}
				writeEnvelope(w, "0", "Contract source code not verified")
			case "getcontractcreation":
				if f.v1Creation != nil {
					writeEnvelope(w, "1", f.v1Creation)
					return
				}
				writeEnvelope(w, "0", "No data found")
			case "tokentx":
				assert.Equal(t, "asc", q.Get("sort"))
				assert.Equal(t, "1", q.Get("offset"))
				if f.tokenTxs != nil {
					writeEnvelope(w, "1", f.tokenTxs)
					return
				}
				writeEnvelope(w, "0", "No transactions found")
			}
		default:
			http.NotFound(w, r)
		}
	}))
	return f
}

func (f *fakeExplorer) client() *Client {
	calls := hostcall.NewClient(hostcall.NewRegistry(1000), quietLogger(), hostcall.WithPolicy(hostcall.Policy{Attempts: 1}))
	return NewClient(calls, hostcall.NewCache(nil), quietLogger(), WithMultichainBase(f.srv.URL+"/v2/api"))
}

func (f *fakeExplorer) chain(key string) chain.Config {
	cfg, _ := chain.Lookup(key)
	cfg.LegacyExplorer = f.srv.URL + "/api"
	return cfg
}

func TestFetchABI_Multichain(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.v2ABI = true

	c := f.client()
	abi, err := c.FetchABI(context.Background(), f.chain("bsc"), token, Keys{Multichain: "k"})
	require.NoError(t, err)
	require.Len(t, abi, 2)
	assert.Equal(t, "transfer", abi[0].Name)
	assert.True(t, abi[0].IsFunction())
	assert.False(t, abi[1].IsFunction())
	assert.Equal(t, "56", f.lastChainID)
	assert.Equal(t, int32(0), f.legacyHits)

	// cached
	_, err = c.FetchABI(context.Background(), f.chain("bsc"), token, Keys{Multichain: "k"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.v2Hits)
}

func TestFetchABI_LegacyFallback(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.legacyABI = true

	abi, err := f.client().FetchABI(context.Background(), f.chain("bsc"), token, Keys{Multichain: "multi", Legacy: "bsckey"})
	require.NoError(t, err)
	assert.Len(t, abi, 2)
	assert.Equal(t, []string{"bsckey"}, f.legacyKeys)
}

func TestFetchABI_BothMiss(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()

	c := f.client()
	_, err := c.FetchABI(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	assert.ErrorIs(t, err, ErrNotFound)

	// failures are not cached
	f.v2ABI = true
	_, err = c.FetchABI(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	assert.NoError(t, err)
}

func TestFetchABI_NoLegacyHost(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	cfg := f.chain("eth")
	cfg.LegacyExplorer = ""

	_, err := f.client().FetchABI(context.Background(), cfg, token, Keys{Multichain: "k"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), f.legacyHits)
}

func TestMultichainCreation(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.v2Creation = []map[string]any{{"contractAddress": token.Hex(), "txHash": "0xabc", "timestamp": "1700000000"}}

	cr, err := f.client().MultichainCreation(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cr.TxHash)
	require.NotNil(t, cr.Timestamp)
	assert.Equal(t, int64(1_700_000_000), *cr.Timestamp)
}

func TestMultichainCreation_HashOnly(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.v2Creation = []map[string]any{{"txhash": "0xdef"}}

	cr, err := f.client().MultichainCreation(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", cr.TxHash)
	assert.Nil(t, cr.Timestamp)
}

func TestLegacyCreation_KeyRules(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.v1Creation = []map[string]any{{"txHash": "0x123"}}
	c := f.client()

	// secondary chain without a chain-specific key never reaches the host
	_, err := c.LegacyCreation(context.Background(), f.chain("bsc"), token, Keys{Multichain: "k"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), f.legacyHits)

	// primary chain reuses the multichain key
	cr, err := c.LegacyCreation(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	require.NoError(t, err)
	assert.Equal(t, "0x123", cr.TxHash)
	assert.Equal(t, []string{"k"}, f.legacyKeys)
}

func TestEarliestTransfer(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()
	f.tokenTxs = []map[string]any{{"timeStamp": "1690000000", "hash": "0x1"}}

	ts, err := f.client().EarliestTransfer(context.Background(), f.chain("bsc"), token, Keys{Legacy: "bsckey"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_690_000_000), ts)
}

func TestEarliestTransfer_Miss(t *testing.T) {
	f := newFakeExplorer(t)
	defer f.srv.Close()

	_, err := f.client().EarliestTransfer(context.Background(), f.chain("eth"), token, Keys{Multichain: "k"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestKeys(t *testing.T) {
	eth, _ := chain.Lookup("eth")
	bsc, _ := chain.Lookup("bsc")

	k := Keys{Multichain: "multi"}
	assert.Equal(t, "multi", k.LegacyKey(eth))
	assert.Equal(t, "", k.LegacyKey(bsc))
	assert.Equal(t, "multi", k.ABIKey(bsc))

	k.Legacy = "bsc"
	assert.Equal(t, "bsc", k.LegacyKey(bsc))
	assert.Equal(t, "bsc", k.ABIKey(bsc))
}

func TestFlexInt(t *testing.T) {
	var v struct {
		A FlexInt `json:"a"`
		B FlexInt `json:"b"`
		C FlexInt `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"42","b":7,"c":""}`), &v))
	assert.Equal(t, FlexInt(42), v.A)
	assert.Equal(t, FlexInt(7), v.B)
	assert.Equal(t, FlexInt(0), v.C)
	assert.Error(t, json.Unmarshal([]byte(`{"a":"x"}`), &v))
}

func TestScanSuspicious(t *testing.T) {
	abi := []model.ABIEntry{
		{Type: "function", Name: "SetMaxTxAmount"},
		{Type: "function", Name: "transferOwnership"},
		{Type: "function", Name: "addToBlacklist"},
		{Type: "function", Name: "SetMaxTxAmount"},
		{Type: "event", Name: "BotDetected"},
		{Type: "function", Name: "enableTrading"},
		{Type: "function", Name: "mintTo"},
	}
	assert.Equal(t, []string{"SetMaxTxAmount", "addToBlacklist", "enableTrading"}, ScanSuspicious(abi))
	assert.True(t, HasMint(abi))
	assert.False(t, HasMint(abi[:3]))
	assert.Equal(t, []string{}, ScanSuspicious(nil))
}
