package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rnts08/eth-riskradar/internal/address"
	"github.com/rnts08/eth-riskradar/internal/analyzer"
	"github.com/rnts08/eth-riskradar/internal/logging"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAnalyzer records calls and answers through the optional funcs.
type MockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, chainKey, address string) (*model.RiskResult, error)

	mu          sync.Mutex
	concurrency int
	qps         float64
}

func (m *MockAnalyzer) Analyze(ctx context.Context, chainKey, addr string) (*model.RiskResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, chainKey, addr)
	}
	if !strings.HasPrefix(addr, "0x") {
		return nil, address.ErrInvalidAddress
	}
	return &model.RiskResult{Chain: chainKey, Address: addr, Score: 40, Tier: model.TierMedium, Fees: map[string]float64{}}, nil
}

func (m *MockAnalyzer) AnalyzeBatch(ctx context.Context, chainKey string, addresses []string, concurrency int, qps float64) []analyzer.BatchItem {
	m.mu.Lock()
	m.concurrency, m.qps = concurrency, qps
	m.mu.Unlock()
	items := make([]analyzer.BatchItem, len(addresses))
	for i, a := range addresses {
		res, err := m.Analyze(ctx, chainKey, a)
		items[i] = analyzer.BatchItem{Address: a, Result: res, Err: err}
	}
	return items
}

func setupRouter(t *testing.T, a Analyzer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.RegisterMetrics(reg, metrics.NewRadarMetrics())
	return newRouter(a, reg, logging.Discard())
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, setupRouter(t, &MockAnalyzer{}), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRisk(t *testing.T) {
	var gotChain string
	r := setupRouter(t, &MockAnalyzer{AnalyzeFunc: func(ctx context.Context, chainKey, addr string) (*model.RiskResult, error) {
		gotChain = chainKey
		return &model.RiskResult{Chain: chainKey, Address: addr, Score: 75, Tier: model.TierHigh}, nil
	}})

	rec := do(t, r, http.MethodGet, "/api/risk/0xabc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eth", gotChain)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "HIGH", body["risk_tier"])
	assert.EqualValues(t, 75, body["score"])

	rec = do(t, r, http.MethodGet, "/api/risk/0xabc?chain=bsc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bsc", gotChain)

	rec = do(t, r, http.MethodGet, "/api/risk/0xabc?chain=", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eth", gotChain)
}

func TestRisk_BadRequests(t *testing.T) {
	r := setupRouter(t, &MockAnalyzer{AnalyzeFunc: func(ctx context.Context, chainKey, addr string) (*model.RiskResult, error) {
		return nil, errors.New("chain unavailable: eth: no RPC URL configured")
	}})

	rec := do(t, r, http.MethodGet, "/api/risk/0xabc?chain=sol", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "oneof")

	rec = do(t, r, http.MethodGet, "/api/risk/0xabc?chain=ETH", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "oneof")

	rec = do(t, r, http.MethodGet, "/api/risk/0xabc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no RPC URL configured")
}

func TestBatch(t *testing.T) {
	mock := &MockAnalyzer{}
	r := setupRouter(t, mock)

	rec := do(t, r, http.MethodPost, "/api/batch",
		`{"chain":"bsc","addresses":["0x01","nope","0x03"],"concurrency":50,"etherscan_qps":2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		BatchID string           `json:"batch_id"`
		Count   int              `json:"count"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, err := uuid.Parse(body.BatchID)
	assert.NoError(t, err)
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Results, 3)
	assert.Equal(t, "0x01", body.Results[0]["address"])
	assert.Equal(t, "MEDIUM", body.Results[0]["risk_tier"])
	assert.Equal(t, "nope", body.Results[1]["address"])
	assert.Equal(t, "bsc", body.Results[1]["chain"])
	assert.Contains(t, body.Results[1]["error"], "invalid address")

	assert.Equal(t, analyzer.MaxConcurrency, mock.concurrency)
	assert.Equal(t, 2.5, mock.qps)
}

func TestBatch_Defaults(t *testing.T) {
	mock := &MockAnalyzer{}
	rec := do(t, setupRouter(t, mock), http.MethodPost, "/api/batch", `{"addresses":["0x01"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, mock.concurrency)
	assert.Equal(t, 4.0, mock.qps)
}

func TestBatch_Validation(t *testing.T) {
	r := setupRouter(t, &MockAnalyzer{})
	cases := map[string]struct {
		body, detail string
	}{
		"bad chain":         {`{"chain":"sol","addresses":["0x01"]}`, "oneof"},
		"empty addresses":   {`{"chain":"eth","addresses":[]}`, "min"},
		"missing addresses": {`{"chain":"bsc"}`, "required"},
		"bad json":          {`{"chain":`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/api/batch", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.detail)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, setupRouter(t, &MockAnalyzer{}), http.MethodOptions, "/api/batch", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, setupRouter(t, &MockAnalyzer{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riskradar_")
}
