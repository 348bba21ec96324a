package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	maxRPCFailures   = 3
	rpcTripDuration  = 5 * time.Minute
	chainIDAttempts  = 3
	DefaultRPCQPS    = 25.0
	rpcLimitExceeded = -32005
)

var (
	ErrNoEndpoint      = errors.New("no usable RPC endpoint")
	ErrChainIDMismatch = errors.New("chain id mismatch")
)

// RPCState tracks failures of one endpoint for the circuit breaker.
type RPCState struct {
	URL          string
	FailureCount int
	TrippedUntil time.Time
	lock         sync.Mutex
}

// Connector dials a chain, rotating through its endpoints and skipping any
// whose circuit breaker is open.
type Connector struct {
	cfg        Config
	rpcStates  []*RPCState
	rpcIndex   int
	indexLock  sync.Mutex
	dial       Dialer
	calls      *hostcall.Client
	qps        float64
	retryDelay time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
	metrics    *metrics.RadarMetrics
}

// NewConnector builds a connector over urls. When urls is empty the chain's
// default RPC is used, if it has one. qps <= 0 selects DefaultRPCQPS.
func NewConnector(cfg Config, urls []string, dial Dialer, calls *hostcall.Client, qps float64, logger logrus.FieldLogger, m *metrics.RadarMetrics) *Connector {
	if dial == nil {
		dial = DialRPC
	}
	if qps <= 0 {
		qps = DefaultRPCQPS
	}
	c := &Connector{
		cfg:        cfg,
		dial:       dial,
		calls:      calls,
		qps:        qps,
		retryDelay: time.Second,
		now:        time.Now,
		logger:     logger.WithField("chain", cfg.Key),
		metrics:    m,
	}
	for _, u := range usableURLs(urls, cfg.DefaultRPC) {
		c.rpcStates = append(c.rpcStates, &RPCState{URL: u})
	}
	return c
}

func usableURLs(urls []string, fallback string) []string {
	var out []string
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "\r")
		if u == "" || u == "https://" || u == "http://" {
			continue
		}
		out = append(out, u)
	}
	if len(out) == 0 && fallback != "" {
		out = append(out, fallback)
	}
	return out
}

func BuildRPCURL(base, key string) string {
	if key == "" {
		return base
	}
	if strings.HasPrefix(key, "?") || strings.HasSuffix(base, "/") {
		return base + key
	}
	return base + "/" + key
}

func (c *Connector) Endpoints() []string {
	out := make([]string, len(c.rpcStates))
	for i, s := range c.rpcStates {
		out[i] = s.URL
	}
	return out
}

// Connect tries every endpoint once, starting after the last one used.
func (c *Connector) Connect(ctx context.Context) (*Conn, error) {
	if len(c.rpcStates) == 0 {
		return nil, fmt.Errorf("%s: %w: no RPC URL configured", c.cfg.Key, ErrNoEndpoint)
	}

	var lastErr error
	for i := 0; i < len(c.rpcStates); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.indexLock.Lock()
		rpcState := c.rpcStates[c.rpcIndex%len(c.rpcStates)]
		c.rpcIndex++
		c.indexLock.Unlock()

		rpcState.lock.Lock()
		isTripped := c.now().Before(rpcState.TrippedUntil)
		rpcState.lock.Unlock()
		if isTripped {
			continue
		}

		conn, err := c.connectOne(ctx, rpcState.URL)
		if err == nil {
			rpcState.lock.Lock()
			rpcState.FailureCount = 0
			rpcState.lock.Unlock()
			if c.metrics != nil {
				for _, s := range c.rpcStates {
					c.metrics.ActiveRPC.WithLabelValues(c.cfg.Key, s.URL).Set(0)
				}
				c.metrics.ActiveRPC.WithLabelValues(c.cfg.Key, rpcState.URL).Set(1)
			}
			// Later connects start from the endpoint that worked.
			c.indexLock.Lock()
			c.rpcIndex--
			c.indexLock.Unlock()
			return conn, nil
		}

		lastErr = err
		c.logger.WithError(err).WithField("url", rpcState.URL).Warn("RPC connection failed, trying next")
		c.recordFailure(rpcState)
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%s: %w: all endpoints tripped", c.cfg.Key, ErrNoEndpoint)
	}
	return nil, fmt.Errorf("%s: %w: %v", c.cfg.Key, ErrNoEndpoint, lastErr)
}

func (c *Connector) recordFailure(rpcState *RPCState) {
	rpcState.lock.Lock()
	defer rpcState.lock.Unlock()
	rpcState.FailureCount++
	if rpcState.FailureCount >= maxRPCFailures {
		rpcState.TrippedUntil = c.now().Add(rpcTripDuration)
		c.logger.WithField("url", rpcState.URL).Warnf("Circuit breaker tripped for %v", rpcTripDuration)
		if c.metrics != nil {
			c.metrics.RPCCircuitBreakerTrips.WithLabelValues(rpcState.URL).Inc()
		}
	}
}

// ReportFailure counts a transport failure seen on an established connection
// to url and moves the next Connect on to the following endpoint.
func (c *Connector) ReportFailure(url string) {
	for i, s := range c.rpcStates {
		if s.URL != url {
			continue
		}
		c.recordFailure(s)
		c.indexLock.Lock()
		if c.rpcIndex%len(c.rpcStates) == i {
			c.rpcIndex++
		}
		c.indexLock.Unlock()
		return
	}
}

func (c *Connector) connectOne(ctx context.Context, url string) (*Conn, error) {
	client, err := c.dial(ctx, url, c.cfg.PoA)
	if err != nil {
		return nil, err
	}

	var cid *big.Int
	for attempt := 0; attempt < chainIDAttempts; attempt++ {
		cid, err = client.ChainID(ctx)
		if err == nil {
			break
		}
		if c.metrics != nil {
			c.metrics.ChainIDFetchFailures.WithLabelValues(url).Inc()
		}
		if attempt < chainIDAttempts-1 {
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}
	if cid.Int64() != c.cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("%w: endpoint reports %s, want %d", ErrChainIDMismatch, cid, c.cfg.ChainID)
	}

	c.logger.WithFields(logrus.Fields{"url": url, "chain_id": cid.String()}).Info("Connected to RPC")
	return &Conn{
		inner:   client,
		calls:   c.calls,
		req:     hostcall.Request{Host: c.cfg.RPCHostKey(), QPS: c.qps, Retryable: IsTransientRPC},
		url:     url,
		chainID: cid,
		metrics: c.metrics,
	}, nil
}

// isTransportFailure reports errors that point at the endpoint rather than
// the contract being called.
func isTransportFailure(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	return IsTransientRPC(err)
}

// IsTransientRPC classifies JSON-RPC failures for retry.
func IsTransientRPC(err error) bool {
	if err == nil || errors.Is(err, ethereum.NotFound) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return hostcall.RetryableStatus(httpErr.StatusCode)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == rpcLimitExceeded
	}
	return hostcall.IsTransient(err)
}

// Conn is a connected chain client. Every call passes through the RPC
// host's rate limiter and retry policy.
type Conn struct {
	inner   EthClient
	calls   *hostcall.Client
	req     hostcall.Request
	url     string
	chainID *big.Int
	metrics *metrics.RadarMetrics
	broken  atomic.Bool
}

func (c *Conn) URL() string { return c.url }

// Broken reports whether a call failed at the transport level after its
// retries ran out. A broken Conn should be replaced.
func (c *Conn) Broken() bool { return c.broken.Load() }

func (c *Conn) do(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	err := c.calls.Do(ctx, c.req, fn)
	if c.metrics != nil {
		c.metrics.RPCLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil && isTransportFailure(err) {
		c.broken.Store(true)
	}
	return err
}

// ChainID returns the id verified at connect time.
func (c *Conn) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Conn) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (c *Conn) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.StorageAt(ctx, account, key, blockNumber)
		return err
	})
	return out, err
}

func (c *Conn) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.CodeAt(ctx, account, blockNumber)
		return err
	})
	return out, err
}

func (c *Conn) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var out *types.Receipt
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}

func (c *Conn) BlockTimestamp(ctx context.Context, number *big.Int) (uint64, error) {
	var out uint64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.BlockTimestamp(ctx, number)
		return err
	})
	return out, err
}

func (c *Conn) Close() {
	c.inner.Close()
}
