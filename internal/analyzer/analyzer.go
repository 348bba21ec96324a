// Package analyzer runs the full risk analysis of a token: ownership, ABI
// intelligence, fees, liquidity, age, the optional honeypot probe, bytecode
// evidence and the final score.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/address"
	"github.com/rnts08/eth-riskradar/internal/age"
	"github.com/rnts08/eth-riskradar/internal/bytecode"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/config"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/explorer"
	"github.com/rnts08/eth-riskradar/internal/fees"
	"github.com/rnts08/eth-riskradar/internal/honeypot"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/rnts08/eth-riskradar/internal/liquidity"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/rnts08/eth-riskradar/internal/ownership"
	"github.com/rnts08/eth-riskradar/internal/score"
	"github.com/sirupsen/logrus"
)

const MaxConcurrency = 8

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrChainUnavailable = errors.New("chain unavailable")
)

const (
	skipDisabled  = "disabled"
	skipNeedsPool = "needs base pair + abi"
)

type ChainOptions struct {
	RPC    []string
	RPCQPS float64
	Keys   explorer.Keys
}

type Options struct {
	Chains         map[string]ChainOptions
	HoneypotProbe  bool
	ExplorerQPS    float64
	MultichainBase string
	Dialer         chain.Dialer
	HTTPClient     *http.Client
	Metrics        *metrics.RadarMetrics
	CodeFilter     bytecode.Filter

	// RetryPolicy overrides hostcall.DefaultPolicy when Attempts > 0.
	RetryPolicy hostcall.Policy
}

// OptionsFromConfig maps loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Chains:         map[string]ChainOptions{},
		HoneypotProbe:  cfg.ProbeEnabled(),
		ExplorerQPS:    cfg.Explorer.QPS,
		MultichainBase: cfg.Explorer.MultichainBase,
		CodeFilter:     bytecode.NewFilter(cfg.Code.Enabled, cfg.Code.Disabled),
	}
	for _, key := range chain.Keys() {
		cs, ok := cfg.Chain(key)
		if !ok {
			continue
		}
		opts.Chains[key] = ChainOptions{RPC: cs.RPC, RPCQPS: cs.RPCQPS, Keys: cfg.ExplorerKeys(key)}
	}
	return opts
}

// Engine is safe for concurrent use. The rate limiters, the response cache
// and chain connections are shared by every analysis it runs.
type Engine struct {
	opts     Options
	limiters *hostcall.Registry
	calls    *hostcall.Client
	cache    *hostcall.Cache
	explorer *explorer.Client
	finder   *liquidity.Finder
	ages     *age.Resolver
	prober   *honeypot.Prober
	logger   logrus.FieldLogger
	metrics  *metrics.RadarMetrics

	mu         sync.Mutex
	connectors map[string]*chain.Connector
	conns      map[string]*chain.Conn
}

func New(opts Options, logger logrus.FieldLogger) *Engine {
	m := opts.Metrics
	limiters := hostcall.NewRegistry(opts.ExplorerQPS)
	callOpts := []hostcall.Option{hostcall.WithMetrics(m)}
	if opts.HTTPClient != nil {
		callOpts = append(callOpts, hostcall.WithHTTPClient(opts.HTTPClient))
	}
	if opts.RetryPolicy.Attempts > 0 {
		callOpts = append(callOpts, hostcall.WithPolicy(opts.RetryPolicy))
	}
	calls := hostcall.NewClient(limiters, logger, callOpts...)
	cache := hostcall.NewCache(m)

	var exOpts []explorer.Option
	if opts.MultichainBase != "" {
		exOpts = append(exOpts, explorer.WithMultichainBase(opts.MultichainBase))
	}
	ex := explorer.NewClient(calls, cache, logger, exOpts...)

	return &Engine{
		opts:       opts,
		limiters:   limiters,
		calls:      calls,
		cache:      cache,
		explorer:   ex,
		finder:     liquidity.NewFinder(cache, logger),
		ages:       age.NewResolver(ex, logger),
		prober:     honeypot.NewProber(logger),
		logger:     logger,
		metrics:    m,
		connectors: map[string]*chain.Connector{},
		conns:      map[string]*chain.Conn{},
	}
}

// SetDefaultQPS changes the outbound rate for hosts without an explicit rate.
// Existing limiters are retuned in place.
func (e *Engine) SetDefaultQPS(qps float64) {
	e.limiters.SetDefaultQPS(qps)
	e.logger.WithField("qps", e.limiters.DefaultQPS()).Info("Default rate limit set")
}

func (e *Engine) DefaultQPS() float64 { return e.limiters.DefaultQPS() }

// Close releases every open chain connection.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, c := range e.conns {
		c.Close()
		delete(e.conns, key)
	}
}

func (e *Engine) conn(ctx context.Context, cfg chain.Config) (*chain.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	connector, ok := e.connectors[cfg.Key]
	if !ok {
		co := e.opts.Chains[cfg.Key]
		connector = chain.NewConnector(cfg, co.RPC, e.opts.Dialer, e.calls, co.RPCQPS, e.logger, e.metrics)
		e.connectors[cfg.Key] = connector
	}
	if c, ok := e.conns[cfg.Key]; ok {
		if !c.Broken() {
			return c, nil
		}
		e.logger.WithFields(logrus.Fields{"chain": cfg.Key, "url": c.URL()}).Warn("RPC connection failing, reconnecting")
		connector.ReportFailure(c.URL())
		c.Close()
		delete(e.conns, cfg.Key)
	}
	c, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	e.conns[cfg.Key] = c
	return c, nil
}

// guard runs one analysis step, turning a panic into an error.
func guard(step string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: unexpected failure: %v", step, p)
		}
	}()
	return fn()
}

func (e *Engine) observe(chainKey, outcome string, start time.Time, res *model.RiskResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.AnalysesTotal.WithLabelValues(chainKey, outcome).Inc()
	e.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if res != nil {
		e.metrics.RiskScore.Observe(float64(res.Score))
	}
}

// Analyze produces a risk result for one token. Only an invalid address, an
// unknown chain or an unreachable chain fail the call; every other problem is
// recorded on the result.
func (e *Engine) Analyze(ctx context.Context, chainKey, raw string) (*model.RiskResult, error) {
	start := time.Now()

	token, err := address.Normalize(raw)
	if err != nil {
		e.observe(chainKey, "invalid_address", start, nil)
		return nil, err
	}
	cfg, ok := chain.Lookup(chainKey)
	if !ok {
		e.observe(chainKey, "unsupported_chain", start, nil)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, chainKey)
	}
	conn, err := e.conn(ctx, cfg)
	if err != nil {
		e.observe(chainKey, "chain_unavailable", start, nil)
		return nil, fmt.Errorf("%w: %s: %v", ErrChainUnavailable, cfg.Key, err)
	}

	log := e.logger.WithFields(logrus.Fields{"chain": cfg.Key, "token": token.Hex()})
	log.WithField("rpc", conn.URL()).Debug("Analysis started")

	keys := e.opts.Chains[cfg.Key].Keys
	caller := evm.NewCaller(conn)
	res := &model.RiskResult{
		Chain:               cfg.Key,
		Address:             token.Hex(),
		SuspiciousFunctions: []string{},
		Fees:                map[string]float64{},
		Reasons:             []model.ScoreReason{},
	}

	if sym, err := caller.Symbol(ctx, token); err == nil {
		res.Symbol = sym
	}

	if err := guard("ownership", func() error {
		f := ownership.NewResolver(caller, e.logger).Resolve(ctx, token)
		res.Ownership = &f
		return nil
	}); err != nil {
		res.OwnershipError = err.Error()
		log.WithError(err).Warn("Ownership check failed")
	}

	var abi []model.ABIEntry
	if err := guard("abi", func() error {
		entries, err := e.explorer.FetchABI(ctx, cfg, token, keys)
		if err != nil {
			return err
		}
		abi = entries
		return nil
	}); err != nil {
		res.ABIError = err.Error()
		log.WithError(err).Info("ABI unavailable, skipping ABI checks")
	} else {
		res.ABIVerified = true
		res.SuspiciousFunctions = explorer.ScanSuspicious(abi)
		res.HasMint = explorer.HasMint(abi)
	}

	if res.ABIVerified {
		if err := guard("fees", func() error {
			res.Fees = fees.NewReader(caller, e.logger).ReadFees(ctx, token, abi)
			return nil
		}); err != nil {
			res.FeesError = err.Error()
			log.WithError(err).Warn("Fee read failed")
		}
	}

	var pool *model.LiquidityPool
	if err := guard("liquidity", func() error {
		p, err := e.finder.DeepestPool(ctx, caller, cfg, token)
		pool = p
		return err
	}); err != nil {
		res.LiquidityError = err.Error()
		log.WithError(err).Warn("Liquidity lookup failed")
	}
	res.Liquidity = pool

	if err := guard("age", func() error {
		res.Context = e.ages.Resolve(ctx, cfg, conn, token, keys)
		return nil
	}); err != nil {
		res.Context = model.ContractAge{Error: err.Error()}
	}

	res.Honeypot = e.probe(ctx, log, caller, cfg, token, pool, res.ABIVerified, abi)

	if err := guard("bytecode", func() error {
		code, err := conn.CodeAt(ctx, token, nil)
		if err != nil {
			return err
		}
		res.Code = bytecode.Evidence(code, e.opts.CodeFilter, e.metrics)
		return nil
	}); err != nil {
		log.WithError(err).Debug("Bytecode unavailable")
	}

	in := score.Inputs{
		Ownership:           res.Ownership,
		ABIVerified:         res.ABIVerified,
		SuspiciousFunctions: res.SuspiciousFunctions,
		HasMint:             res.HasMint,
		AgeDays:             res.Context.AgeDays,
	}
	if pool != nil {
		usd := pool.USDLiquidityEstimate
		in.USDLiquidity = &usd
		in.LPBurnPercent = pool.LPBurnPercent
	}
	res.Score, res.Tier, res.Reasons = score.Score(in)

	e.observe(cfg.Key, "ok", start, res)
	log.WithFields(logrus.Fields{"score": res.Score, "tier": res.Tier, "elapsed": time.Since(start)}).Info("Analysis complete")
	return res, nil
}

func (e *Engine) probe(ctx context.Context, log logrus.FieldLogger, caller *evm.Caller, cfg chain.Config, token common.Address, pool *model.LiquidityPool, abiOK bool, abi []model.ABIEntry) model.HoneypotFinding {
	if !e.opts.HoneypotProbe {
		return honeypot.Skipped(skipDisabled)
	}
	if pool == nil || !abiOK {
		return honeypot.Skipped(skipNeedsPool)
	}
	var out model.HoneypotFinding
	if err := guard("honeypot", func() error {
		out = e.prober.Probe(ctx, caller, cfg, token, common.HexToAddress(pool.BaseAddress), abi)
		return nil
	}); err != nil {
		log.WithError(err).Warn("Honeypot probe failed")
		return model.HoneypotFinding{Notes: []string{err.Error()}}
	}
	return out
}
