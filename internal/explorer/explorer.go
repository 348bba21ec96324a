// Package explorer talks to Etherscan-family block explorers: the
// multichain endpoint selected by chainid and the legacy per-chain hosts.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/hostcall"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	MultichainHostKey = "etherscan_v2"
	abiTTL            = 600 * time.Second
)

// ErrNotFound reports an envelope whose status is not "1".
var ErrNotFound = errors.New("explorer: no result")

// Keys are the explorer credentials available for a chain.
type Keys struct {
	// Multichain is accepted by the multichain endpoint and, on the primary
	// chain, by its legacy host as well.
	Multichain string
	// Legacy is the chain-specific key for a secondary chain's legacy host.
	Legacy string
}

// LegacyKey returns the key usable against cfg's legacy host, or "" if none.
func (k Keys) LegacyKey(cfg chain.Config) string {
	if k.Legacy != "" {
		return k.Legacy
	}
	if cfg.Primary {
		return k.Multichain
	}
	return ""
}

// ABIKey is the key sent on ABI lookups, which tolerate a missing chain-specific key.
func (k Keys) ABIKey(cfg chain.Config) string {
	if key := k.LegacyKey(cfg); key != "" {
		return key
	}
	return k.Multichain
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (e envelope) failure() error {
	var detail string
	if err := json.Unmarshal(e.Result, &detail); err != nil || detail == "" {
		detail = e.Message
	}
	return fmt.Errorf("%w: %s", ErrNotFound, detail)
}

// FlexInt decodes integers explorers send either as numbers or as strings.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = FlexInt(v)
	return nil
}

// Creation is the deployment record of a contract.
type Creation struct {
	TxHash string
	// Timestamp is the deployment time in unix seconds, when the explorer reports it.
	Timestamp *int64
}

type creationItem struct {
	TxHash    string   `json:"txHash"`
	TxHashAlt string   `json:"txhash"`
	Timestamp *FlexInt `json:"timestamp"`
}

type tokenTx struct {
	TimeStamp    FlexInt  `json:"timeStamp"`
	TimestampAlt *FlexInt `json:"timestamp"`
}

type Client struct {
	calls          *hostcall.Client
	cache          *hostcall.Cache
	multichainBase string
	logger         logrus.FieldLogger
}

type Option func(*Client)

// WithMultichainBase points the client at another multichain endpoint.
func WithMultichainBase(base string) Option {
	return func(c *Client) { c.multichainBase = base }
}

func NewClient(calls *hostcall.Client, cache *hostcall.Cache, logger logrus.FieldLogger, opts ...Option) *Client {
	c := &Client{
		calls:          calls,
		cache:          cache,
		multichainBase: chain.MultichainExplorerBase,
		logger:         logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, host, endpoint string, params url.Values) (envelope, error) {
	var env envelope
	if err := c.calls.GetJSON(ctx, host, endpoint, params, 0, &env); err != nil {
		return envelope{}, err
	}
	if env.Status != "1" {
		return envelope{}, env.failure()
	}
	return env, nil
}

func (c *Client) multichain(ctx context.Context, chainID int64, params url.Values) (envelope, error) {
	params.Set("chainid", strconv.FormatInt(chainID, 10))
	return c.get(ctx, MultichainHostKey, c.multichainBase, params)
}

// FetchABI returns the verified interface of addr, trying the multichain
// endpoint first and cfg's legacy host second. Results are cached.
func (c *Client) FetchABI(ctx context.Context, cfg chain.Config, addr common.Address, keys Keys) ([]model.ABIEntry, error) {
	key := hostcall.Key("explorer.FetchABI", []any{cfg.ChainID, addr.Hex()}, map[string]any{
		"legacy":   cfg.LegacyExplorer,
		"multikey": keys.Multichain,
		"abikey":   keys.ABIKey(cfg),
	})
	return hostcall.Memoize(c.cache, key, abiTTL, func() ([]model.ABIEntry, error) {
		return c.fetchABI(ctx, cfg, addr, keys)
	})
}

func (c *Client) fetchABI(ctx context.Context, cfg chain.Config, addr common.Address, keys Keys) ([]model.ABIEntry, error) {
	params := url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {addr.Hex()},
		"apikey":  {keys.Multichain},
	}
	env, err := c.multichain(ctx, cfg.ChainID, params)
	if err == nil {
		return decodeABI(env.Result)
	}
	c.logger.WithError(err).WithField("token", addr.Hex()).Debug("Multichain ABI lookup missed")

	if cfg.LegacyExplorer == "" {
		return nil, fmt.Errorf("ABI fetch failed via multichain endpoint: %w", err)
	}
	legacy := url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {addr.Hex()},
		"apikey":  {keys.ABIKey(cfg)},
	}
	env, err = c.get(ctx, cfg.LegacyHostKey, cfg.LegacyExplorer, legacy)
	if err != nil {
		return nil, fmt.Errorf("ABI fetch failed: %w", err)
	}
	return decodeABI(env.Result)
}

func decodeABI(result json.RawMessage) ([]model.ABIEntry, error) {
	var text string
	if err := json.Unmarshal(result, &text); err != nil {
		return nil, fmt.Errorf("ABI result is not a string: %w", err)
	}
	var entries []model.ABIEntry
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		return nil, fmt.Errorf("decoding ABI: %w", err)
	}
	return entries, nil
}

func decodeCreation(result json.RawMessage) (*Creation, error) {
	var items []creationItem
	if err := json.Unmarshal(result, &items); err != nil || len(items) == 0 {
		return nil, fmt.Errorf("%w: empty creation result", ErrNotFound)
	}
	it := items[0]
	cr := &Creation{TxHash: it.TxHash}
	if cr.TxHash == "" {
		cr.TxHash = it.TxHashAlt
	}
	if it.Timestamp != nil && *it.Timestamp > 0 {
		ts := int64(*it.Timestamp)
		cr.Timestamp = &ts
	}
	if cr.TxHash == "" && cr.Timestamp == nil {
		return nil, fmt.Errorf("%w: creation record without hash or timestamp", ErrNotFound)
	}
	return cr, nil
}

// MultichainCreation looks up the deployment of addr through the multichain endpoint.
func (c *Client) MultichainCreation(ctx context.Context, cfg chain.Config, addr common.Address, keys Keys) (*Creation, error) {
	params := url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {addr.Hex()},
		"apikey":            {keys.Multichain},
	}
	env, err := c.multichain(ctx, cfg.ChainID, params)
	if err != nil {
		return nil, err
	}
	return decodeCreation(env.Result)
}

// LegacyCreation looks up the deployment through cfg's legacy host.
// It requires a key usable there.
func (c *Client) LegacyCreation(ctx context.Context, cfg chain.Config, addr common.Address, keys Keys) (*Creation, error) {
	key := keys.LegacyKey(cfg)
	if key == "" || cfg.LegacyExplorer == "" {
		return nil, fmt.Errorf("%w: no legacy explorer key for %s", ErrNotFound, cfg.Key)
	}
	params := url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {addr.Hex()},
		"apikey":            {key},
	}
	env, err := c.get(ctx, cfg.LegacyHostKey, cfg.LegacyExplorer, params)
	if err != nil {
		return nil, err
	}
	return decodeCreation(env.Result)
}

// EarliestTransfer returns the unix timestamp of the first token transfer of addr.
func (c *Client) EarliestTransfer(ctx context.Context, cfg chain.Config, addr common.Address, keys Keys) (int64, error) {
	key := keys.LegacyKey(cfg)
	if key == "" || cfg.LegacyExplorer == "" {
		return 0, fmt.Errorf("%w: no legacy explorer key for %s", ErrNotFound, cfg.Key)
	}
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokentx"},
		"contractaddress": {addr.Hex()},
		"page":            {"1"},
		"offset":          {"1"},
		"sort":            {"asc"},
		"apikey":          {key},
	}
	env, err := c.get(ctx, cfg.LegacyHostKey, cfg.LegacyExplorer, params)
	if err != nil {
		return 0, err
	}
	var txs []tokenTx
	if err := json.Unmarshal(env.Result, &txs); err != nil || len(txs) == 0 {
		return 0, fmt.Errorf("%w: no token transfers", ErrNotFound)
	}
	ts := int64(txs[0].TimeStamp)
	if ts == 0 && txs[0].TimestampAlt != nil {
		ts = int64(*txs[0].TimestampAlt)
	}
	if ts <= 0 {
		return 0, fmt.Errorf("%w: transfer without timestamp", ErrNotFound)
	}
	return ts, nil
}
