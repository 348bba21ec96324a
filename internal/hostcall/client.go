// Package hostcall funnels every outbound call through a per-host rate limiter
// and a bounded retry loop.
package hostcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/sirupsen/logrus"
)

const defaultCallTimeout = 15 * time.Second

// Request names the host bucket and rate for a single outbound operation.
type Request struct {
	Host string
	// QPS overrides the registry default when > 0.
	QPS float64
	// Retryable classifies failures. Nil means IsTransient.
	Retryable func(error) bool
}

type Client struct {
	limiters    *Registry
	policy      Policy
	http        *http.Client
	callTimeout time.Duration
	logger      logrus.FieldLogger
	metrics     *metrics.RadarMetrics
}

type Option func(*Client)

func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

func WithMetrics(m *metrics.RadarMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(limiters *Registry, logger logrus.FieldLogger, opts ...Option) *Client {
	if limiters == nil {
		limiters = NewRegistry(DefaultQPS)
	}
	c := &Client{
		limiters:    limiters,
		policy:      DefaultPolicy,
		http:        &http.Client{},
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Limiters() *Registry { return c.limiters }

// Do runs fn under the host's rate limit, retrying transient failures with
// exponential backoff. Each attempt gets its own deadline of callTimeout.
func (c *Client) Do(ctx context.Context, req Request, fn func(context.Context) error) error {
	retryable := req.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	lim := c.limiters.Get(req.Host, req.QPS)
	attempt := 0
	operation := func() error {
		attempt++
		waitStart := time.Now()
		if err := lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if c.metrics != nil {
			c.metrics.RateLimitWait.WithLabelValues(req.Host).Observe(time.Since(waitStart).Seconds())
		}

		err := c.attempt(ctx, fn)
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if c.metrics != nil {
			c.metrics.HostRetries.WithLabelValues(req.Host).Inc()
		}
		c.logger.WithFields(logrus.Fields{
			"host":    req.Host,
			"attempt": attempt,
			"backoff": wait.String(),
		}).WithError(err).Debug("Transient host failure, retrying")
	}

	err := backoff.RetryNotify(operation, c.policy.backOff(ctx), notify)
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.HostCalls.WithLabelValues(req.Host, outcome).Inc()
	}
	return err
}

func (c *Client) attempt(ctx context.Context, fn func(context.Context) error) error {
	if c.callTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return fn(callCtx)
}

// Call performs a rate-limited, retried GET of endpoint with params and
// returns the raw JSON body of a 200 answer.
func (c *Client) Call(ctx context.Context, host, endpoint string, params url.Values, qps float64) (json.RawMessage, error) {
	target := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = endpoint + sep + params.Encode()
	}

	var body json.RawMessage
	err := c.Do(ctx, Request{Host: host, QPS: qps}, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("building request for %s: %w", host, err)
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Host: host, StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%s: response is not JSON", host)
		}
		body = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON is Call followed by decoding into out.
func (c *Client) GetJSON(ctx context.Context, host, endpoint string, params url.Values, qps float64, out any) error {
	raw, err := c.Call(ctx, host, endpoint, params, qps)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", host, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
