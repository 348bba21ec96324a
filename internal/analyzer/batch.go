package analyzer

import (
	"context"
	"sync"

	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
)

// BatchItem is the outcome for one input address. Exactly one of Result and
// Err is set.
type BatchItem struct {
	Address string
	Result  *model.RiskResult
	Err     error
}

// ClampConcurrency bounds a requested worker count to [1, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// AnalyzeBatch analyzes every address with at most concurrency analyses in
// flight. qps > 0 first replaces the default outbound rate. The returned
// slice has one item per input, in input order. Items not started before ctx
// is done carry ctx.Err().
func (e *Engine) AnalyzeBatch(ctx context.Context, chainKey string, addresses []string, concurrency int, qps float64) []BatchItem {
	if qps > 0 {
		e.SetDefaultQPS(qps)
	}
	concurrency = ClampConcurrency(concurrency)
	e.logger.WithFields(logrus.Fields{
		"chain": chainKey, "count": len(addresses), "concurrency": concurrency,
	}).Info("Batch started")

	items := make([]BatchItem, len(addresses))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				items[i] = BatchItem{Address: addr, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				items[i] = BatchItem{Address: addr, Err: err}
				return
			}
			if e.metrics != nil {
				e.metrics.BatchInFlight.Inc()
				defer e.metrics.BatchInFlight.Dec()
			}

			item := BatchItem{Address: addr}
			if err := guard("analyze", func() error {
				res, err := e.Analyze(ctx, chainKey, addr)
				item.Result, item.Err = res, err
				return nil
			}); err != nil {
				item.Err = err
			}
			if item.Err != nil {
				e.logger.WithFields(logrus.Fields{"chain": chainKey, "token": addr}).WithError(item.Err).Warn("Batch item failed")
			}
			items[i] = item
		}(i, addr)
	}
	wg.Wait()

	e.logger.WithField("count", len(items)).Info("Batch completed")
	return items
}
