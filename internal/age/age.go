// Package age estimates how long ago a token contract was deployed.
package age

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/explorer"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	ErrCreatedTxUnknown = "created_tx_unknown"
	secondsPerDay       = 86400.0

	SourceMultichain    = "multichain_creation"
	SourceLegacy        = "legacy_creation"
	SourceFirstTransfer = "earliest_transfer"
)

// Explorer is the subset of explorer.Client the resolver needs.
type Explorer interface {
	MultichainCreation(ctx context.Context, cfg chain.Config, addr common.Address, keys explorer.Keys) (*explorer.Creation, error)
	LegacyCreation(ctx context.Context, cfg chain.Config, addr common.Address, keys explorer.Keys) (*explorer.Creation, error)
	EarliestTransfer(ctx context.Context, cfg chain.Config, addr common.Address, keys explorer.Keys) (int64, error)
}

type Resolver struct {
	explorer Explorer
	now      func() time.Time
	logger   logrus.FieldLogger
}

func NewResolver(ex Explorer, logger logrus.FieldLogger) *Resolver {
	return &Resolver{explorer: ex, now: time.Now, logger: logger}
}

// lookup is one step of the fallback chain. ok=false means a miss.
type lookup func(ctx context.Context) (model.ContractAge, bool)

// Resolve tries the multichain creation record, the legacy creation record,
// then the earliest token transfer.
func (r *Resolver) Resolve(ctx context.Context, cfg chain.Config, client chain.EthClient, token common.Address, keys explorer.Keys) model.ContractAge {
	log := r.logger.WithFields(logrus.Fields{"chain": cfg.Key, "token": token.Hex(), "step": "age"})

	steps := []struct {
		name string
		run  lookup
	}{
		{SourceMultichain, func(ctx context.Context) (model.ContractAge, bool) {
			cr, err := r.explorer.MultichainCreation(ctx, cfg, token, keys)
			if err != nil {
				log.WithError(err).Debug("Multichain creation lookup missed")
				return model.ContractAge{}, false
			}
			return r.fromCreation(ctx, client, cr, SourceMultichain)
		}},
		{SourceLegacy, func(ctx context.Context) (model.ContractAge, bool) {
			cr, err := r.explorer.LegacyCreation(ctx, cfg, token, keys)
			if err != nil {
				log.WithError(err).Debug("Legacy creation lookup missed")
				return model.ContractAge{}, false
			}
			// Legacy records carry no timestamp.
			cr.Timestamp = nil
			return r.fromCreation(ctx, client, cr, SourceLegacy)
		}},
		{SourceFirstTransfer, func(ctx context.Context) (model.ContractAge, bool) {
			ts, err := r.explorer.EarliestTransfer(ctx, cfg, token, keys)
			if err != nil {
				log.WithError(err).Debug("Earliest transfer lookup missed")
				return model.ContractAge{}, false
			}
			return model.ContractAge{AgeDays: r.daysSince(ts), Source: SourceFirstTransfer}, true
		}},
	}

	for _, s := range steps {
		if res, ok := safely(ctx, s.run); ok {
			log.WithFields(logrus.Fields{"source": s.name, "age_days": *res.AgeDays}).Debug("Contract age resolved")
			return res
		}
	}
	return model.ContractAge{Error: ErrCreatedTxUnknown}
}

// safely turns a panicking step into a miss.
func safely(ctx context.Context, run lookup) (res model.ContractAge, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			res, ok = model.ContractAge{}, false
		}
	}()
	return run(ctx)
}

func (r *Resolver) fromCreation(ctx context.Context, client chain.EthClient, cr *explorer.Creation, source string) (model.ContractAge, bool) {
	if cr.Timestamp != nil {
		return model.ContractAge{AgeDays: r.daysSince(*cr.Timestamp), CreatedTx: cr.TxHash, Source: source}, true
	}
	if cr.TxHash == "" {
		return model.ContractAge{}, false
	}
	ts, err := blockTimeOfTx(ctx, client, cr.TxHash)
	if err != nil {
		r.logger.WithError(err).WithField("tx", cr.TxHash).Debug("Creation block lookup failed")
		return model.ContractAge{}, false
	}
	return model.ContractAge{AgeDays: r.daysSince(int64(ts)), CreatedTx: cr.TxHash, Source: source}, true
}

func blockTimeOfTx(ctx context.Context, client chain.EthClient, txHash string) (uint64, error) {
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return 0, fmt.Errorf("receipt %s: %w", txHash, err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return 0, fmt.Errorf("receipt %s has no block", txHash)
	}
	return client.BlockTimestamp(ctx, receipt.BlockNumber)
}

func (r *Resolver) daysSince(ts int64) *float64 {
	days := float64(r.now().Unix()-ts) / secondsPerDay
	return &days
}
