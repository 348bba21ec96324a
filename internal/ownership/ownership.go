// Package ownership works out who, if anyone, controls a token contract.
package ownership

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/evm"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/sirupsen/logrus"
)

// ownerGetters are the owner/admin getters commonly deployed.
var ownerGetters = []string{"owner", "getOwner", "ownerAddress", "admin", "getAdmin", "proxyAdmin"}

// implementationSlot is keccak256("eip1967.proxy.implementation") - 1.
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

var heuristicSlots = []common.Hash{common.BigToHash(big.NewInt(0)), common.BigToHash(big.NewInt(1))}

const (
	SourceRawCall = "raw_call"
	SourceGetter  = "abi_getter"
	SourceStorage = "storage_slot"
)

// candidate is an address produced by one strategy, before classification.
type candidate struct {
	addr       common.Address
	source     string
	method     string
	viaProxy   bool
	confidence model.Confidence
}

// strategy returns a candidate or nil when it has nothing to say.
type strategy func(ctx context.Context, target common.Address) *candidate

type Resolver struct {
	caller *evm.Caller
	logger logrus.FieldLogger
}

func NewResolver(caller *evm.Caller, logger logrus.FieldLogger) *Resolver {
	return &Resolver{caller: caller, logger: logger}
}

// Resolve runs the cascade: raw selectors, interface getters, proxy
// implementation, then storage heuristics. The first hit wins.
func (r *Resolver) Resolve(ctx context.Context, token common.Address) model.OwnershipFinding {
	log := r.logger.WithFields(logrus.Fields{"token": token.Hex(), "step": "ownership"})

	direct := []strategy{r.rawSelectors, r.interfaceGetters}
	if c := first(ctx, token, direct); c != nil {
		return r.classify(ctx, c)
	}

	impl, hasImpl := r.implementation(ctx, token)
	if hasImpl {
		log.WithField("implementation", impl.Hex()).Debug("Following EIP-1967 implementation")
		if c := first(ctx, impl, direct); c != nil {
			c.viaProxy = true
			return r.classify(ctx, c)
		}
	}

	if c := r.storageSlots(ctx, token); c != nil {
		return r.classify(ctx, c)
	}
	if hasImpl {
		if c := r.storageSlots(ctx, impl); c != nil {
			c.viaProxy = true
			return r.classify(ctx, c)
		}
	}

	log.Debug("No owner-like value found")
	return model.OwnershipFinding{Status: model.OwnershipUnknown}
}

func first(ctx context.Context, target common.Address, strategies []strategy) *candidate {
	for _, s := range strategies {
		if c := s(ctx, target); c != nil {
			return c
		}
	}
	return nil
}

func (r *Resolver) rawSelectors(ctx context.Context, target common.Address) *candidate {
	for _, name := range ownerGetters {
		sig := name + "()"
		out, err := r.caller.Raw(ctx, target, evm.Selector(sig))
		if err != nil || len(out) < 32 {
			continue
		}
		return &candidate{
			addr:       common.BytesToAddress(out[len(out)-20:]),
			source:     SourceRawCall,
			method:     sig,
			confidence: model.ConfidenceHigh,
		}
	}
	return nil
}

func (r *Resolver) interfaceGetters(ctx context.Context, target common.Address) *candidate {
	for _, name := range ownerGetters {
		parsed, err := evm.GetterABI(name, "address")
		if err != nil {
			continue
		}
		values, err := r.caller.Call(ctx, target, parsed, name)
		if err != nil || len(values) == 0 {
			continue
		}
		addr, ok := values[0].(common.Address)
		if !ok {
			continue
		}
		return &candidate{addr: addr, source: SourceGetter, method: name + "()", confidence: model.ConfidenceHigh}
	}
	return nil
}

func (r *Resolver) implementation(ctx context.Context, token common.Address) (common.Address, bool) {
	raw, err := r.caller.Client().StorageAt(ctx, token, implementationSlot, nil)
	if err != nil {
		r.logger.WithError(err).WithField("token", token.Hex()).Debug("EIP-1967 slot read failed")
		return common.Address{}, false
	}
	return addressFromWord(raw)
}

// storageSlots reads slots 0 and 1 and accepts a non-zero low 20 bytes as an
// inference-grade owner.
func (r *Resolver) storageSlots(ctx context.Context, target common.Address) *candidate {
	for i, slot := range heuristicSlots {
		raw, err := r.caller.Client().StorageAt(ctx, target, slot, nil)
		if err != nil {
			return nil
		}
		if addr, ok := addressFromWord(raw); ok {
			return &candidate{
				addr:       addr,
				source:     SourceStorage,
				method:     "slot" + strconv.Itoa(i),
				confidence: model.ConfidenceInference,
			}
		}
	}
	return nil
}

func addressFromWord(raw []byte) (common.Address, bool) {
	if len(raw) < 20 {
		return common.Address{}, false
	}
	addr := common.BytesToAddress(raw[len(raw)-20:])
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

func (r *Resolver) classify(ctx context.Context, c *candidate) model.OwnershipFinding {
	f := model.OwnershipFinding{
		Source:     c.source,
		Method:     c.method,
		ViaProxy:   c.viaProxy,
		Confidence: c.confidence,
	}
	if c.addr == (common.Address{}) {
		f.Status = model.OwnershipRenounced
		f.Owner = c.addr.Hex()
		return f
	}
	f.Status = model.OwnershipControlledBy
	f.Owner = c.addr.Hex()
	code, err := r.caller.Client().CodeAt(ctx, c.addr, nil)
	switch {
	case err != nil:
		// Kind stays empty when the code lookup fails.
		r.logger.WithError(err).WithField("owner", f.Owner).Debug("Owner code lookup failed")
	case len(code) > 0:
		f.Kind = model.ControllerContract
	default:
		f.Kind = model.ControllerEOA
	}
	return f
}
