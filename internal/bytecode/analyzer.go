// Package bytecode performs static analysis on deployed contract code. Its
// flags are attached to a result as evidence and never feed the risk score.
package bytecode

import (
	"bytes"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/rnts08/eth-riskradar/internal/model"
)

const (
	opStop         = 0x00
	opAdd          = 0x01
	opMul          = 0x02
	opSub          = 0x03
	opDiv          = 0x04
	opEq           = 0x14
	opIsZero       = 0x15
	opBalance      = 0x31
	opOrigin       = 0x32
	opCaller       = 0x33
	opCalldataLoad = 0x35
	opGasPrice     = 0x3A
	opExtCodeSize  = 0x3B
	opExtCodeHash  = 0x3F
	opBlockHash    = 0x40
	opTimestamp    = 0x42
	opNumber       = 0x43
	opPrevRandao   = 0x44
	opPop          = 0x50
	opSload        = 0x54
	opSstore       = 0x55
	opJump         = 0x56
	opJumpI        = 0x57
	opJumpDest     = 0x5B
	opPush0        = 0x5F
	opPush1        = 0x60
	opPush4        = 0x63
	opPush20       = 0x73
	opPush32       = 0x7F
	opLog0         = 0xA0
	opLog4         = 0xA4
	opCreate       = 0xF0
	opCall         = 0xF1
	opCallCode     = 0xF2
	opReturn       = 0xF3
	opDelegateCall = 0xF4
	opCreate2      = 0xF5
	opRevert       = 0xFD
	opSelfDestruct = 0xFF
)

type selectorFlag struct {
	flag  string
	score int
}

var selectors = map[[4]byte]selectorFlag{
	{0x40, 0xc1, 0x0f, 0x19}: {"Mintable", 10},
	{0x42, 0x96, 0x6c, 0x68}: {"Burnable", 0},
	{0xf2, 0xfd, 0xe3, 0x8b}: {"Ownable", 0},
	{0x1d, 0x3b, 0x9e, 0xdf}: {"Blacklist", 20},
	{0xfe, 0x57, 0x5a, 0x87}: {"Blacklist", 20},
	{0x36, 0x59, 0xcf, 0xe6}: {"Upgradable", 5},
	{0x3c, 0xcf, 0xd6, 0x0b}: {"Withdrawal", 0},
	{0x2e, 0x1a, 0x7d, 0x4d}: {"Withdrawal", 0},
	{0x71, 0x50, 0x18, 0xa6}: {"RenounceOwnership", 0},
	{0x81, 0x29, 0xfc, 0x1c}: {"ReinitializableProxy", 20},
}

var (
	transferSig  = [4]byte{0xa9, 0x05, 0x9c, 0xbb}
	balanceOfSig = [4]byte{0x70, 0xa0, 0x82, 0x31}

	// PUSH1 01 PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
	fakeReturnSig = []byte{0x60, 0x01, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	tornadoRouter      = common.HexToAddress("0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b").Bytes()
	erc1820Registry    = common.HexToAddress("0x1820a4B7618BdE71Dce8cdc73aAB6C95905faD24").Bytes()
	transferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef").Bytes()
	eip1967Impl        = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc").Bytes()
	eip1967Admin       = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103").Bytes()
)

// DetectTokenType guesses the token standard from embedded selectors.
// ERC20 wins over ERC721, which wins over ERC1155.
func DetectTokenType(code []byte) string {
	switch {
	case bytes.Contains(code, transferSig[:]):
		return "ERC20"
	case bytes.Contains(code, []byte{0x80, 0xac, 0x58, 0xcd}):
		return "ERC721"
	case bytes.Contains(code, []byte{0xd9, 0xb6, 0x7a, 0x26}):
		return "ERC1155"
	default:
		return ""
	}
}

// AnalyzeCode is a one-shot Analyze with every heuristic enabled.
func AnalyzeCode(code []byte) ([]string, int) {
	return NewAnalyzer(code).Analyze()
}

// Filter limits which flags Evidence reports. The zero Filter reports all.
type Filter struct {
	enabled  map[string]bool
	disabled map[string]bool
}

// NewFilter builds a Filter from flag names. A non-empty enabled list acts as
// an allowlist; disabled always wins.
func NewFilter(enabled, disabled []string) Filter {
	set := func(names []string) map[string]bool {
		if len(names) == 0 {
			return nil
		}
		out := make(map[string]bool, len(names))
		for _, n := range names {
			out[n] = true
		}
		return out
	}
	return Filter{enabled: set(enabled), disabled: set(disabled)}
}

var analyzers = sync.Pool{New: func() any { return NewAnalyzer(nil) }}

// Evidence analyzes code and packages the outcome for a risk result. It
// returns nil for empty code.
func Evidence(code []byte, filter Filter, m *metrics.RadarMetrics) *model.CodeEvidence {
	if len(code) == 0 {
		return nil
	}
	start := time.Now()
	a := analyzers.Get().(*Analyzer)
	a.Reset(code)
	a.UpdateHeuristics(filter.enabled, filter.disabled)
	found, score := a.Analyze()
	// found aliases the pooled analyzer's buffer.
	flags := append([]string{}, found...)
	a.Reset(nil)
	analyzers.Put(a)
	if m != nil {
		m.CodeAnalysisDuration.Observe(time.Since(start).Seconds())
		for _, f := range flags {
			m.CodeAnalysisFlags.WithLabelValues(f).Inc()
		}
	}
	return &model.CodeEvidence{TokenType: DetectTokenType(code), Flags: flags, Score: score}
}

type loopSnapshot struct {
	calls, delegateCalls, sstores int
}

// features collects what the opcode walk saw; derived flags are computed from it.
type features struct {
	transferSig, balanceOf, transferEvent bool
	mintable, burnable, ownable           bool
	upgradable, withdrawal                bool
	erc1820, eip1967                      bool

	sstore, caller, arith, subConstant, div bool
	delegateCall, hardcodedDelegate         bool
	selfDestruct, create, create2           bool
	timestamp, calldataLoad, eq, isZero     bool
	uncheckedCall, canSendEth               bool
	revert, ret, stop                       bool

	loop, infiniteLoop, callInLoop, delegateCallInLoop, sstoreInLoop bool

	calls, delegateCalls, sstores, sloads, logs int
}

// Analyzer walks bytecode once. It can be Reset and reused.
type Analyzer struct {
	code []byte
	pc   int

	flags    []string
	score    int
	detected map[string]bool

	enabled  map[string]bool
	disabled map[string]bool

	lastOp    byte
	lastPush  []byte
	jumpDests map[int]loopSnapshot
	f         features
}

func NewAnalyzer(code []byte) *Analyzer {
	return &Analyzer{
		code:      code,
		detected:  make(map[string]bool),
		jumpDests: make(map[int]loopSnapshot),
	}
}

// Reset clears per-run state for new code. Heuristic filters survive, and the
// flag slice returned by the previous run is reused.
func (a *Analyzer) Reset(code []byte) {
	for k := range a.detected {
		delete(a.detected, k)
	}
	for k := range a.jumpDests {
		delete(a.jumpDests, k)
	}
	a.code = code
	a.pc = 0
	a.flags = a.flags[:0]
	a.score = 0
	a.lastOp = 0
	a.lastPush = nil
	a.f = features{}
}

// UpdateHeuristics limits which flags may be reported. A non-empty enabled
// set acts as an allowlist; disabled always wins.
func (a *Analyzer) UpdateHeuristics(enabled, disabled map[string]bool) {
	a.enabled = enabled
	a.disabled = disabled
}

func (a *Analyzer) addFlag(flag string, s int) {
	if a.detected[flag] || a.disabled[flag] {
		return
	}
	if len(a.enabled) > 0 && !a.enabled[flag] {
		return
	}
	a.detected[flag] = true
	a.flags = append(a.flags, flag)
	a.score += s
}

// Analyze returns the flags in detection order and their summed weight.
func (a *Analyzer) Analyze() ([]string, int) {
	for a.pc < len(a.code) {
		op := a.code[a.pc]
		if isPush(op) {
			a.scanPush(op)
			continue
		}
		a.scanOp(op)
		a.lastOp = op
		a.pc++
	}
	a.finish()
	return a.flags, a.score
}

func isPush(op byte) bool {
	return op >= opPush1 && op <= opPush32
}

func (a *Analyzer) lastPushWasZero() bool {
	return a.lastOp == opPush0 || (a.lastOp == opPush1 && len(a.lastPush) == 1 && a.lastPush[0] == 0)
}

func (a *Analyzer) nextOp() (byte, bool) {
	if a.pc+1 < len(a.code) {
		return a.code[a.pc+1], true
	}
	return 0, false
}

func (a *Analyzer) scanPush(op byte) {
	n := int(op - opPush0)
	end := a.pc + 1 + n
	if end > len(a.code) {
		a.lastPush = nil
		a.lastOp = op
		a.pc = len(a.code)
		return
	}
	data := a.code[a.pc+1 : end]
	a.lastPush = data

	if op == opPush1 && bytes.HasPrefix(a.code[a.pc:], fakeReturnSig) {
		a.addFlag("FakeReturn", 20)
	}

	switch op {
	case opPush4:
		var sig [4]byte
		copy(sig[:], data)
		switch sig {
		case transferSig:
			a.f.transferSig = true
		case balanceOfSig:
			a.f.balanceOf = true
		default:
			if s, ok := selectors[sig]; ok {
				a.addFlag(s.flag, s.score)
				a.markSelector(s.flag)
			}
		}
	case opPush20:
		switch {
		case bytes.Equal(data, tornadoRouter):
			a.addFlag("HardcodedBlacklistedAddress", 50)
		case bytes.Equal(data, erc1820Registry):
			a.f.erc1820 = true
		}
	case opPush32:
		switch {
		case bytes.Equal(data, transferEventTopic):
			a.f.transferEvent = true
		case bytes.Equal(data, eip1967Impl), bytes.Equal(data, eip1967Admin):
			a.f.eip1967 = true
		}
	}

	a.lastOp = op
	a.pc = end
}

func (a *Analyzer) markSelector(flag string) {
	switch flag {
	case "Mintable":
		a.f.mintable = true
	case "Burnable":
		a.f.burnable = true
	case "Ownable":
		a.f.ownable = true
	case "Upgradable":
		a.f.upgradable = true
	case "Withdrawal":
		a.f.withdrawal = true
	}
}

func (a *Analyzer) scanOp(op byte) {
	f := &a.f
	switch op {
	case opAdd, opMul, opSub:
		f.arith = true
		if op == opSub && isPush(a.lastOp) {
			f.subConstant = true
		}
	case opDiv:
		f.div = true
	case opEq:
		f.eq = true
	case opIsZero:
		f.isZero = true
	case opCaller:
		f.caller = true
	case opCalldataLoad:
		f.calldataLoad = true
	case opOrigin:
		a.addFlag("TxOrigin", 10)
	case opGasPrice:
		a.addFlag("GasPriceCheck", 5)
	case opExtCodeSize:
		a.addFlag("AntiContractCheck", 10)
	case opExtCodeHash:
		a.addFlag("CodeHashCheck", 10)
	case opBlockHash:
		a.addFlag("BadRandomness", 15)
	case opTimestamp:
		f.timestamp = true
		a.addFlag("TimestampDependence", 5)
	case opNumber:
		a.addFlag("BlockNumberCheck", 5)
	case opPrevRandao:
		a.addFlag("WeakRandomness", 10)
	case opBalance:
		if next, ok := a.nextOp(); ok && next == opEq {
			a.addFlag("StrictBalanceEquality", 10)
		}
	case opSload:
		f.sloads++
	case opSstore:
		f.sstore = true
		f.sstores++
		if a.lastOp == opCalldataLoad {
			a.addFlag("ArbitraryStorageWrite", 30)
		}
	case opJumpDest:
		a.jumpDests[a.pc] = loopSnapshot{f.calls, f.delegateCalls, f.sstores}
	case opJump, opJumpI:
		a.scanJump(op)
	case opLog0, opLog0 + 1, opLog0 + 2, opLog0 + 3, opLog4:
		f.logs++
	case opCreate:
		f.create = true
		f.canSendEth = true
		a.addFlag("ContractFactory", 10)
	case opCreate2:
		f.create2 = true
		f.canSendEth = true
		a.addFlag("Metamorphic", 30)
	case opCall, opCallCode:
		f.calls++
		f.canSendEth = true
		a.addFlag("LowLevelCall", 10)
		if next, ok := a.nextOp(); ok && next == opPop {
			f.uncheckedCall = true
		}
	case opDelegateCall:
		f.delegateCall = true
		f.delegateCalls++
		f.canSendEth = true
		a.addFlag("DelegateCall", 20)
		if a.lastOp == opPush20 {
			f.hardcodedDelegate = true
			a.addFlag("SuspiciousDelegate", 30)
		}
		if a.lastPushWasZero() {
			a.addFlag("DelegateCallToZero", 30)
		}
		if next, ok := a.nextOp(); ok && next == opPop {
			f.uncheckedCall = true
		}
	case opSelfDestruct:
		f.selfDestruct = true
		f.canSendEth = true
		a.addFlag("SelfDestruct", 50)
		if a.lastOp == opPush20 {
			a.addFlag("HardcodedSelfDestruct", 50)
		}
	case opRevert:
		f.revert = true
	case opReturn:
		f.ret = true
	case opStop:
		f.stop = true
	}
}

// scanJump detects backward jumps to an already seen JUMPDEST.
func (a *Analyzer) scanJump(op byte) {
	if !isPush(a.lastOp) || len(a.lastPush) > 4 {
		return
	}
	snap, ok := a.jumpDests[bytesToInt(a.lastPush)]
	if !ok {
		return
	}
	f := &a.f
	f.loop = true
	a.addFlag("LoopDetected", 5)
	if op == opJump {
		f.infiniteLoop = true
	}
	if f.calls > snap.calls {
		f.callInLoop = true
	}
	if f.delegateCalls > snap.delegateCalls {
		f.delegateCallInLoop = true
	}
	if f.sstores > snap.sstores {
		f.sstoreInLoop = true
	}
}

func (a *Analyzer) finish() {
	f := &a.f
	if !f.sstore {
		a.addFlag("Stateless", 30)
		if f.transferSig || f.mintable || f.burnable {
			a.addFlag("FakeToken", 50)
		}
		if f.balanceOf {
			a.addFlag("FakeHighBalance", 40)
		}
		if f.transferEvent {
			a.addFlag("FakeTransferEvent", 50)
		}
	}
	if f.transferSig {
		if f.div {
			a.addFlag("TaxToken", 20)
		}
		if f.subConstant {
			a.addFlag("HiddenFee", 20)
		}
		if f.timestamp {
			a.addFlag("TradingCooldown", 10)
		}
		if !f.transferEvent {
			a.addFlag("NoTransferEvent", 20)
			if f.sstore {
				a.addFlag("PotentialHoneypot", 50)
			}
		}
		if !f.mintable && f.sstore && f.caller && f.arith {
			a.addFlag("HiddenMint", 40)
		}
		if !f.isZero && !f.eq {
			a.addFlag("MissingZeroCheck", 10)
		}
	}
	if f.uncheckedCall {
		a.addFlag("UncheckedCall", 15)
	}
	if f.revert && !f.ret && !f.stop && !f.selfDestruct {
		a.addFlag("ReturnBomb", 50)
	}
	if f.erc1820 {
		a.addFlag("ERC777Reentrancy", 20)
	}
	if f.infiniteLoop {
		a.addFlag("InfiniteLoop", 20)
	}
	if f.callInLoop {
		a.addFlag("CallInLoop", 10)
	}
	if f.delegateCallInLoop {
		a.addFlag("DelegateCallInLoop", 20)
	}
	if f.sstoreInLoop {
		a.addFlag("CostlyLoop", 10)
	}
	if f.delegateCall && f.selfDestruct {
		a.addFlag("ProxyDestruction", 20)
	}
	if f.create2 && f.selfDestruct {
		a.addFlag("MetamorphicExploit", 20)
	}
	if f.eip1967 {
		a.addFlag("EIP1967Proxy", 0)
	}
	if f.delegateCall {
		if !f.eip1967 {
			a.addFlag("NonStandardProxy", 20)
		}
		if f.calldataLoad && !f.hardcodedDelegate {
			a.addFlag("UnsafeDelegateCall", 20)
		}
	}
	if f.burnable && !f.ownable {
		a.addFlag("PublicBurn", 30)
	}
	if f.upgradable && !f.ownable {
		a.addFlag("UnprotectedUpgrade", 40)
	}
	if f.withdrawal && !f.canSendEth {
		a.addFlag("PhantomFunction", 40)
	}
	if f.selfDestruct && f.caller {
		a.addFlag("PrivilegedSelfDestruct", 20)
	}
	if f.selfDestruct && (f.create || f.create2) {
		a.addFlag("GasTokenMinting", 40)
	}
}

func bytesToInt(b []byte) int {
	res := 0
	for _, v := range b {
		res = (res << 8) | int(v)
	}
	return res
}
