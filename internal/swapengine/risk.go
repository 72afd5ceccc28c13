package swapengine

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
)

// RiskConfig bounds what a single execution may ask for.
type RiskConfig struct {
	MaxLegs        int
	MaxSlippageBps uint16

	// Allow-list of mint addresses or known symbols (empty = allow all)
	AllowedMints []string

	// Rolling 24h cap on native input spent, in lamports (0 = unlimited)
	DailyNativeLimit uint64
}

// DefaultRiskConfig returns conservative settings
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxLegs:        8,
		MaxSlippageBps: 1000, // 10%
	}
}

// RiskCheckResult explains a preflight decision.
type RiskCheckResult struct {
	Allowed bool
	Reason  string
	Leg     int // offending leg, -1 when the whole request is rejected

	TooManyLegs       bool
	SlippageTooHigh   bool
	MintNotAllowed    bool
	DuplicateLeg      bool
	ExceedsDailyLimit bool
	DailyNativeUsed   uint64
	DailyNativeLimit  uint64
	MaxSlippageBps    uint16
	AllowedMints      []string
}

// RiskManager runs preflight checks before any quote is requested.
type RiskManager struct {
	config  RiskConfig
	allowed map[string]struct{}
	daily   *DailyLimitTracker
}

func NewRiskManager(config RiskConfig) *RiskManager {
	rm := &RiskManager{config: config, daily: NewDailyLimitTracker()}
	if len(config.AllowedMints) > 0 {
		rm.allowed = make(map[string]struct{}, len(config.AllowedMints))
		for _, m := range config.AllowedMints {
			if mint, ok := constants.TokenMints[m]; ok {
				m = mint
			}
			rm.allowed[m] = struct{}{}
		}
	}
	return rm
}

// CheckLegs validates a leg set against all risk rules
func (rm *RiskManager) CheckLegs(specs []quote.SwapSpec) *RiskCheckResult {
	result := &RiskCheckResult{
		Allowed:          true,
		Leg:              -1,
		MaxSlippageBps:   rm.config.MaxSlippageBps,
		AllowedMints:     rm.config.AllowedMints,
		DailyNativeLimit: rm.config.DailyNativeLimit,
	}
	reject := func(leg int, format string, args ...any) *RiskCheckResult {
		result.Allowed = false
		result.Leg = leg
		result.Reason = fmt.Sprintf(format, args...)
		return result
	}

	// 1. Leg count
	if rm.config.MaxLegs > 0 && len(specs) > rm.config.MaxLegs {
		result.TooManyLegs = true
		return reject(-1, "%d legs exceed max %d", len(specs), rm.config.MaxLegs)
	}

	type pair struct{ in, out string }
	seen := make(map[pair]int, len(specs))
	var native uint64
	var overflow bool
	for i, spec := range specs {
		// 2. Shape
		if err := spec.Validate(); err != nil {
			return reject(i, "leg %d: %v", i, err)
		}

		// 3. Slippage
		if rm.config.MaxSlippageBps > 0 && spec.MaxSlippageBps > rm.config.MaxSlippageBps {
			result.SlippageTooHigh = true
			return reject(i, "leg %d: slippage %d bps exceeds max %d bps", i, spec.MaxSlippageBps, rm.config.MaxSlippageBps)
		}

		// 4. Allow-list
		if !rm.isMintAllowed(spec.InputMint.String()) || !rm.isMintAllowed(spec.OutputMint.String()) {
			result.MintNotAllowed = true
			return reject(i, "leg %d: mint not allowed: %s or %s", i, symbolOf(spec.InputMint.String()), symbolOf(spec.OutputMint.String()))
		}

		// 5. One leg per direction
		p := pair{spec.InputMint.String(), spec.OutputMint.String()}
		if j, ok := seen[p]; ok {
			result.DuplicateLeg = true
			return reject(i, "leg %d duplicates leg %d (%s->%s)", i, j, symbolOf(p.in), symbolOf(p.out))
		}
		seen[p] = i

		if p.in == constants.TokenMints["SOL"] {
			var carry uint64
			native, carry = bits.Add64(native, spec.Amount, 0)
			overflow = overflow || carry != 0
		}
	}

	// 6. Daily native spend
	used := rm.daily.Usage()
	result.DailyNativeUsed = used
	total, carry := bits.Add64(used, native, 0)
	if rm.config.DailyNativeLimit > 0 && (overflow || carry != 0 || total > rm.config.DailyNativeLimit) {
		result.ExceedsDailyLimit = true
		return reject(-1, "daily limit exceeded: used %d + %d > %d lamports", used, native, rm.config.DailyNativeLimit)
	}

	return result
}

// RecordResult counts the native input of landed legs toward the daily limit.
func (rm *RiskManager) RecordResult(res *Result) {
	if res == nil {
		return
	}
	for _, oc := range res.Succeeded {
		if oc.Spec.InputMint.String() == constants.TokenMints["SOL"] {
			rm.daily.Record(oc.Spec.Amount)
		}
	}
}

func (rm *RiskManager) DailyUsage() uint64 { return rm.daily.Usage() }

func (rm *RiskManager) isMintAllowed(mint string) bool {
	if rm.allowed == nil {
		return true
	}
	_, ok := rm.allowed[mint]
	return ok
}

func symbolOf(mint string) string {
	if sym, ok := constants.TokenSymbols[mint]; ok {
		return sym
	}
	return mint
}

// DailyLimitTracker tracks rolling 24-hour native spend
type DailyLimitTracker struct {
	mu    sync.Mutex
	spent []spendRecord
	now   func() time.Time
}

type spendRecord struct {
	timestamp time.Time
	lamports  uint64
}

func NewDailyLimitTracker() *DailyLimitTracker {
	return &DailyLimitTracker{now: time.Now}
}

func (t *DailyLimitTracker) Record(lamports uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent = append(t.spent, spendRecord{timestamp: t.now(), lamports: lamports})
	t.cleanup()
}

// Usage returns the total recorded in the last 24 hours, saturating at the uint64 max
func (t *DailyLimitTracker) Usage() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup()

	var total uint64
	for _, r := range t.spent {
		sum, carry := bits.Add64(total, r.lamports, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		total = sum
	}
	return total
}

// cleanup removes records older than 24 hours; callers hold mu
func (t *DailyLimitTracker) cleanup() {
	cutoff := t.now().Add(-24 * time.Hour)
	kept := t.spent[:0]
	for _, r := range t.spent {
		if r.timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.spent = kept
}

// Reset clears all tracked spend
func (t *DailyLimitTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent = nil
}
