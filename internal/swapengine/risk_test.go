package swapengine

import (
	"math"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
)

var (
	solMint  = solana.MustPublicKeyFromBase58(constants.TokenMints["SOL"])
	usdcMint = solana.MustPublicKeyFromBase58(constants.TokenMints["USDC"])
	usdtMint = solana.MustPublicKeyFromBase58(constants.TokenMints["USDT"])
)

func TestCheckLegs_Allowed(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig())
	result := rm.CheckLegs([]quote.SwapSpec{
		leg(solMint, usdcMint, 1_000_000_000),
		leg(usdtMint, usdcMint, 5_000_000),
	})
	assert.True(t, result.Allowed)
	assert.Equal(t, -1, result.Leg)
	assert.Empty(t, result.Reason)
}

func TestCheckLegs_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		config RiskConfig
		specs  []quote.SwapSpec
		leg    int
		check  func(t *testing.T, r *RiskCheckResult)
	}{
		{
			name:   "too many legs",
			config: RiskConfig{MaxLegs: 1},
			specs:  []quote.SwapSpec{leg(solMint, usdcMint, 1), leg(usdtMint, usdcMint, 1)},
			leg:    -1,
			check:  func(t *testing.T, r *RiskCheckResult) { assert.True(t, r.TooManyLegs) },
		},
		{
			name:   "slippage above cap",
			config: RiskConfig{MaxSlippageBps: 30},
			specs:  []quote.SwapSpec{leg(solMint, usdcMint, 1)},
			leg:    0,
			check:  func(t *testing.T, r *RiskCheckResult) { assert.True(t, r.SlippageTooHigh) },
		},
		{
			name:   "mint outside allow-list",
			config: RiskConfig{AllowedMints: []string{"SOL", "USDC"}},
			specs:  []quote.SwapSpec{leg(solMint, usdcMint, 1), leg(usdtMint, usdcMint, 1)},
			leg:    1,
			check: func(t *testing.T, r *RiskCheckResult) {
				assert.True(t, r.MintNotAllowed)
				assert.Contains(t, r.Reason, "USDT")
			},
		},
		{
			name:   "duplicate direction",
			config: RiskConfig{},
			specs:  []quote.SwapSpec{leg(solMint, usdcMint, 1), leg(solMint, usdcMint, 2)},
			leg:    1,
			check:  func(t *testing.T, r *RiskCheckResult) { assert.True(t, r.DuplicateLeg) },
		},
		{
			name:   "invalid leg",
			config: RiskConfig{},
			specs:  []quote.SwapSpec{leg(solMint, solMint, 1)},
			leg:    0,
			check:  func(t *testing.T, r *RiskCheckResult) { assert.Contains(t, r.Reason, "must differ") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRiskManager(tt.config).CheckLegs(tt.specs)
			assert.False(t, r.Allowed)
			assert.Equal(t, tt.leg, r.Leg)
			assert.NotEmpty(t, r.Reason)
			tt.check(t, r)
		})
	}
}

func TestCheckLegs_OppositeDirectionsAreDistinct(t *testing.T) {
	r := NewRiskManager(RiskConfig{}).CheckLegs([]quote.SwapSpec{
		leg(solMint, usdcMint, 1),
		leg(usdcMint, solMint, 1),
	})
	assert.True(t, r.Allowed)
}

func TestCheckLegs_DailyNativeLimit(t *testing.T) {
	rm := NewRiskManager(RiskConfig{DailyNativeLimit: 3_000_000_000})

	assert.True(t, rm.CheckLegs([]quote.SwapSpec{leg(solMint, usdcMint, 2_000_000_000)}).Allowed)

	rm.RecordResult(&Result{
		Succeeded: []LegOutcome{
			{Spec: leg(solMint, usdcMint, 2_000_000_000), Status: LegSucceeded},
			{Spec: leg(usdtMint, usdcMint, 9_000_000_000), Status: LegSucceeded},
		},
		Failed: []LegOutcome{{Spec: leg(solMint, usdtMint, 1_000_000_000), Status: LegFailed}},
	})
	assert.Equal(t, uint64(2_000_000_000), rm.DailyUsage(), "only landed native input counts")

	r := rm.CheckLegs([]quote.SwapSpec{leg(solMint, usdcMint, 1_500_000_000)})
	assert.False(t, r.Allowed)
	assert.True(t, r.ExceedsDailyLimit)
	assert.Equal(t, uint64(2_000_000_000), r.DailyNativeUsed)

	assert.True(t, rm.CheckLegs([]quote.SwapSpec{leg(usdtMint, usdcMint, 1_500_000_000)}).Allowed)
}

func TestCheckLegs_DailyNativeLimitWrapAround(t *testing.T) {
	rm := NewRiskManager(RiskConfig{DailyNativeLimit: 1_000_000_000})

	r := rm.CheckLegs([]quote.SwapSpec{
		leg(solMint, usdcMint, 1<<63),
		leg(solMint, usdtMint, 1<<63),
	})
	assert.False(t, r.Allowed)
	assert.True(t, r.ExceedsDailyLimit)

	rm.RecordResult(&Result{Succeeded: []LegOutcome{{Spec: leg(solMint, usdcMint, math.MaxUint64), Status: LegSucceeded}}})
	r = rm.CheckLegs([]quote.SwapSpec{leg(solMint, usdcMint, 1)})
	assert.False(t, r.Allowed)
	assert.True(t, r.ExceedsDailyLimit)
}

func TestDailyLimitTracker_SaturatesUsage(t *testing.T) {
	tracker := NewDailyLimitTracker()
	tracker.Record(math.MaxUint64)
	tracker.Record(2)
	assert.Equal(t, uint64(math.MaxUint64), tracker.Usage())
}

func TestDailyLimitTracker_Rolls(t *testing.T) {
	now := time.Now()
	tracker := NewDailyLimitTracker()
	tracker.now = func() time.Time { return now }

	tracker.Record(100)
	now = now.Add(23 * time.Hour)
	tracker.Record(50)
	assert.Equal(t, uint64(150), tracker.Usage())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, uint64(50), tracker.Usage())

	tracker.Reset()
	assert.Zero(t, tracker.Usage())
}
