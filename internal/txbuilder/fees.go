package txbuilder

import (
	"context"
	"slices"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// FeeSource reports recent per-slot prioritization fees in micro-lamports per CU.
type FeeSource interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error)
}

// FeePolicy decides the compute budget of each round. With a FeeSource and Dynamic
// set, the unit price follows the chosen percentile of recent fees, bounded by Floor
// and Cap; otherwise the static UnitPrice is used.
type FeePolicy struct {
	UnitLimit  uint32
	UnitPrice  uint64
	Dynamic    bool
	Percentile int
	Floor      uint64
	Cap        uint64

	Source FeeSource
	Logger *logrus.Logger
}

// StaticFees returns a policy that always yields the given budget.
func StaticFees(limit uint32, price uint64) *FeePolicy {
	return &FeePolicy{UnitLimit: limit, UnitPrice: price}
}

// Budget computes the compute budget for transactions touching accounts. Fee lookup
// failures fall back to the static price.
func (p *FeePolicy) Budget(ctx context.Context, accounts []solana.PublicKey) Budget {
	if p == nil {
		return Budget{}
	}
	b := Budget{UnitLimit: p.UnitLimit, UnitPrice: p.UnitPrice}
	if !p.Dynamic || p.Source == nil {
		return b
	}

	fees, err := p.Source.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithError(err).Warn("priority fee lookup failed, using static price")
		}
		return b
	}

	nonZero := fees[:0:0]
	for _, f := range fees {
		if f > 0 {
			nonZero = append(nonZero, f)
		}
	}
	if len(nonZero) == 0 {
		return b
	}
	slices.Sort(nonZero)

	b.UnitPrice = p.clamp(percentile(nonZero, p.Percentile))
	return b
}

func (p *FeePolicy) clamp(v uint64) uint64 {
	floor, ceil := p.Floor, p.Cap
	if floor == 0 {
		floor = constants.MinPriorityFeeMicro
	}
	if ceil == 0 {
		ceil = constants.MaxPriorityFeeMicro
	}
	return min(max(v, floor), ceil)
}

// percentile picks the nearest-rank value from sorted.
func percentile(sorted []uint64, pct int) uint64 {
	if pct <= 0 {
		return sorted[0]
	}
	if pct >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
