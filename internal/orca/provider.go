package orca

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/txbuilder"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

var nativeMint = solana.MustPublicKeyFromBase58(constants.TokenMints["SOL"])

// Provider quotes directly against configured legacy constant-product pools by
// reading vault reserves over RPC.
type Provider struct {
	registry     *Registry
	vaults       VaultReader
	user         solana.PublicKey
	maxImpactBps uint16
	ttl          time.Duration
	slotWindow   uint64
	now          func() time.Time
	logger       *logrus.Logger
}

type ProviderOption func(*Provider)

// WithMaxPriceImpact rejects routes whose price impact exceeds bps. Zero disables.
func WithMaxPriceImpact(bps uint16) ProviderOption {
	return func(p *Provider) { p.maxImpactBps = bps }
}

// WithQuoteTTL bounds quote freshness in wall time.
func WithQuoteTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) { p.ttl = ttl }
}

// WithSlotWindow bounds quote freshness in slots past the reserve snapshot.
func WithSlotWindow(slots uint64) ProviderOption {
	return func(p *Provider) { p.slotWindow = slots }
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

func WithLogger(logger *logrus.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

func NewProvider(registry *Registry, vaults VaultReader, user solana.PublicKey, opts ...ProviderOption) *Provider {
	p := &Provider{
		registry:     registry,
		vaults:       vaults,
		user:         user,
		maxImpactBps: 300,
		ttl:          20 * time.Second,
		slotWindow:   50,
		now:          time.Now,
		logger:       logrus.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return "orca" }

func (p *Provider) Quote(ctx context.Context, spec quote.SwapSpec) (*quote.Quote, error) {
	pool, ok := p.registry.FindByMints(spec.InputMint, spec.OutputMint)
	if !ok {
		return nil, quote.ErrNoRoute
	}
	aToB, err := pool.Direction(spec.InputMint)
	if err != nil {
		return nil, err
	}

	reserves, err := FetchReserves(ctx, p.vaults, pool)
	if err != nil {
		return nil, fmt.Errorf("orca reserves %s: %w", pool.Name, err)
	}
	reserveIn, reserveOut := reserves.ForDirection(aToB)

	out, impact, err := SwapOutput(spec.Amount, reserveIn, reserveOut, pool.FeeNumerator, pool.FeeDenominator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", quote.ErrNoRoute, pool.Name, err)
	}
	if out == 0 {
		return nil, fmt.Errorf("%w: %s: zero output", quote.ErrNoRoute, pool.Name)
	}
	if err := CheckPriceImpact(impact, p.maxImpactBps); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", quote.ErrNoRoute, pool.Name, err)
	}

	minOut := quote.MinOut(out, spec.MaxSlippageBps)
	instructions, err := p.instructions(pool, aToB, spec, minOut)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"pool":       pool.Name,
		"in":         spec.Amount,
		"out":        out,
		"impact_bps": int(impact * 10000),
		"fee_bps":    pool.FeeBps(),
		"slot":       reserves.Slot,
	}).Debug("orca quote")

	quotedAt := p.now()
	q := &quote.Quote{
		Provider:     p.Name(),
		InputMint:    spec.InputMint,
		OutputMint:   spec.OutputMint,
		InAmount:     spec.Amount,
		OutAmount:    out,
		SlippageBps:  spec.MaxSlippageBps,
		Instructions: instructions,
		ContextSlot:  reserves.Slot,
		QuotedAt:     quotedAt,
	}
	if p.ttl > 0 {
		q.ExpiresAt = quotedAt.Add(p.ttl)
	}
	if p.slotWindow > 0 && reserves.Slot > 0 {
		q.ExpiresAtSlot = reserves.Slot + p.slotWindow
	}
	return q, nil
}

// instructions wraps the swap with ATA creation and, for native legs, the wrap and
// unwrap of SOL through the owner's wrapped-SOL account.
func (p *Provider) instructions(pool *Pool, aToB bool, spec quote.SwapSpec, minOut uint64) ([]quote.Instruction, error) {
	userIn, err := txbuilder.AssociatedTokenAddress(p.user, spec.InputMint, solana.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("input token account: %w", err)
	}
	userOut, err := txbuilder.AssociatedTokenAddress(p.user, spec.OutputMint, solana.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("output token account: %w", err)
	}

	nativeIn := spec.InputMint.Equals(nativeMint)
	nativeOut := spec.OutputMint.Equals(nativeMint)

	var out []quote.Instruction
	if nativeIn {
		out = append(out,
			createATAIdempotent(p.user, userIn, p.user, spec.InputMint),
			transferLamports(p.user, userIn, spec.Amount),
			syncNative(userIn),
		)
	}
	out = append(out, createATAIdempotent(p.user, userOut, p.user, spec.OutputMint))
	out = append(out, swapInstruction(pool, aToB, spec.Amount, minOut, p.user, userIn, userOut))

	if nativeIn {
		out = append(out, closeAccount(userIn, p.user, p.user))
	}
	if nativeOut {
		out = append(out, closeAccount(userOut, p.user, p.user))
	}
	return out, nil
}
