package jupiter

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
)

// Provider adapts the two-call Jupiter API (quote, then swap-instructions) to
// quote.Provider.
type Provider struct {
	client *Client
	user   solana.PublicKey
	ttl    time.Duration
	now    func() time.Time
}

type ProviderOption func(*Provider)

// WithQuoteTTL bounds how long a Jupiter quote is considered fresh. Jupiter quotes
// carry no expiry of their own.
func WithQuoteTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) { p.ttl = ttl }
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

func NewProvider(client *Client, user solana.PublicKey, opts ...ProviderOption) *Provider {
	p := &Provider{client: client, user: user, ttl: 30 * time.Second, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return "jupiter" }

func (p *Provider) Quote(ctx context.Context, spec quote.SwapSpec) (*quote.Quote, error) {
	slippage := spec.MaxSlippageBps
	qr, err := p.client.Quote(ctx, QuoteRequest{
		InputMint:   spec.InputMint.String(),
		OutputMint:  spec.OutputMint.String(),
		Amount:      strconv.FormatUint(spec.Amount, 10),
		SlippageBps: &slippage,
		SwapMode:    "ExactIn",
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	if len(qr.RoutePlan) == 0 {
		return nil, quote.ErrNoRoute
	}

	quotedAt := p.now()

	ix, err := p.client.SwapInstructions(ctx, SwapInstructionsRequest{
		QuoteResponse:           qr.Raw,
		UserPublicKey:           p.user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: false,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter swap-instructions: %w", err)
	}

	return toQuote(qr, ix, quotedAt, p.ttl)
}

func toQuote(qr *QuoteResponse, ix *SwapInstructionsResponse, quotedAt time.Time, ttl time.Duration) (*quote.Quote, error) {
	in, err := solana.PublicKeyFromBase58(qr.InputMint)
	if err != nil {
		return nil, fmt.Errorf("invalid inputMint %q: %w", qr.InputMint, err)
	}
	out, err := solana.PublicKeyFromBase58(qr.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("invalid outputMint %q: %w", qr.OutputMint, err)
	}
	inAmount, err := strconv.ParseUint(qr.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inAmount %q: %w", qr.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid outAmount %q: %w", qr.OutAmount, err)
	}

	instructions, err := convertInstructions(ix.Ordered())
	if err != nil {
		return nil, err
	}

	tables := make([]solana.PublicKey, 0, len(ix.AddressLookupTableAddresses))
	for _, a := range ix.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid lookup table %q: %w", a, err)
		}
		tables = append(tables, pk)
	}

	q := &quote.Quote{
		Provider:     "jupiter",
		InputMint:    in,
		OutputMint:   out,
		InAmount:     inAmount,
		OutAmount:    outAmount,
		SlippageBps:  qr.SlippageBps,
		Instructions: instructions,
		LookupTables: tables,
		ContextSlot:  qr.ContextSlot,
		QuotedAt:     quotedAt,
	}
	if ttl > 0 {
		q.ExpiresAt = quotedAt.Add(ttl)
	}
	return q, nil
}

func convertInstructions(in []Instruction) ([]quote.Instruction, error) {
	out := make([]quote.Instruction, 0, len(in))
	for i, ix := range in {
		program, err := solana.PublicKeyFromBase58(ix.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid programId: %w", i, err)
		}
		data, err := base64.StdEncoding.DecodeString(ix.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid data: %w", i, err)
		}
		accounts := make([]quote.AccountMeta, 0, len(ix.Accounts))
		for _, a := range ix.Accounts {
			pk, err := solana.PublicKeyFromBase58(a.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: invalid account %q: %w", i, a.Pubkey, err)
			}
			accounts = append(accounts, quote.AccountMeta{Pubkey: pk, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
		}
		out = append(out, quote.Instruction{ProgramID: program, Accounts: accounts, Data: data})
	}
	return out, nil
}
