package swapengine

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// LegIntent is a leg as a human writes it: symbols or mint addresses and an amount in
// UI units ("1.5" SOL). Mints without known decimals take raw integer amounts.
type LegIntent struct {
	Input       string
	Output      string
	Amount      string
	SlippageBps *uint16
}

// ResolveMint accepts a known symbol or a base58 mint address.
func ResolveMint(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("token is required")
	}
	if mint, ok := constants.TokenMints[strings.ToUpper(s)]; ok {
		return solana.MustPublicKeyFromBase58(mint), nil
	}
	if mint, ok := constants.TokenMints[s]; ok {
		return solana.MustPublicKeyFromBase58(mint), nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("unknown token %q", s)
	}
	return pk, nil
}

// ToRawAmount converts a UI amount to the mint's smallest unit. Fractional digits
// beyond the mint's decimals are rejected rather than rounded.
func ToRawAmount(mint solana.PublicKey, amount string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must be >= 0")
	}

	decimals, known := constants.TokenDecimals[mint.String()]
	if !known {
		decimals = 0
	}
	raw := d.Shift(decimals)
	if !raw.Equal(raw.Truncate(0)) {
		if !known {
			return 0, fmt.Errorf("amount %s for %s must be in raw units", amount, mint)
		}
		return 0, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	if !raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return raw.BigInt().Uint64(), nil
}

// FormatAmount renders a raw amount in UI units when the mint's decimals are known.
func FormatAmount(mint solana.PublicKey, raw uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0)
	if decimals, ok := constants.TokenDecimals[mint.String()]; ok {
		return d.Shift(-decimals).String()
	}
	return d.String()
}

// Spec resolves the intent into an executable leg.
func (li LegIntent) Spec(defaultSlippageBps uint16) (quote.SwapSpec, error) {
	in, err := ResolveMint(li.Input)
	if err != nil {
		return quote.SwapSpec{}, fmt.Errorf("input: %w", err)
	}
	out, err := ResolveMint(li.Output)
	if err != nil {
		return quote.SwapSpec{}, fmt.Errorf("output: %w", err)
	}
	amount, err := ToRawAmount(in, li.Amount)
	if err != nil {
		return quote.SwapSpec{}, err
	}

	slippage := defaultSlippageBps
	if li.SlippageBps != nil {
		slippage = *li.SlippageBps
	}
	spec := quote.SwapSpec{InputMint: in, OutputMint: out, Amount: amount, MaxSlippageBps: slippage}
	if err := spec.Validate(); err != nil {
		return quote.SwapSpec{}, err
	}
	return spec, nil
}

// ParseLegFlag parses IN:OUT:AMOUNT[:BPS], e.g. "SOL:USDC:1.5:50".
func ParseLegFlag(s string) (LegIntent, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return LegIntent{}, fmt.Errorf("leg %q: want IN:OUT:AMOUNT[:BPS]", s)
	}
	li := LegIntent{Input: parts[0], Output: parts[1], Amount: parts[2]}
	if len(parts) == 4 {
		bps, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil {
			return LegIntent{}, fmt.Errorf("leg %q: invalid slippage: %w", s, err)
		}
		v := uint16(bps)
		li.SlippageBps = &v
	}
	return li, nil
}
