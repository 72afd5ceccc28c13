package orca

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// VaultReader reads SPL token account balances.
type VaultReader interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (amount, slot uint64, err error)
}

// Reserves is a snapshot of both pool vaults.
type Reserves struct {
	A    uint64
	B    uint64
	Slot uint64
}

// ForDirection returns (reserveIn, reserveOut).
func (r Reserves) ForDirection(aToB bool) (uint64, uint64) {
	if aToB {
		return r.A, r.B
	}
	return r.B, r.A
}

// FetchReserves reads both vault balances. The snapshot slot is the older of the two
// reads.
func FetchReserves(ctx context.Context, reader VaultReader, pool *Pool) (Reserves, error) {
	a, slotA, err := reader.GetTokenAccountBalance(ctx, pool.VaultA)
	if err != nil {
		return Reserves{}, fmt.Errorf("vault A balance: %w", err)
	}
	b, slotB, err := reader.GetTokenAccountBalance(ctx, pool.VaultB)
	if err != nil {
		return Reserves{}, fmt.Errorf("vault B balance: %w", err)
	}
	return Reserves{A: a, B: b, Slot: min(slotA, slotB)}, nil
}
