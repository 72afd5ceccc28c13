package quote

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// SwapSpec is one requested leg: swap Amount (raw units) of InputMint into OutputMint.
type SwapSpec struct {
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	Amount         uint64
	MaxSlippageBps uint16
}

// Validate rejects specs that can never be executed.
func (s SwapSpec) Validate() error {
	if s.InputMint.IsZero() || s.OutputMint.IsZero() {
		return fmt.Errorf("input and output mint are required")
	}
	if s.InputMint.Equals(s.OutputMint) {
		return fmt.Errorf("input and output mint must differ")
	}
	if s.MaxSlippageBps > 10000 {
		return fmt.Errorf("slippage %d bps exceeds 10000", s.MaxSlippageBps)
	}
	return nil
}

// Skippable reports whether the leg carries nothing to swap.
func (s SwapSpec) Skippable() bool { return s.Amount == 0 }

func (s SwapSpec) String() string {
	return fmt.Sprintf("%s->%s amount=%d slippage=%dbps", s.InputMint, s.OutputMint, s.Amount, s.MaxSlippageBps)
}

// AccountMeta is a provider-supplied account reference.
type AccountMeta struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a raw provider instruction descriptor.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// Quote is the provider-independent route for one leg.
type Quote struct {
	Provider   string
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64

	SlippageBps  uint16
	Instructions []Instruction
	LookupTables []solana.PublicKey

	// Zero values mean "no expiry" for the respective dimension.
	ExpiresAt     time.Time
	ExpiresAtSlot uint64
	ContextSlot   uint64
	QuotedAt      time.Time
}

// MinOut is the slippage-adjusted minimum output of the quote.
func (q *Quote) MinOut() uint64 {
	return MinOut(q.OutAmount, q.SlippageBps)
}

// Stale reports whether the quote must no longer be built. currentSlot of zero skips
// the slot check.
func (q *Quote) Stale(now time.Time, currentSlot uint64) bool {
	if !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt) {
		return true
	}
	if q.ExpiresAtSlot > 0 && currentSlot > q.ExpiresAtSlot {
		return true
	}
	return false
}

// HasSlotExpiry reports whether staleness depends on the chain slot.
func (q *Quote) HasSlotExpiry() bool { return q.ExpiresAtSlot > 0 }

// Spec re-derives a leg spec from the quote, committing the quote's original input.
func (q *Quote) Spec() SwapSpec {
	return SwapSpec{
		InputMint:      q.InputMint,
		OutputMint:     q.OutputMint,
		Amount:         q.InAmount,
		MaxSlippageBps: q.SlippageBps,
	}
}
