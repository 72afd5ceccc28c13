package txbuilder

import (
	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
)

var (
	computeBudgetProgramID   = solana.MustPublicKeyFromBase58(constants.ProgramAddresses["ComputeBudget"])
	token2022ProgramID       = solana.MustPublicKeyFromBase58(constants.ProgramAddresses["Token2022"])
	associatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// Budget is the compute-budget policy for one transaction. Zero fields are omitted.
type Budget struct {
	UnitLimit uint32
	UnitPrice uint64 // micro-lamports per compute unit
}

func (b Budget) Enabled() bool { return b.UnitLimit > 0 || b.UnitPrice > 0 }

func budgetInstructions(b Budget) []solana.Instruction {
	var out []solana.Instruction
	if b.UnitLimit > 0 {
		out = append(out, computebudget.NewSetComputeUnitLimitInstructionBuilder().SetUnits(b.UnitLimit).Build())
	}
	if b.UnitPrice > 0 {
		out = append(out, computebudget.NewSetComputeUnitPriceInstructionBuilder().SetMicroLamports(b.UnitPrice).Build())
	}
	return out
}

// IsComputeBudget reports whether the instruction targets the ComputeBudget program.
func IsComputeBudget(ix quote.Instruction) bool {
	return ix.ProgramID.Equals(computeBudgetProgramID)
}

// translate converts provider descriptors to native instructions, dropping any
// compute-budget instructions the provider injected.
func translate(in []quote.Instruction) ([]solana.Instruction, int) {
	out := make([]solana.Instruction, 0, len(in))
	dropped := 0
	for _, ix := range in {
		if IsComputeBudget(ix) {
			dropped++
			continue
		}
		metas := make(solana.AccountMetaSlice, len(ix.Accounts))
		for i, a := range ix.Accounts {
			metas[i] = &solana.AccountMeta{PublicKey: a.Pubkey, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
		}
		out = append(out, solana.NewInstruction(ix.ProgramID, metas, ix.Data))
	}
	return out, dropped
}

func tipInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// AssociatedTokenAddress derives the owner's ATA for mint under the given token
// program (legacy SPL Token when tokenProgram is zero).
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	if tokenProgram.IsZero() {
		tokenProgram = solana.TokenProgramID
	}
	ata, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		associatedTokenProgramID,
	)
	return ata, err
}

// WatchAccounts returns the owner's ATAs for mint under both token programs, so a
// dry run can report balances of accounts the transaction itself creates.
func WatchAccounts(owner, mint solana.PublicKey) []solana.PublicKey {
	var out []solana.PublicKey
	for _, program := range []solana.PublicKey{solana.TokenProgramID, token2022ProgramID} {
		if ata, err := AssociatedTokenAddress(owner, mint, program); err == nil {
			out = append(out, ata)
		}
	}
	return out
}
