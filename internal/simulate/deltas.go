package simulate

import (
	"fmt"
	"math/big"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
	"github.com/gagliardetto/solana-go"
)

// NativeMint keys the native gas asset in delta maps. Wrapped SOL held by the owner
// is folded into the same entry.
var NativeMint = constants.TokenMints["SOL"]

// Deltas holds per-mint balance changes for one owner.
type Deltas struct {
	PerMint map[string]*big.Int
	// NativeWithdrawn is the native delta net of the rent reserve, clamped at zero.
	NativeWithdrawn *big.Int
}

// ComputeDeltas derives post-minus-pre balances for owner from a snapshot. Accounts
// not owned by owner are ignored, missing post entries count as zero, and reserve is
// subtracted from the native delta before it is read as an amount withdrawn.
func ComputeDeltas(snap *rpc.SimulationSnapshot, owner solana.PublicKey, reserve uint64) (Deltas, error) {
	out := Deltas{PerMint: map[string]*big.Int{}, NativeWithdrawn: new(big.Int)}
	if snap == nil {
		return out, fmt.Errorf("nil simulation snapshot")
	}
	if len(snap.PreBalances) != len(snap.AccountKeys) {
		return out, fmt.Errorf("snapshot has %d keys but %d pre balances", len(snap.AccountKeys), len(snap.PreBalances))
	}

	ownerStr := owner.String()
	native := new(big.Int)
	for i, key := range snap.AccountKeys {
		if key != ownerStr {
			continue
		}
		var post uint64
		if i < len(snap.PostBalances) {
			post = snap.PostBalances[i]
		}
		native.Add(native, diff(snap.PreBalances[i], post))
	}

	tokens := map[string]*big.Int{}
	if err := accumulate(tokens, snap.PreTokenBalances, ownerStr, -1); err != nil {
		return out, err
	}
	if err := accumulate(tokens, snap.PostTokenBalances, ownerStr, 1); err != nil {
		return out, err
	}

	if w, ok := tokens[NativeMint]; ok {
		native.Add(native, w)
		delete(tokens, NativeMint)
	}
	for mint, v := range tokens {
		if v.Sign() != 0 {
			out.PerMint[mint] = v
		}
	}
	if native.Sign() != 0 {
		out.PerMint[NativeMint] = native
	}

	withdrawn := new(big.Int).Sub(native, new(big.Int).SetUint64(reserve))
	if withdrawn.Sign() > 0 {
		out.NativeWithdrawn = withdrawn
	}
	return out, nil
}

func diff(pre, post uint64) *big.Int {
	return new(big.Int).Sub(new(big.Int).SetUint64(post), new(big.Int).SetUint64(pre))
}

func accumulate(into map[string]*big.Int, balances []rpc.TokenBalance, owner string, sign int) error {
	for _, b := range balances {
		if b.Owner != owner {
			continue
		}
		amt, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
		if !ok {
			return fmt.Errorf("invalid token amount %q for mint %s", b.UITokenAmount.Amount, b.Mint)
		}
		if sign < 0 {
			amt.Neg(amt)
		}
		cur, exists := into[b.Mint]
		if !exists {
			cur = new(big.Int)
			into[b.Mint] = cur
		}
		cur.Add(cur, amt)
	}
	return nil
}
