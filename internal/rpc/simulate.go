package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

var tokenPrograms = []solana.PublicKey{
	solana.MustPublicKeyFromBase58(constants.ProgramAddresses["Token"]),
	solana.MustPublicKeyFromBase58(constants.ProgramAddresses["Token2022"]),
}

// SimulateWithBalances dry-runs a serialized transaction and captures balances of the
// owner, every token account it holds, and any extra watched accounts (typically
// associated token accounts the transaction may create).
//
// Pre-state is read with getBalance/getTokenAccountsByOwner immediately before the
// simulation; post-state comes from the simulation's accounts option.
func (c *Client) SimulateWithBalances(
	ctx context.Context,
	rawTx []byte,
	owner solana.PublicKey,
	watch []solana.PublicKey,
) (*SimulationSnapshot, error) {

	ownerLamports, err := c.GetBalance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("pre balance: %w", err)
	}

	keys := []string{owner.String()}
	seen := map[string]int{owner.String(): 0}
	pre := []uint64{ownerLamports}
	var preTokens []TokenBalance

	for _, program := range tokenPrograms {
		accts, err := c.GetTokenAccountsByOwner(ctx, owner, program)
		if err != nil {
			return nil, fmt.Errorf("pre token balances: %w", err)
		}
		for _, a := range accts {
			if _, dup := seen[a.Pubkey]; dup {
				continue
			}
			idx := len(keys)
			seen[a.Pubkey] = idx
			keys = append(keys, a.Pubkey)
			pre = append(pre, a.Lamports)
			preTokens = append(preTokens, TokenBalance{
				AccountIndex:  idx,
				Mint:          a.Mint,
				Owner:         a.Owner,
				UITokenAmount: TokenAmount{Amount: a.Amount},
			})
		}
	}

	for _, w := range watch {
		if _, dup := seen[w.String()]; dup {
			continue
		}
		seen[w.String()] = len(keys)
		keys = append(keys, w.String())
		pre = append(pre, 0)
	}

	res, err := invoke[struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			Accounts      []*accountState `json:"accounts"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}](ctx, c, "simulateTransaction", []any{
		base64.StdEncoding.EncodeToString(rawTx),
		map[string]any{
			"encoding":               "base64",
			"commitment":             "processed",
			"sigVerify":              false,
			"replaceRecentBlockhash": true,
			"accounts": map[string]any{
				"encoding":  "jsonParsed",
				"addresses": keys,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	snap := &SimulationSnapshot{
		Err:              res.Value.Err,
		Logs:             res.Value.Logs,
		UnitsConsumed:    res.Value.UnitsConsumed,
		AccountKeys:      keys,
		PreBalances:      pre,
		PostBalances:     make([]uint64, len(keys)),
		PreTokenBalances: preTokens,
	}

	// A reverted simulation returns no account states.
	if snap.Failed() {
		return snap, nil
	}

	if len(res.Value.Accounts) != len(keys) {
		c.logger.WithFields(logrus.Fields{
			"requested": len(keys),
			"returned":  len(res.Value.Accounts),
		}).Warn("simulation returned unexpected account count")
	}

	for i, acct := range res.Value.Accounts {
		if i >= len(keys) || acct == nil {
			continue
		}
		snap.PostBalances[i] = acct.Lamports
		if d, ok := acct.tokenData(); ok {
			snap.PostTokenBalances = append(snap.PostTokenBalances, TokenBalance{
				AccountIndex:  i,
				Mint:          d.Parsed.Info.Mint,
				Owner:         d.Parsed.Info.Owner,
				UITokenAmount: d.Parsed.Info.TokenAmount,
			})
		}
	}

	return snap, nil
}
