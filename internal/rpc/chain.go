package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound is returned when getAccountInfo yields a null value.
var ErrAccountNotFound = errors.New("account not found")

// GetLatestBlockhash fetches the most recent blockhash with commitment level
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment string) (*Blockhash, error) {
	if commitment == "" {
		commitment = "confirmed"
	}

	type value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	res, err := invoke[struct {
		Value value `json:"value"`
	}](ctx, c, "getLatestBlockhash", []any{map[string]any{"commitment": commitment}})
	if err != nil {
		return nil, err
	}

	hash, err := solana.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("invalid blockhash format: %w", err)
	}
	return &Blockhash{Hash: hash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

// GetSlot returns the current processed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	return invoke[uint64](ctx, c, "getSlot", []any{map[string]any{"commitment": "processed"}})
}

// GetBlockHeight returns the current confirmed block height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	return invoke[uint64](ctx, c, "getBlockHeight", []any{map[string]any{"commitment": "confirmed"}})
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	res, err := invoke[struct {
		Value uint64 `json:"value"`
	}](ctx, c, "getBalance", []any{pubkey.String(), map[string]any{"commitment": "processed"}})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// GetTokenAccountBalance returns a token account's raw amount and the slot it was
// read at.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (amount, slot uint64, err error) {
	res, err := invoke[struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value TokenAmount `json:"value"`
	}](ctx, c, "getTokenAccountBalance", []any{account.String(), map[string]any{"commitment": "processed"}})
	if err != nil {
		return 0, 0, err
	}
	amount, err = strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid amount %q for %s: %w", res.Value.Amount, account, err)
	}
	return amount, res.Context.Slot, nil
}

// GetAccountData returns the raw data of an account.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	res, err := invoke[struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}](ctx, c, "getAccountInfo", []any{
		pubkey.String(),
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("%s: %w", pubkey, ErrAccountNotFound)
	}
	if len(res.Value.Data) == 0 {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return raw, nil
}

// GetTokenAccountsByOwner lists the owner's token accounts under one token program.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, programID solana.PublicKey) ([]TokenAccount, error) {
	res, err := invoke[struct {
		Value []struct {
			Pubkey  string       `json:"pubkey"`
			Account accountState `json:"account"`
		} `json:"value"`
	}](ctx, c, "getTokenAccountsByOwner", []any{
		owner.String(),
		map[string]any{"programId": programID.String()},
		map[string]any{"encoding": "jsonParsed", "commitment": "processed"},
	})
	if err != nil {
		return nil, err
	}

	out := make([]TokenAccount, 0, len(res.Value))
	for _, v := range res.Value {
		d, ok := v.Account.tokenData()
		if !ok {
			continue
		}
		out = append(out, TokenAccount{
			Pubkey:   v.Pubkey,
			Lamports: v.Account.Lamports,
			Mint:     d.Parsed.Info.Mint,
			Owner:    d.Parsed.Info.Owner,
			Amount:   d.Parsed.Info.TokenAmount.Amount,
		})
	}
	return out, nil
}

// GetSignatureStatus returns the status of one signature, or nil when the cluster
// has not seen it.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	res, err := invoke[struct {
		Value []*SignatureStatus `json:"value"`
	}](ctx, c, "getSignatureStatuses", []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// GetRecentPrioritizationFees returns the per-slot minimum fees (micro-lamports per
// compute unit) observed for transactions touching the given accounts.
func (c *Client) GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error) {
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.String()
	}

	res, err := invoke[[]struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}](ctx, c, "getRecentPrioritizationFees", []any{addrs})
	if err != nil {
		return nil, err
	}

	fees := make([]uint64, len(res))
	for i, f := range res {
		fees[i] = f.PrioritizationFee
	}
	return fees, nil
}

// SendTransaction submits a signed, serialized transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, raw []byte, opts *SendOptions) (string, error) {
	if opts == nil {
		defaultOpts := DefaultSendOptions()
		opts = &defaultOpts
	}

	cfg := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": opts.PreflightCommitment,
	}
	if opts.MaxRetries != nil {
		cfg["maxRetries"] = *opts.MaxRetries
	}

	return invoke[string](ctx, c, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(raw),
		cfg,
	})
}
