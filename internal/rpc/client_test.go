package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newFakeRPC serves JSON-RPC methods from a handler table and records call counts.
func newFakeRPC(t *testing.T, handlers map[string]func(params []json.RawMessage) any) (*httptest.Server, map[string]*int32) {
	t.Helper()
	calls := map[string]*int32{}
	for m := range handlers {
		calls[m] = new(int32)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": 1,
				"error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		atomic.AddInt32(calls[req.Method], 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": h(req.Params)})
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{BaseURL: url, Timeout: 2 * time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond})
}

func TestCall_RetriesTransientStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":42}`))
	}))
	defer srv.Close()

	slot, err := newTestClient(srv.URL).GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), slot)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestCall_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetSlot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestInvoke_SurfacesRPCError(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{})

	_, err := newTestClient(srv.URL).GetBlockHeight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestGetLatestBlockhash(t *testing.T) {
	hash := solana.Hash{1, 2, 3, 4}
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getLatestBlockhash": func([]json.RawMessage) any {
			return map[string]any{"value": map[string]any{
				"blockhash":            hash.String(),
				"lastValidBlockHeight": 1234,
			}}
		},
	})

	bh, err := newTestClient(srv.URL).GetLatestBlockhash(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, hash, bh.Hash)
	assert.Equal(t, uint64(1234), bh.LastValidBlockHeight)
}

func TestGetSignatureStatus(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getSignatureStatuses": func(params []json.RawMessage) any {
			var sigs []string
			_ = json.Unmarshal(params[0], &sigs)
			if sigs[0] == "unknown" {
				return map[string]any{"value": []any{nil}}
			}
			return map[string]any{"value": []any{map[string]any{
				"slot": 99, "err": map[string]any{"InstructionError": []any{0, "Custom"}},
				"confirmationStatus": "confirmed",
			}}}
		},
	})
	c := newTestClient(srv.URL)

	st, err := c.GetSignatureStatus(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = c.GetSignatureStatus(context.Background(), "failed")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Failed())
	assert.Equal(t, uint64(99), st.Slot)
}

func TestGetAccountData_NotFound(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getAccountInfo": func([]json.RawMessage) any { return map[string]any{"value": nil} },
	})

	_, err := newTestClient(srv.URL).GetAccountData(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func tokenAccountJSON(mint, owner string, lamports uint64, amount string) map[string]any {
	return map[string]any{
		"lamports": lamports,
		"owner":    "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"data": map[string]any{
			"program": "spl-token",
			"parsed": map[string]any{
				"type": "account",
				"info": map[string]any{
					"mint":        mint,
					"owner":       owner,
					"tokenAmount": map[string]any{"amount": amount, "decimals": 6},
				},
			},
		},
	}
}

func TestSimulateWithBalances(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	usdcAcct := solana.NewWallet().PublicKey()
	newAta := solana.NewWallet().PublicKey()
	usdc := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	bonk := "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

	var simAddresses []string
	srv, calls := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getBalance": func([]json.RawMessage) any { return map[string]any{"value": 5_000_000_000} },
		"getTokenAccountsByOwner": func(params []json.RawMessage) any {
			var program map[string]string
			_ = json.Unmarshal(params[1], &program)
			if program["programId"] != "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" {
				return map[string]any{"value": []any{}}
			}
			return map[string]any{"value": []any{map[string]any{
				"pubkey":  usdcAcct.String(),
				"account": tokenAccountJSON(usdc, owner.String(), 2_039_280, "1000"),
			}}}
		},
		"simulateTransaction": func(params []json.RawMessage) any {
			var cfg struct {
				SigVerify              bool `json:"sigVerify"`
				ReplaceRecentBlockhash bool `json:"replaceRecentBlockhash"`
				Accounts               struct {
					Addresses []string `json:"addresses"`
				} `json:"accounts"`
			}
			_ = json.Unmarshal(params[1], &cfg)
			assert.False(t, cfg.SigVerify)
			assert.True(t, cfg.ReplaceRecentBlockhash)
			simAddresses = cfg.Accounts.Addresses

			return map[string]any{"value": map[string]any{
				"err":           nil,
				"logs":          []string{"Program log: ok"},
				"unitsConsumed": 120_000,
				"accounts": []any{
					map[string]any{"lamports": 4_990_000_000, "owner": "11111111111111111111111111111111", "data": []string{"", "base64"}},
					tokenAccountJSON(usdc, owner.String(), 2_039_280, "1500"),
					tokenAccountJSON(bonk, owner.String(), 2_039_280, "777"),
				},
			}}
		},
	})

	snap, err := newTestClient(srv.URL).SimulateWithBalances(
		context.Background(), []byte{1, 2, 3}, owner, []solana.PublicKey{newAta, usdcAcct},
	)
	require.NoError(t, err)
	assert.False(t, snap.Failed())
	assert.Equal(t, []string{owner.String(), usdcAcct.String(), newAta.String()}, simAddresses)
	assert.Equal(t, []uint64{5_000_000_000, 2_039_280, 0}, snap.PreBalances)
	assert.Equal(t, []uint64{4_990_000_000, 2_039_280, 2_039_280}, snap.PostBalances)
	require.Len(t, snap.PreTokenBalances, 1)
	assert.Equal(t, "1000", snap.PreTokenBalances[0].UITokenAmount.Amount)
	require.Len(t, snap.PostTokenBalances, 2)
	assert.Equal(t, 2, snap.PostTokenBalances[1].AccountIndex)
	assert.Equal(t, bonk, snap.PostTokenBalances[1].Mint)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls["getTokenAccountsByOwner"]))
}

func TestSimulateWithBalances_RevertSkipsPostState(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getBalance":              func([]json.RawMessage) any { return map[string]any{"value": 10} },
		"getTokenAccountsByOwner": func([]json.RawMessage) any { return map[string]any{"value": []any{}} },
		"simulateTransaction": func([]json.RawMessage) any {
			return map[string]any{"value": map[string]any{
				"err":      map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6001}}},
				"logs":     []string{"Program log: slippage exceeded"},
				"accounts": nil,
			}}
		},
	})

	snap, err := newTestClient(srv.URL).SimulateWithBalances(context.Background(), []byte{1}, owner, nil)
	require.NoError(t, err)
	assert.True(t, snap.Failed())
	assert.Equal(t, []string{"Program log: slippage exceeded"}, snap.Logs)
	assert.Equal(t, []uint64{0}, snap.PostBalances)
}

func TestGetTokenAccountBalance(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	srv, _ := newFakeRPC(t, map[string]func([]json.RawMessage) any{
		"getTokenAccountBalance": func(params []json.RawMessage) any {
			var account string
			_ = json.Unmarshal(params[0], &account)
			if account != vault.String() {
				return map[string]any{"context": map[string]any{"slot": 1}, "value": map[string]any{"amount": "oops"}}
			}
			return map[string]any{
				"context": map[string]any{"slot": 777},
				"value":   map[string]any{"amount": "123456789", "decimals": 6, "uiAmountString": "123.456789"},
			}
		},
	})
	c := newTestClient(srv.URL)

	amount, slot, err := c.GetTokenAccountBalance(context.Background(), vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456_789), amount)
	assert.Equal(t, uint64(777), slot)

	_, _, err = c.GetTokenAccountBalance(context.Background(), solana.NewWallet().PublicKey())
	assert.Error(t, err)
}
