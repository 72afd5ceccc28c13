package routeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	solMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	owner    = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
)

func TestQuote_SingleCall(t *testing.T) {
	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("authorization"))

		var req QuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2500", req.Amount)
		assert.Equal(t, uint16(30), req.SlippageBps)
		assert.Equal(t, owner.String(), req.UserPublicKey)

		_ = json.NewEncoder(w).Encode(QuoteResponse{
			InputMint:   req.InputMint,
			OutputMint:  req.OutputMint,
			InAmount:    req.Amount,
			OutAmount:   "375",
			SlippageBps: req.SlippageBps,
			Instructions: []Instruction{{
				Program:  solana.SystemProgramID.String(),
				Accounts: []Account{{Pubkey: owner.String(), Signer: true, Writable: true}},
				Data:     "AQID",
			}},
			AddressLookupTables: []string{solana.TokenProgramID.String()},
			ExpiresAt:           expires.UnixMilli(),
			ExpiresAtSlot:       9000,
			ContextSlot:         8950,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", owner).WithRateLimit(50, 2)
	q, err := c.Quote(context.Background(), quote.SwapSpec{InputMint: solMint, OutputMint: usdcMint, Amount: 2500, MaxSlippageBps: 30})
	require.NoError(t, err)

	assert.Equal(t, "routeapi", q.Provider)
	assert.Equal(t, uint64(2500), q.InAmount)
	assert.Equal(t, uint64(375), q.OutAmount)
	assert.True(t, q.ExpiresAt.Equal(expires))
	assert.Equal(t, uint64(9000), q.ExpiresAtSlot)
	assert.True(t, q.HasSlotExpiry())
	require.Len(t, q.Instructions, 1)
	assert.Equal(t, []byte{1, 2, 3}, q.Instructions[0].Data)
	assert.Equal(t, []solana.PublicKey{solana.TokenProgramID}, q.LookupTables)
}

func TestQuote_NotFoundIsNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", owner).Quote(context.Background(), quote.SwapSpec{InputMint: solMint, OutputMint: usdcMint, Amount: 1})
	assert.ErrorIs(t, err, quote.ErrNoRoute)
}

func TestQuote_ServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream","message":"pool state unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", owner).Quote(context.Background(), quote.SwapSpec{InputMint: solMint, OutputMint: usdcMint, Amount: 1})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "pool state unavailable", httpErr.Message)
}

func TestQuote_Unconfigured(t *testing.T) {
	_, err := NewClient("", "", owner).Quote(context.Background(), quote.SwapSpec{InputMint: solMint, OutputMint: usdcMint, Amount: 1})
	assert.Error(t, err)
}
