package orca

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdtMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

func newKey() string { return solana.NewWallet().PublicKey().String() }

func solUsdcConfig() PoolConfig {
	return PoolConfig{
		Name:           "SOL/USDC",
		SwapAccount:    newKey(),
		Authority:      newKey(),
		TokenMintA:     solMint,
		TokenMintB:     usdcMint,
		VaultA:         newKey(),
		VaultB:         newKey(),
		PoolMint:       newKey(),
		FeeAccount:     newKey(),
		FeeNumerator:   25,
		FeeDenominator: 10000,
	}
}

type fakeVaults struct {
	balances map[solana.PublicKey]uint64
	slot     uint64
	err      error
}

func (f *fakeVaults) GetTokenAccountBalance(_ context.Context, account solana.PublicKey) (uint64, uint64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.balances[account], f.slot, nil
}

func newTestProvider(t *testing.T, opts ...ProviderOption) (*Provider, *Pool, solana.PublicKey) {
	t.Helper()
	reg, err := NewRegistry([]PoolConfig{solUsdcConfig()})
	require.NoError(t, err)
	pool, ok := reg.FindByMints(solana.MustPublicKeyFromBase58(solMint), solana.MustPublicKeyFromBase58(usdcMint))
	require.True(t, ok)

	vaults := &fakeVaults{
		balances: map[solana.PublicKey]uint64{
			pool.VaultA: 1_000_000_000_000, // 1000 SOL
			pool.VaultB: 150_000_000_000,   // 150k USDC
		},
		slot: 1000,
	}
	user := solana.NewWallet().PublicKey()
	fixed := time.Unix(1_700_000_000, 0)
	opts = append([]ProviderOption{WithClock(func() time.Time { return fixed })}, opts...)
	return NewProvider(reg, vaults, user, opts...), pool, user
}

func TestSwapOutput(t *testing.T) {
	out, impact, err := SwapOutput(1_000_000, 1_000_000_000, 1_000_000_000, 30, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(996006), out)
	assert.InDelta(t, 0.004, impact, 0.0001)

	_, _, err = SwapOutput(0, 1, 1, 30, 10000)
	assert.Error(t, err)
	_, _, err = SwapOutput(1, 1, 1, 10000, 10000)
	assert.Error(t, err)
}

func TestCheckPriceImpact(t *testing.T) {
	assert.NoError(t, CheckPriceImpact(0.01, 100))
	assert.Error(t, CheckPriceImpact(0.0101, 100))
	assert.NoError(t, CheckPriceImpact(0.9, 0))
}

func TestRegistry(t *testing.T) {
	cfg := solUsdcConfig()
	reg, err := NewRegistry([]PoolConfig{cfg})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	sol := solana.MustPublicKeyFromBase58(solMint)
	usdc := solana.MustPublicKeyFromBase58(usdcMint)
	usdt := solana.MustPublicKeyFromBase58(usdtMint)

	pool, ok := reg.FindByMints(usdc, sol)
	require.True(t, ok)
	assert.Equal(t, LegacyProgramID, pool.ProgramID.String())
	assert.Equal(t, uint16(25), pool.FeeBps())

	aToB, err := pool.Direction(sol)
	require.NoError(t, err)
	assert.True(t, aToB)
	aToB, err = pool.Direction(usdc)
	require.NoError(t, err)
	assert.False(t, aToB)
	_, err = pool.Direction(usdt)
	assert.Error(t, err)

	_, ok = reg.FindByMints(sol, usdt)
	assert.False(t, ok)
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	badKey := solUsdcConfig()
	badKey.VaultA = "not-a-key"
	_, err := NewRegistry([]PoolConfig{badKey})
	assert.ErrorContains(t, err, "vault_a")

	badFee := solUsdcConfig()
	badFee.FeeDenominator = 0
	_, err = NewRegistry([]PoolConfig{badFee})
	assert.Error(t, err)

	sameMint := solUsdcConfig()
	sameMint.TokenMintB = solMint
	_, err = NewRegistry([]PoolConfig{sameMint})
	assert.Error(t, err)
}

func TestLoadRegistry(t *testing.T) {
	cfg := solUsdcConfig()
	cfg.HostFeeAccount = newKey()
	data, err := json.Marshal([]PoolConfig{cfg})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestProviderQuoteNativeIn(t *testing.T) {
	p, pool, user := newTestProvider(t)
	spec := quote.SwapSpec{
		InputMint:      solana.MustPublicKeyFromBase58(solMint),
		OutputMint:     solana.MustPublicKeyFromBase58(usdcMint),
		Amount:         1_000_000_000,
		MaxSlippageBps: 50,
	}

	q, err := p.Quote(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "orca", q.Provider)
	assert.Equal(t, uint64(1_000_000_000), q.InAmount)
	assert.Equal(t, uint64(149475897), q.OutAmount)
	assert.Equal(t, uint16(50), q.SlippageBps)
	assert.Equal(t, uint64(1000), q.ContextSlot)
	assert.Equal(t, uint64(1050), q.ExpiresAtSlot)
	assert.Equal(t, q.QuotedAt.Add(20*time.Second), q.ExpiresAt)
	assert.Empty(t, q.LookupTables)

	// create wSOL, wrap, sync, create USDC ATA, swap, close wSOL
	require.Len(t, q.Instructions, 6)
	assert.Equal(t, associatedTokenProgramID, q.Instructions[0].ProgramID)
	assert.Equal(t, solana.SystemProgramID, q.Instructions[1].ProgramID)
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(q.Instructions[1].Data[4:12]))
	assert.Equal(t, []byte{tokenSyncNative}, q.Instructions[2].Data)
	assert.Equal(t, []byte{tokenCloseAccount}, q.Instructions[5].Data)

	swap := q.Instructions[4]
	assert.Equal(t, pool.ProgramID, swap.ProgramID)
	assert.Equal(t, byte(swapDiscriminator), swap.Data[0])
	assert.Equal(t, spec.Amount, binary.LittleEndian.Uint64(swap.Data[1:9]))
	assert.Equal(t, q.MinOut(), binary.LittleEndian.Uint64(swap.Data[9:17]))
	require.Len(t, swap.Accounts, 10)
	assert.Equal(t, user, swap.Accounts[2].Pubkey)
	assert.True(t, swap.Accounts[2].IsSigner)
	assert.Equal(t, pool.VaultA, swap.Accounts[4].Pubkey)
	assert.Equal(t, pool.VaultB, swap.Accounts[5].Pubkey)
}

func TestProviderQuoteReverseDirection(t *testing.T) {
	p, pool, _ := newTestProvider(t)
	q, err := p.Quote(context.Background(), quote.SwapSpec{
		InputMint:      solana.MustPublicKeyFromBase58(usdcMint),
		OutputMint:     solana.MustPublicKeyFromBase58(solMint),
		Amount:         150_000_000,
		MaxSlippageBps: 100,
	})
	require.NoError(t, err)

	// create wSOL ATA, swap, close wSOL
	require.Len(t, q.Instructions, 3)
	swap := q.Instructions[1]
	assert.Equal(t, pool.VaultB, swap.Accounts[4].Pubkey)
	assert.Equal(t, pool.VaultA, swap.Accounts[5].Pubkey)
	assert.Equal(t, []byte{tokenCloseAccount}, q.Instructions[2].Data)
}

func TestProviderNoRoute(t *testing.T) {
	p, _, _ := newTestProvider(t)
	_, err := p.Quote(context.Background(), quote.SwapSpec{
		InputMint:  solana.MustPublicKeyFromBase58(usdcMint),
		OutputMint: solana.MustPublicKeyFromBase58(usdtMint),
		Amount:     1_000_000,
	})
	assert.ErrorIs(t, err, quote.ErrNoRoute)
}

func TestProviderRejectsPriceImpact(t *testing.T) {
	p, _, _ := newTestProvider(t, WithMaxPriceImpact(100))
	_, err := p.Quote(context.Background(), quote.SwapSpec{
		InputMint:  solana.MustPublicKeyFromBase58(solMint),
		OutputMint: solana.MustPublicKeyFromBase58(usdcMint),
		Amount:     100_000_000_000, // 10% of the pool
	})
	assert.ErrorIs(t, err, quote.ErrNoRoute)
	assert.ErrorContains(t, err, "price impact")
}

func TestProviderVaultError(t *testing.T) {
	reg, err := NewRegistry([]PoolConfig{solUsdcConfig()})
	require.NoError(t, err)
	p := NewProvider(reg, &fakeVaults{err: errors.New("rpc down")}, solana.NewWallet().PublicKey())

	_, err = p.Quote(context.Background(), quote.SwapSpec{
		InputMint:  solana.MustPublicKeyFromBase58(solMint),
		OutputMint: solana.MustPublicKeyFromBase58(usdcMint),
		Amount:     1_000_000,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, quote.ErrNoRoute)
	assert.ErrorContains(t, err, "rpc down")
}
