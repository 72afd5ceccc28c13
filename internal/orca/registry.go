package orca

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// LegacyProgramID is the Orca legacy constant-product swap program.
const LegacyProgramID = "9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP"

// PoolConfig is one pool entry in the JSON registry file.
type PoolConfig struct {
	Name           string `json:"name"`
	ProgramID      string `json:"program_id"`
	SwapAccount    string `json:"swap_account"`
	Authority      string `json:"authority"`
	TokenMintA     string `json:"token_mint_a"`
	TokenMintB     string `json:"token_mint_b"`
	VaultA         string `json:"vault_a"`
	VaultB         string `json:"vault_b"`
	PoolMint       string `json:"pool_mint"`
	FeeAccount     string `json:"fee_account"`
	HostFeeAccount string `json:"host_fee_account,omitempty"`
	FeeNumerator   uint64 `json:"fee_numerator"`
	FeeDenominator uint64 `json:"fee_denominator"`
}

// Pool is a parsed, ready-to-use pool.
type Pool struct {
	Name           string
	ProgramID      solana.PublicKey
	SwapAccount    solana.PublicKey
	Authority      solana.PublicKey
	TokenMintA     solana.PublicKey
	TokenMintB     solana.PublicKey
	VaultA         solana.PublicKey
	VaultB         solana.PublicKey
	PoolMint       solana.PublicKey
	FeeAccount     solana.PublicKey
	HostFeeAccount *solana.PublicKey
	FeeNumerator   uint64
	FeeDenominator uint64
}

// Direction reports whether swapping inputMint through the pool is A->B.
func (p *Pool) Direction(inputMint solana.PublicKey) (aToB bool, err error) {
	if p.TokenMintA.Equals(inputMint) {
		return true, nil
	}
	if p.TokenMintB.Equals(inputMint) {
		return false, nil
	}
	return false, fmt.Errorf("input mint %s does not match pool %s", inputMint, p.Name)
}

// FeeBps converts the pool's fee fraction to basis points.
func (p *Pool) FeeBps() uint16 {
	if p.FeeDenominator == 0 {
		return 0
	}
	return uint16((p.FeeNumerator * 10000) / p.FeeDenominator)
}

// Registry holds the configured pools.
type Registry struct {
	pools []Pool
}

// LoadRegistry reads pools from a JSON file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool config: %w", err)
	}

	var configs []PoolConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	return NewRegistry(configs)
}

// NewRegistry validates and parses pool configs.
func NewRegistry(configs []PoolConfig) (*Registry, error) {
	pools := make([]Pool, 0, len(configs))
	for i, cfg := range configs {
		pool, err := parsePoolConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("pool %d (%s): %w", i, cfg.Name, err)
		}
		pools = append(pools, pool)
	}
	return &Registry{pools: pools}, nil
}

func parsePoolConfig(cfg PoolConfig) (Pool, error) {
	if cfg.FeeDenominator == 0 || cfg.FeeNumerator >= cfg.FeeDenominator {
		return Pool{}, fmt.Errorf("fee %d/%d is invalid", cfg.FeeNumerator, cfg.FeeDenominator)
	}
	if cfg.ProgramID == "" {
		cfg.ProgramID = LegacyProgramID
	}

	pool := Pool{Name: cfg.Name, FeeNumerator: cfg.FeeNumerator, FeeDenominator: cfg.FeeDenominator}
	fields := []struct {
		name string
		in   string
		out  *solana.PublicKey
	}{
		{"program_id", cfg.ProgramID, &pool.ProgramID},
		{"swap_account", cfg.SwapAccount, &pool.SwapAccount},
		{"authority", cfg.Authority, &pool.Authority},
		{"token_mint_a", cfg.TokenMintA, &pool.TokenMintA},
		{"token_mint_b", cfg.TokenMintB, &pool.TokenMintB},
		{"vault_a", cfg.VaultA, &pool.VaultA},
		{"vault_b", cfg.VaultB, &pool.VaultB},
		{"pool_mint", cfg.PoolMint, &pool.PoolMint},
		{"fee_account", cfg.FeeAccount, &pool.FeeAccount},
	}
	for _, f := range fields {
		pk, err := solana.PublicKeyFromBase58(f.in)
		if err != nil {
			return Pool{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = pk
	}
	if pool.TokenMintA.Equals(pool.TokenMintB) {
		return Pool{}, fmt.Errorf("token mints must differ")
	}

	if cfg.HostFeeAccount != "" {
		hostFee, err := solana.PublicKeyFromBase58(cfg.HostFeeAccount)
		if err != nil {
			return Pool{}, fmt.Errorf("host_fee_account: %w", err)
		}
		pool.HostFeeAccount = &hostFee
	}
	return pool, nil
}

// FindByMints returns the pool trading the pair in either direction.
func (r *Registry) FindByMints(mintA, mintB solana.PublicKey) (*Pool, bool) {
	for i := range r.pools {
		pool := &r.pools[i]
		if (pool.TokenMintA.Equals(mintA) && pool.TokenMintB.Equals(mintB)) ||
			(pool.TokenMintA.Equals(mintB) && pool.TokenMintB.Equals(mintA)) {
			return pool, true
		}
	}
	return nil, false
}

// Len returns the number of registered pools.
func (r *Registry) Len() int { return len(r.pools) }
