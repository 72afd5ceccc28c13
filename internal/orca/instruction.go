package orca

import (
	"encoding/binary"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
)

var associatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

// SPL Token instruction tags.
const (
	tokenCloseAccount = 9
	tokenSyncNative   = 17

	swapDiscriminator = 1
	ataIdempotent     = 1
	systemTransferTag = 2
)

// swapInstruction encodes an SPL Token Swap "Swap" against the pool.
//
// Account order: swap state, authority, user transfer authority (signer), user
// source, pool source, pool destination, user destination, pool mint, fee account,
// token program, then the optional host fee account.
func swapInstruction(pool *Pool, aToB bool, amountIn, minOut uint64, owner, userIn, userOut solana.PublicKey) quote.Instruction {
	poolSource, poolDest := pool.VaultA, pool.VaultB
	if !aToB {
		poolSource, poolDest = pool.VaultB, pool.VaultA
	}

	accounts := []quote.AccountMeta{
		{Pubkey: pool.SwapAccount},
		{Pubkey: pool.Authority},
		{Pubkey: owner, IsSigner: true},
		{Pubkey: userIn, IsWritable: true},
		{Pubkey: poolSource, IsWritable: true},
		{Pubkey: poolDest, IsWritable: true},
		{Pubkey: userOut, IsWritable: true},
		{Pubkey: pool.PoolMint, IsWritable: true},
		{Pubkey: pool.FeeAccount, IsWritable: true},
		{Pubkey: solana.TokenProgramID},
	}
	if pool.HostFeeAccount != nil {
		accounts = append(accounts, quote.AccountMeta{Pubkey: *pool.HostFeeAccount, IsWritable: true})
	}

	// [0] discriminator, [1:9] amount_in, [9:17] minimum_amount_out
	data := make([]byte, 17)
	data[0] = swapDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amountIn)
	binary.LittleEndian.PutUint64(data[9:17], minOut)

	return quote.Instruction{ProgramID: pool.ProgramID, Accounts: accounts, Data: data}
}

func createATAIdempotent(payer, ata, owner, mint solana.PublicKey) quote.Instruction {
	return quote.Instruction{
		ProgramID: associatedTokenProgramID,
		Accounts: []quote.AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: solana.SystemProgramID},
			{Pubkey: solana.TokenProgramID},
		},
		Data: []byte{ataIdempotent},
	}
}

func transferLamports(from, to solana.PublicKey, lamports uint64) quote.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferTag)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return quote.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []quote.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

func syncNative(account solana.PublicKey) quote.Instruction {
	return quote.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts:  []quote.AccountMeta{{Pubkey: account, IsWritable: true}},
		Data:      []byte{tokenSyncNative},
	}
}

func closeAccount(account, destination, owner solana.PublicKey) quote.Instruction {
	return quote.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []quote.AccountMeta{
			{Pubkey: account, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
			{Pubkey: owner, IsSigner: true},
		},
		Data: []byte{tokenCloseAccount},
	}
}
