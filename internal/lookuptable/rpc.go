package lookuptable

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
)

var ErrDeactivated = errors.New("lookup table is deactivated")

// AccountReader is the slice of the chain RPC the resolver needs.
type AccountReader interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// RPCResolver reads lookup-table accounts from chain.
type RPCResolver struct {
	reader AccountReader
}

func NewRPCResolver(reader AccountReader) *RPCResolver {
	return &RPCResolver{reader: reader}
}

func (r *RPCResolver) ResolveTable(ctx context.Context, addr solana.PublicKey) (solana.PublicKeySlice, error) {
	data, err := r.reader.GetAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	state, err := addresslookuptable.DecodeAddressLookupTableState(data)
	if err != nil {
		return nil, fmt.Errorf("decode lookup table: %w", err)
	}
	if !state.IsActive() {
		return nil, ErrDeactivated
	}
	return state.Addresses, nil
}
