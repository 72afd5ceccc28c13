package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// RPCError represents a JSON-RPC error response
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Blockhash is a recent blockhash plus the last block height it stays valid for.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// TokenAmount represents token balance information
type TokenAmount struct {
	Amount         string  `json:"amount"`
	Decimals       int     `json:"decimals"`
	UIAmountString string  `json:"uiAmountString"`
	UIAmount       float64 `json:"uiAmount"`
}

// TokenBalance represents a token balance entry
type TokenBalance struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UITokenAmount TokenAmount `json:"uiTokenAmount"`
}

// TokenAccount is one SPL token account held by an owner.
type TokenAccount struct {
	Pubkey   string
	Lamports uint64
	Mint     string
	Owner    string
	Amount   string
}

// SignatureStatus mirrors one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the status carries a non-null error payload.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// SendOptions configures sendTransaction behavior
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *int
}

// DefaultSendOptions returns settings suited to relays that do their own preflight.
func DefaultSendOptions() SendOptions {
	maxRetries := 0
	return SendOptions{
		SkipPreflight:       true,
		PreflightCommitment: "processed",
		MaxRetries:          &maxRetries,
	}
}

// SimulationSnapshot holds a dry run together with pre/post balances of the accounts
// that were watched. Balances and AccountKeys share indexes, like transaction meta.
type SimulationSnapshot struct {
	Err               json.RawMessage
	Logs              []string
	UnitsConsumed     uint64
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Failed reports whether the dry run reverted.
func (s *SimulationSnapshot) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// parsedTokenData is the jsonParsed layout of an SPL token account.
type parsedTokenData struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Mint        string      `json:"mint"`
			Owner       string      `json:"owner"`
			TokenAmount TokenAmount `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// accountState is an account as returned with jsonParsed encoding. Data is either an
// object (parsed) or a [payload, encoding] pair.
type accountState struct {
	Lamports uint64          `json:"lamports"`
	Owner    string          `json:"owner"`
	Data     json.RawMessage `json:"data"`
}

// tokenData extracts mint/owner/amount when the account is a parsed token account.
func (a *accountState) tokenData() (*parsedTokenData, bool) {
	if a == nil || len(a.Data) == 0 || a.Data[0] != '{' {
		return nil, false
	}
	var d parsedTokenData
	if err := json.Unmarshal(a.Data, &d); err != nil {
		return nil, false
	}
	if d.Parsed.Info.Mint == "" {
		return nil, false
	}
	return &d, true
}
