package server

import (
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/ledger"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/swapengine"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Engine *swapengine.EngineStatus `json:"engine,omitempty"`
}

// LegRequest is one leg in UI units, e.g. {"input":"SOL","output":"USDC","amount":"1.5"}.
type LegRequest struct {
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	Amount      string  `json:"amount"`
	SlippageBps *uint16 `json:"slippage_bps,omitempty"`
}

func (l LegRequest) intent() swapengine.LegIntent {
	return swapengine.LegIntent{Input: l.Input, Output: l.Output, Amount: l.Amount, SlippageBps: l.SlippageBps}
}

// ExecuteRequest submits a leg set for atomic execution
type ExecuteRequest struct {
	Legs []LegRequest `json:"legs"`
}

// ExecutionResponse is the recorded form of a finished execution
type ExecutionResponse struct {
	*ledger.Execution
	DurationMs int64 `json:"duration_ms"`
}

// RiskCheckResponse reports a preflight decision without executing
type RiskCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Leg     int    `json:"leg"`

	DailyNativeUsed  uint64 `json:"daily_native_used"`
	DailyNativeLimit uint64 `json:"daily_native_limit"`
}

// QuoteResponse is the best quote for a single leg; amounts are in UI units
type QuoteResponse struct {
	Provider     string    `json:"provider"`
	InputMint    string    `json:"input_mint"`
	OutputMint   string    `json:"output_mint"`
	InAmount     string    `json:"in_amount"`
	OutAmount    string    `json:"out_amount"`
	MinOut       string    `json:"min_out"`
	SlippageBps  uint16    `json:"slippage_bps"`
	Instructions int       `json:"instructions"`
	LookupTables int       `json:"lookup_tables"`
	ContextSlot  uint64    `json:"context_slot,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// ExecutionLegsResponse lists the recorded legs of a past execution
type ExecutionLegsResponse struct {
	ID   string       `json:"id"`
	Legs []ledger.Leg `json:"legs"`
}

// FlagUpsertRequest represents a request to create or update a feature flag
type FlagUpsertRequest struct {
	Key   string `json:"key"`   // Flag key (must match regex pattern)
	Value bool   `json:"value"` // Flag value (true/false)
}

// FlagUpdateRequest represents a request to update an existing feature flag
type FlagUpdateRequest struct {
	Value bool `json:"value"` // New flag value
}
