package ledger

import "time"

// Execution is the persisted and published form of one finished execution.
type Execution struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Success    bool      `json:"success"`
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Legs       []Leg     `json:"legs"`
}

// Leg is one leg's final outcome within an execution.
type Leg struct {
	Index       int    `json:"index"`
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	Amount      uint64 `json:"amount"`
	SlippageBps uint16 `json:"slippage_bps"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Attempt     int    `json:"attempt"`
	Provider    string `json:"provider,omitempty"`
	OutAmount   uint64 `json:"out_amount,omitempty"`
	MinOut      uint64 `json:"min_out,omitempty"`
	Signature   string `json:"signature,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`
	Error       string `json:"error,omitempty"`
}
