package routeapi

// QuoteRequest is the single-call route request: the response already carries the
// instructions for UserPublicKey.
type QuoteRequest struct {
	InputMint     string `json:"inputMint"`
	OutputMint    string `json:"outputMint"`
	Amount        string `json:"amount"`
	SlippageBps   uint16 `json:"slippageBps"`
	UserPublicKey string `json:"userPublicKey"`
	WrapNative    bool   `json:"wrapNative"`
}

type Account struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

type Instruction struct {
	Program  string    `json:"program"`
	Accounts []Account `json:"accounts"`
	Data     string    `json:"data"` // base64
}

type QuoteResponse struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	InAmount    string `json:"inAmount"`
	OutAmount   string `json:"outAmount"`
	SlippageBps uint16 `json:"slippageBps"`

	Instructions        []Instruction `json:"instructions"`
	AddressLookupTables []string      `json:"addressLookupTables"`

	// ExpiresAt is unix milliseconds; zero means no time bound.
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
	ExpiresAtSlot uint64 `json:"expiresAtSlot,omitempty"`
	ContextSlot   uint64 `json:"contextSlot,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
