package swapengine

import (
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/simulate"
)

// Stage is the pipeline step a leg reached in its latest attempt.
type Stage string

const (
	StageQuote    Stage = "quote"
	StageBuild    Stage = "build"
	StageSimulate Stage = "simulate"
	StageSign     Stage = "sign"
	StageSubmit   Stage = "submit"
	StageConfirm  Stage = "confirm"
)

// SubmitMode selects how signed legs reach the chain.
type SubmitMode string

const (
	// ModeFast sends every leg on its own through the fast relay.
	ModeFast SubmitMode = "fast"
	// ModeBundle groups the round's surviving legs into one atomic bundle.
	ModeBundle SubmitMode = "bundle"
)

// ParseSubmitMode maps a config value to a mode; anything unknown is fast.
func ParseSubmitMode(s string) SubmitMode {
	if SubmitMode(s) == ModeBundle {
		return ModeBundle
	}
	return ModeFast
}

type LegStatus string

const (
	LegSucceeded LegStatus = "succeeded"
	LegFailed    LegStatus = "failed"
	LegSkipped   LegStatus = "skipped"
)

// LegOutcome is the record of one leg's latest attempt.
type LegOutcome struct {
	Index   int
	Spec    quote.SwapSpec
	Status  LegStatus
	Stage   Stage
	Attempt int

	TransactionID string
	BundleID      string
	Quote         *quote.Quote
	Simulation    *simulate.Result
	Err           error

	// LastValidBlockHeight bounds when a submitted but unconfirmed transaction can
	// still land.
	LastValidBlockHeight uint64
}

func (o LegOutcome) Succeeded() bool { return o.Status == LegSucceeded }

// Result is the caller-facing summary of one execution.
type Result struct {
	ExecutionID string
	Mode        SubmitMode
	Success     bool
	Attempt     int

	// Succeeded is in first-success order; Failed and Skipped in leg order.
	Succeeded []LegOutcome
	Failed    []LegOutcome
	Skipped   []LegOutcome

	LastError error
	Message   string

	StartedAt  time.Time
	FinishedAt time.Time
}

// TransactionIDs returns the ids of every landed leg in first-success order.
func (r *Result) TransactionIDs() []string {
	ids := make([]string, 0, len(r.Succeeded))
	for _, o := range r.Succeeded {
		ids = append(ids, o.TransactionID)
	}
	return ids
}

// Quotes returns the quotes the landed legs executed with.
func (r *Result) Quotes() []*quote.Quote {
	out := make([]*quote.Quote, 0, len(r.Succeeded))
	for _, o := range r.Succeeded {
		out = append(out, o.Quote)
	}
	return out
}

func (r *Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
