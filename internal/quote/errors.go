package quote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoRoute is returned when a provider has no viable route for a leg.
	ErrNoRoute = errors.New("no route")

	// ErrStale is returned when a quote expired before it could be used.
	ErrStale = errors.New("quote is stale")

	// ErrNoProviders is returned by an aggregator configured without providers.
	ErrNoProviders = errors.New("no quote providers configured")
)

// QuoteError reports that no provider produced a usable quote for a leg.
type QuoteError struct {
	Spec SwapSpec
	// Attempts holds one error per provider tried, in order.
	Attempts []ProviderError
}

// ProviderError is one provider's failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *QuoteError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("quote %s: %v", e.Spec, ErrNoProviders)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return fmt.Sprintf("quote %s: %s", e.Spec, strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider causes to errors.Is/As.
func (e *QuoteError) Unwrap() []error {
	if len(e.Attempts) == 0 {
		return []error{ErrNoProviders}
	}
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
