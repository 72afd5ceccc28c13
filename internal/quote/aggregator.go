package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Provider is a swap-route source. Single-call and two-call providers both hide their
// HTTP shape behind this interface.
type Provider interface {
	Name() string
	Quote(ctx context.Context, spec SwapSpec) (*Quote, error)
}

// SlotSource reports the current slot for slot-bounded quote expiry.
type SlotSource interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// AggregatorConfig holds the ordered provider list (primary first).
type AggregatorConfig struct {
	Providers   []Provider
	Slots       SlotSource
	Now         func() time.Time
	Concurrency int
	Logger      *logrus.Logger
}

// Aggregator fetches a leg's quote from the primary provider and falls back through
// the remaining providers with the same spec.
type Aggregator struct {
	providers   []Provider
	slots       SlotSource
	now         func() time.Time
	concurrency int
	logger      *logrus.Logger
}

// Request is one leg to quote.
type Request struct {
	Spec SwapSpec
	// PreferFallback starts with the secondary providers and tries the primary last.
	PreferFallback bool
}

// Result is the per-leg outcome of FetchAll.
type Result struct {
	Quote *Quote
	Err   error
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Aggregator{
		providers:   cfg.Providers,
		slots:       cfg.Slots,
		now:         cfg.Now,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Providers returns provider names in primary-first order.
func (a *Aggregator) Providers() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

func (a *Aggregator) order(preferFallback bool) []Provider {
	if !preferFallback || len(a.providers) < 2 {
		return a.providers
	}
	out := make([]Provider, 0, len(a.providers))
	out = append(out, a.providers[1:]...)
	return append(out, a.providers[0])
}

// Fetch returns the first viable, fresh quote. Provider errors, empty routes and
// stale quotes all move on to the next provider.
func (a *Aggregator) Fetch(ctx context.Context, spec SwapSpec, preferFallback bool) (*Quote, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	qerr := &QuoteError{Spec: spec}
	for i, p := range a.order(preferFallback) {
		if i > 0 {
			metrics.QuoteFallbacks.WithLabelValues(p.Name()).Inc()
		}

		q, err := a.fetchOne(ctx, p, spec)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a.logger.WithFields(logrus.Fields{
			"provider": p.Name(),
			"leg":      spec.String(),
		}).WithError(err).Warn("quote provider failed, trying next")
		qerr.Attempts = append(qerr.Attempts, ProviderError{Provider: p.Name(), Err: err})
	}

	return nil, qerr
}

func (a *Aggregator) fetchOne(ctx context.Context, p Provider, spec SwapSpec) (*Quote, error) {
	q, err := p.Quote(ctx, spec)
	if err != nil {
		metrics.QuoteRequests.WithLabelValues(p.Name(), "error").Inc()
		return nil, err
	}
	if err := a.checkViable(q, spec); err != nil {
		metrics.QuoteRequests.WithLabelValues(p.Name(), "no_route").Inc()
		return nil, err
	}

	var slot uint64
	if q.HasSlotExpiry() && a.slots != nil {
		slot, err = a.slots.GetSlot(ctx)
		if err != nil {
			metrics.QuoteRequests.WithLabelValues(p.Name(), "error").Inc()
			return nil, fmt.Errorf("read slot for expiry check: %w", err)
		}
	}
	if q.Stale(a.now(), slot) {
		metrics.QuoteRequests.WithLabelValues(p.Name(), "stale").Inc()
		return nil, ErrStale
	}

	if q.Provider == "" {
		q.Provider = p.Name()
	}
	if q.SlippageBps == 0 {
		q.SlippageBps = spec.MaxSlippageBps
	}
	if q.QuotedAt.IsZero() {
		q.QuotedAt = a.now()
	}
	metrics.QuoteRequests.WithLabelValues(p.Name(), "ok").Inc()
	return q, nil
}

func (a *Aggregator) checkViable(q *Quote, spec SwapSpec) error {
	if q == nil {
		return ErrNoRoute
	}
	if !q.InputMint.Equals(spec.InputMint) || !q.OutputMint.Equals(spec.OutputMint) {
		return fmt.Errorf("%w: provider quoted %s->%s", ErrNoRoute, q.InputMint, q.OutputMint)
	}
	if q.InAmount != spec.Amount {
		return fmt.Errorf("%w: provider quoted in=%d, requested %d", ErrNoRoute, q.InAmount, spec.Amount)
	}
	if q.OutAmount == 0 || len(q.Instructions) == 0 {
		return ErrNoRoute
	}
	return nil
}

// FetchAll quotes every leg concurrently. Results are index-aligned with reqs and a
// failing leg never cancels the others.
func (a *Aggregator) FetchAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			q, err := a.Fetch(ctx, r.Spec, r.PreferFallback)
			results[i] = Result{Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// AllFailed reports whether every result is an error.
func AllFailed(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Err == nil {
			return false
		}
	}
	return true
}

// IsQuoteError reports whether err came out of quote acquisition.
func IsQuoteError(err error) bool {
	var qe *QuoteError
	return errors.As(err, &qe) || errors.Is(err, ErrStale) || errors.Is(err, ErrNoRoute)
}
