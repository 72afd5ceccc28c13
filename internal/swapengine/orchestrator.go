package swapengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/relay"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/simulate"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/txbuilder"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Collaborators of the orchestrator. The concrete types live in the quote,
// txbuilder, simulate, rpc, relay and wallet packages.
type (
	Quoter interface {
		FetchAll(ctx context.Context, reqs []quote.Request) []quote.Result
	}

	TransactionBuilder interface {
		Build(ctx context.Context, req txbuilder.Request) (*txbuilder.BuiltTransaction, error)
	}

	DryRunner interface {
		Simulate(ctx context.Context, rawTx []byte, owner solana.PublicKey, watch ...solana.PublicKey) (*simulate.Result, error)
	}

	ChainReader interface {
		GetLatestBlockhash(ctx context.Context, commitment string) (*rpc.Blockhash, error)
		GetSlot(ctx context.Context) (uint64, error)
	}

	FeeOracle interface {
		Budget(ctx context.Context, accounts []solana.PublicKey) txbuilder.Budget
	}

	FastSubmitter interface {
		Submit(ctx context.Context, signed []byte) (string, error)
	}

	BundleSubmitter interface {
		SubmitBundle(ctx context.Context, signed [][]byte) (string, error)
	}

	Confirmer interface {
		WaitSignature(ctx context.Context, sig string) (*rpc.SignatureStatus, error)
		WaitBundle(ctx context.Context, id string) (*relay.BundleResult, error)
		Reconcile(ctx context.Context, sig string, lastValidBlockHeight uint64) (relay.Reconciliation, error)
	}

	// Recorder receives every finished execution. Failures are logged, never returned.
	Recorder interface {
		Record(ctx context.Context, res *Result) error
	}
)

type OrchestratorConfig struct {
	Quotes    Quoter
	Builder   TransactionBuilder
	Simulator DryRunner
	Chain     ChainReader
	Fees      FeeOracle
	Signer    wallet.Signer
	Fast      FastSubmitter
	Bundles   BundleSubmitter
	Confirm   Confirmer
	Recorder  Recorder

	Mode        SubmitMode
	MaxAttempts int
	TipLamports uint64

	// ReconcileWait bounds how long a timed-out leg is re-checked before it is
	// given up on for the rest of the execution.
	ReconcileWait     time.Duration
	ReconcileInterval time.Duration

	Concurrency int
	Now         func() time.Time
	NewID       func() string
	Logger      *logrus.Logger
}

// Orchestrator drives legs through quote, build, simulate, sign, submit and confirm,
// retrying only the failed subset between rounds.
type Orchestrator struct {
	quotes    Quoter
	builder   TransactionBuilder
	simulator DryRunner
	chain     ChainReader
	fees      FeeOracle
	signer    wallet.Signer
	fast      FastSubmitter
	bundles   BundleSubmitter
	confirm   Confirmer
	recorder  Recorder

	mode              SubmitMode
	maxAttempts       int
	tip               uint64
	reconcileWait     time.Duration
	reconcileInterval time.Duration
	concurrency       int
	now               func() time.Time
	newID             func() string
	logger            *logrus.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFast
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ReconcileWait <= 0 {
		cfg.ReconcileWait = constants.DefaultConfirmTimeout
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = constants.DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Fees == nil {
		cfg.Fees = txbuilder.StaticFees(0, 0)
	}

	return &Orchestrator{
		quotes:            cfg.Quotes,
		builder:           cfg.Builder,
		simulator:         cfg.Simulator,
		chain:             cfg.Chain,
		fees:              cfg.Fees,
		signer:            cfg.Signer,
		fast:              cfg.Fast,
		bundles:           cfg.Bundles,
		confirm:           cfg.Confirm,
		recorder:          cfg.Recorder,
		mode:              cfg.Mode,
		maxAttempts:       cfg.MaxAttempts,
		tip:               cfg.TipLamports,
		reconcileWait:     cfg.ReconcileWait,
		reconcileInterval: cfg.ReconcileInterval,
		concurrency:       cfg.Concurrency,
		now:               cfg.Now,
		newID:             cfg.NewID,
		logger:            cfg.Logger,
	}
}

func (o *Orchestrator) Mode() SubmitMode { return o.mode }

// pendingLeg is a leg that still has to land.
type pendingLeg struct {
	index          int
	spec           quote.SwapSpec
	preferFallback bool
}

// Run executes every non-zero leg. A leg that has landed is never attempted again.
// When legs are still failing after the last attempt, the returned Result lists both
// partitions and the error is a *PartialExecutionError.
func (o *Orchestrator) Run(ctx context.Context, specs []quote.SwapSpec) (*Result, error) {
	res := &Result{ExecutionID: o.newID(), Mode: o.mode, StartedAt: o.now()}
	log := o.logger.WithField("execution_id", res.ExecutionID)

	if len(specs) == 0 {
		return nil, ErrNoLegs
	}

	var pending []pendingLeg
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		if spec.Skippable() {
			res.Skipped = append(res.Skipped, LegOutcome{Index: i, Spec: spec, Status: LegSkipped})
			continue
		}
		pending = append(pending, pendingLeg{index: i, spec: spec})
	}
	if o.mode == ModeBundle && len(pending) > constants.MaxBundleSize {
		return nil, &relay.SubmissionError{Mode: string(ModeBundle), Err: fmt.Errorf("%d legs: %w", len(pending), relay.ErrBundleTooLarge)}
	}

	log.WithFields(logrus.Fields{
		"legs":    len(pending),
		"skipped": len(res.Skipped),
		"mode":    o.mode,
	}).Info("execution started")

	var (
		failed     []LegOutcome
		stuck      []LegOutcome
		lastErr    error
		extraRound bool
	)
	for attempt := 1; len(pending) > 0; attempt++ {
		res.Attempt = attempt
		outcomes := o.round(ctx, log.WithField("attempt", attempt), attempt, pending)

		// Join point: every leg of the round has finished.
		var succeeded []LegOutcome
		failed = nil
		for _, oc := range outcomes {
			metrics.LegOutcomes.WithLabelValues(string(oc.Stage), string(oc.Status)).Inc()
			if oc.Succeeded() {
				succeeded = append(succeeded, oc)
				continue
			}
			failed = append(failed, oc)
			lastErr = oc.Err
		}

		retry, landed, unresolved := o.settle(ctx, log, failed)
		succeeded = append(succeeded, landed...)
		sortByIndex(succeeded)
		res.Succeeded = append(res.Succeeded, succeeded...)
		stuck = append(stuck, unresolved...)
		failed = retry
		if len(failed) == 0 || ctx.Err() != nil {
			break
		}

		more := attempt < o.maxAttempts
		if !more && !extraRound && len(failed) == len(pending) && allAt(failed, StageQuote) {
			// Whole-round quote failure earns one extra round, at most once.
			extraRound = true
			more = true
			log.Warn("every leg failed to quote; granting one more round against fallback providers")
		}
		if !more {
			break
		}

		pending = retryLegs(failed)
		log.WithFields(logrus.Fields{
			"failed": len(failed),
			"error":  ErrorMessage(lastErr),
		}).Warn("retrying failed legs")
	}

	res.Failed = append(append([]LegOutcome(nil), failed...), stuck...)
	sortByIndex(res.Failed)
	res.Success = len(res.Failed) == 0
	res.FinishedAt = o.now()

	if res.Success {
		metrics.Executions.WithLabelValues("success").Inc()
		log.WithFields(logrus.Fields{
			"attempt":      res.Attempt,
			"transactions": res.TransactionIDs(),
			"duration":     res.Duration(),
		}).Info("execution succeeded")
		o.record(ctx, log, res)
		return res, nil
	}

	res.LastError = lastErr
	res.Message = ErrorMessage(lastErr)
	metrics.Executions.WithLabelValues("partial").Inc()
	log.WithFields(logrus.Fields{
		"attempt":   res.Attempt,
		"succeeded": len(res.Succeeded),
		"failed":    len(res.Failed),
	}).WithError(lastErr).Error("execution finished with failed legs")
	o.record(ctx, log, res)

	return res, &PartialExecutionError{
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Attempt:   res.Attempt,
		Last:      lastErr,
	}
}

// round runs one attempt over the pending legs. Outcomes are index-aligned with legs.
func (o *Orchestrator) round(ctx context.Context, log *logrus.Entry, attempt int, legs []pendingLeg) []LegOutcome {
	start := time.Now()
	metrics.Rounds.Inc()
	defer func() { metrics.RoundDuration.Observe(time.Since(start).Seconds()) }()

	out := make([]LegOutcome, len(legs))
	reqs := make([]quote.Request, len(legs))
	for i, l := range legs {
		out[i] = LegOutcome{Index: l.index, Spec: l.spec, Status: LegFailed, Stage: StageQuote, Attempt: attempt}
		reqs[i] = quote.Request{Spec: l.spec, PreferFallback: l.preferFallback}
	}

	// 1. Quotes
	results := o.quotes.FetchAll(ctx, reqs)
	for i, r := range results {
		if r.Err != nil {
			out[i].Err = r.Err
			continue
		}
		out[i].Quote = r.Quote
		out[i].Stage = StageBuild
	}
	if quote.AllFailed(results) {
		return out
	}

	// 2. One blockhash and fee budget for the whole round
	bh, err := o.chain.GetLatestBlockhash(ctx, "confirmed")
	if err != nil {
		for i := range out {
			if ready(out[i]) {
				out[i].Err = &txbuilder.BuildError{Leg: out[i].Spec.String(), Err: fmt.Errorf("fetch blockhash: %w", err)}
			}
		}
		return out
	}
	slot, err := o.chain.GetSlot(ctx)
	if err != nil {
		log.WithError(err).Warn("slot unavailable, slot-bounded quotes are checked by time only")
		slot = 0
	}
	budget := o.fees.Budget(ctx, writableAccounts(out))

	// 3. Build, simulate and sign each leg
	signed := make([][]byte, len(out))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range out {
		if !ready(out[i]) {
			continue
		}
		i := i
		g.Go(func() error {
			signed[i] = o.prepare(ctx, log, &out[i], bh, slot, budget)
			return nil
		})
	}
	_ = g.Wait()

	// 4. Submit and confirm
	if o.mode == ModeBundle {
		o.submitBundle(ctx, log, out, signed)
	} else {
		o.submitFast(ctx, log, out, signed)
	}
	return out
}

// prepare returns the signed transaction, or nil with oc.Err set.
func (o *Orchestrator) prepare(ctx context.Context, log *logrus.Entry, oc *LegOutcome, bh *rpc.Blockhash, slot uint64, budget txbuilder.Budget) []byte {
	owner := o.signer.PublicKey()
	oc.LastValidBlockHeight = bh.LastValidBlockHeight

	built, err := o.builder.Build(ctx, txbuilder.Request{
		Quote:       oc.Quote,
		Payer:       owner,
		Blockhash:   bh.Hash,
		CurrentSlot: slot,
		Budget:      budget,
		TipLamports: o.tip,
	})
	if err != nil {
		oc.Err = err
		return nil
	}

	oc.Stage = StageSimulate
	watch := append(txbuilder.WatchAccounts(owner, oc.Quote.InputMint), txbuilder.WatchAccounts(owner, oc.Quote.OutputMint)...)
	sim, err := o.simulator.Simulate(ctx, built.Serialized, owner, watch...)
	oc.Simulation = sim
	if err != nil {
		oc.Err = err
		return nil
	}
	if err := checkSimulatedOut(oc.Quote, sim); err != nil {
		oc.Err = err
		return nil
	}

	oc.Stage = StageSign
	raw, err := o.signer.Sign(ctx, built.Serialized)
	if err != nil {
		oc.Err = fmt.Errorf("sign: %w", err)
		return nil
	}
	sig, err := wallet.FirstSignature(raw)
	if err != nil {
		oc.Err = fmt.Errorf("sign: %w", err)
		return nil
	}
	oc.TransactionID = sig.String()
	oc.Stage = StageSubmit

	log.WithFields(logrus.Fields{
		"leg":       oc.Index,
		"provider":  oc.Quote.Provider,
		"signature": oc.TransactionID,
		"units":     sim.UnitsConsumed,
	}).Debug("leg ready for submission")
	return raw
}

// checkSimulatedOut rejects a dry run that credits less than the quote's minimum.
// Native output is skipped because fees and rent are netted into the same balance.
func checkSimulatedOut(q *quote.Quote, sim *simulate.Result) error {
	if sim == nil || q.OutputMint.String() == simulate.NativeMint {
		return nil
	}
	got := sim.Delta(q.OutputMint)
	if got.IsUint64() && got.Uint64() >= q.MinOut() {
		return nil
	}
	return &simulate.SimulationError{
		Payload: []byte(fmt.Sprintf("%q", fmt.Sprintf("simulated output %s below minimum %d", got, q.MinOut()))),
		Logs:    sim.Logs,
	}
}

func (o *Orchestrator) submitFast(ctx context.Context, log *logrus.Entry, out []LegOutcome, signed [][]byte) {
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range out {
		if signed[i] == nil {
			continue
		}
		i := i
		g.Go(func() error {
			oc := &out[i]
			id, err := o.fast.Submit(ctx, signed[i])
			if err != nil {
				oc.Err = err
				return nil
			}
			if id != "" && id != oc.TransactionID {
				log.WithFields(logrus.Fields{"leg": oc.Index, "relay_id": id}).Warn("relay returned a different transaction id")
			}

			oc.Stage = StageConfirm
			if _, err := o.confirm.WaitSignature(ctx, oc.TransactionID); err != nil {
				oc.Err = err
				return nil
			}
			oc.Status = LegSucceeded
			return nil
		})
	}
	_ = g.Wait()
}

// submitBundle sends every signed leg of the round as one bundle. The bundle lands
// or fails as a unit.
func (o *Orchestrator) submitBundle(ctx context.Context, log *logrus.Entry, out []LegOutcome, signed [][]byte) {
	var (
		idx []int
		txs [][]byte
	)
	for i := range out {
		if signed[i] != nil {
			idx = append(idx, i)
			txs = append(txs, signed[i])
		}
	}
	if len(txs) == 0 {
		return
	}
	fail := func(stage Stage, err error) {
		for _, i := range idx {
			out[i].Stage = stage
			out[i].Err = err
		}
	}

	id, err := o.bundles.SubmitBundle(ctx, txs)
	if err != nil {
		fail(StageSubmit, err)
		return
	}
	for _, i := range idx {
		out[i].BundleID = id
	}
	log.WithFields(logrus.Fields{"bundle": id, "transactions": len(txs)}).Info("bundle submitted")

	if _, err := o.confirm.WaitBundle(ctx, id); err != nil {
		fail(StageConfirm, err)
		return
	}
	for _, i := range idx {
		out[i].Stage = StageConfirm
		out[i].Status = LegSucceeded
	}
}

// settle resolves legs whose confirmation timed out or whose submission failed
// ambiguously. Such a leg is only retried once its blockhash has expired without it
// landing; legs that stay ambiguous past ReconcileWait are returned as unresolved and
// never resubmitted.
func (o *Orchestrator) settle(ctx context.Context, log *logrus.Entry, failed []LegOutcome) (retry, landed, unresolved []LegOutcome) {
	verdicts := make([]relay.Reconciliation, len(failed))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, oc := range failed {
		if !unsettled(oc) {
			continue
		}
		i, oc := i, oc
		g.Go(func() error {
			verdicts[i] = o.awaitReconcile(ctx, log, oc)
			return nil
		})
	}
	_ = g.Wait()

	for i, oc := range failed {
		if !unsettled(oc) {
			retry = append(retry, oc)
			continue
		}
		entry := log.WithFields(logrus.Fields{"leg": oc.Index, "signature": oc.TransactionID, "verdict": verdicts[i]})
		switch verdicts[i] {
		case relay.Landed:
			entry.Info("unsettled leg landed")
			oc.Stage = StageConfirm
			oc.Status = LegSucceeded
			oc.Err = nil
			landed = append(landed, oc)
		case relay.LandedWithError:
			entry.Warn("unsettled leg landed with an error")
			oc.Err = &relay.TransactionFailedError{Signature: oc.TransactionID, Payload: json.RawMessage(`"landed with an error after an unconfirmed submission"`)}
			retry = append(retry, oc)
		case relay.Expired:
			entry.Info("unsettled leg expired, safe to resubmit")
			retry = append(retry, oc)
		default:
			entry.Error("leg outcome unknown, not resubmitting")
			unresolved = append(unresolved, oc)
		}
	}
	return retry, landed, unresolved
}

func (o *Orchestrator) awaitReconcile(ctx context.Context, log *logrus.Entry, oc LegOutcome) relay.Reconciliation {
	deadline := time.NewTimer(o.reconcileWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.reconcileInterval)
	defer ticker.Stop()

	for {
		r, err := o.confirm.Reconcile(ctx, oc.TransactionID, oc.LastValidBlockHeight)
		if err != nil {
			log.WithField("signature", oc.TransactionID).WithError(err).Debug("reconcile check failed")
		} else if r != relay.StillPending {
			return r
		}
		select {
		case <-ctx.Done():
			return relay.StillPending
		case <-deadline.C:
			return relay.StillPending
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, log *logrus.Entry, res *Result) {
	if o.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(rctx, res); err != nil {
		log.WithError(err).Warn("failed to record execution")
	}
}

// retryLegs derives the next round's specs from the failed legs, committing the
// quoted input amount. Legs that never produced a transaction start on a fallback
// provider.
func retryLegs(failed []LegOutcome) []pendingLeg {
	next := make([]pendingLeg, 0, len(failed))
	for _, oc := range failed {
		spec := oc.Spec
		if oc.Quote != nil {
			spec = oc.Quote.Spec()
			spec.MaxSlippageBps = oc.Spec.MaxSlippageBps
		}
		next = append(next, pendingLeg{
			index:          oc.Index,
			spec:           spec,
			preferFallback: oc.Stage == StageQuote || oc.Stage == StageBuild,
		})
	}
	return next
}

func sortByIndex(outcomes []LegOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
}

func ready(oc LegOutcome) bool { return oc.Err == nil && oc.Quote != nil }

// unsettled reports whether the leg's signed transaction may still land: its
// confirmation timed out, or its submission failed without an explicit rejection.
func unsettled(oc LegOutcome) bool {
	if oc.TransactionID == "" {
		return false
	}
	switch oc.Stage {
	case StageConfirm:
		return relay.IsTimeout(oc.Err)
	case StageSubmit:
		return relay.IsAmbiguousSubmission(oc.Err)
	}
	return false
}

func allAt(outcomes []LegOutcome, stage Stage) bool {
	for _, oc := range outcomes {
		if oc.Stage != stage {
			return false
		}
	}
	return len(outcomes) > 0
}

// writableAccounts feeds the fee oracle; getRecentPrioritizationFees accepts at most
// 128 accounts.
func writableAccounts(out []LegOutcome) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var accounts []solana.PublicKey
	for _, oc := range out {
		if !ready(oc) {
			continue
		}
		for _, ix := range oc.Quote.Instructions {
			for _, a := range ix.Accounts {
				if !a.IsWritable || a.IsSigner {
					continue
				}
				if _, ok := seen[a.Pubkey]; ok {
					continue
				}
				seen[a.Pubkey] = struct{}{}
				accounts = append(accounts, a.Pubkey)
				if len(accounts) == 128 {
					return accounts
				}
			}
		}
	}
	return accounts
}
