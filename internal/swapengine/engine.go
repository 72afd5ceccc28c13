package swapengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/config"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/flags"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/jupiter"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/ledger"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/lookuptable"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/orca"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/relay"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/routeapi"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/simulate"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/stream"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/txbuilder"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRiskRejected wraps the reason a leg set failed preflight.
	ErrRiskRejected = errors.New("rejected by risk checks")
	ErrNoLedger     = errors.New("execution ledger is not configured")
)

// Engine wires the execution pipeline from configuration and guards it with the
// kill switch and preflight risk checks.
type Engine struct {
	cfg          *config.Config
	logger       *logrus.Logger
	chain        *rpc.Client
	signer       wallet.Signer
	quotes       *quote.Aggregator
	tables       *lookuptable.Cache
	orchestrator *Orchestrator
	riskManager  *RiskManager
	flags        *flags.Store
	redis        *redis.Client
	clickhouse   *ledger.ClickHouseStore
	publisher    *ledger.Publisher
}

// NewEngine creates an engine with all dependencies. Redis and ClickHouse are
// optional; without them the lookup-table cache is memory-only, flags are unset and
// executions are not recorded.
func NewEngine(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Engine{cfg: cfg, logger: logger}

	// 1. Chain RPC
	e.chain = rpc.NewClient(rpc.ClientConfig{
		BaseURL:      cfg.RPCUrl,
		Timeout:      cfg.RPCTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})

	// 2. Signer
	signer, err := newSigner(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	e.signer = signer

	// 3. Redis (lookup-table L2, flags, live feed)
	var resolver lookuptable.Resolver = lookuptable.NewRPCResolver(e.chain)
	if cfg.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := e.redis.Ping(ctx).Err(); err != nil {
			_ = e.redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		store, err := lookuptable.NewRedisStore(e.redis, resolver, cfg.LookupTableTTL, logger)
		if err != nil {
			_ = e.redis.Close()
			return nil, err
		}
		resolver = store
		if e.flags, err = flags.NewStore(e.redis); err != nil {
			_ = e.redis.Close()
			return nil, err
		}
		e.publisher = ledger.NewPublisher(e.redis, logger)
	}

	// 4. ClickHouse ledger
	if cfg.ClickHouseAddr != "" {
		ch, err := ledger.NewClickHouseStore(ctx, ledger.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		}, logger)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.clickhouse = ch
	}

	// 5. Quote providers, primary first
	providers, err := newProviders(cfg, signer.PublicKey(), e.chain, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.quotes = quote.NewAggregator(quote.AggregatorConfig{
		Providers: providers,
		Slots:     e.chain,
		Logger:    logger,
	})

	// 6. Builder, fees, simulator
	e.tables = lookuptable.NewCache(resolver, logger)
	tips, err := parseKeys(cfg.TipAccounts)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("invalid TIP_ACCOUNTS: %w", err)
	}
	builder := txbuilder.New(txbuilder.Config{
		Tables:      e.tables,
		TipAccounts: tips,
		Rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Logger:      logger,
	})
	fees := &flaggedFees{
		static:  txbuilder.StaticFees(cfg.ComputeUnitLimit, cfg.ComputeUnitPrice),
		dynamic: &txbuilder.FeePolicy{UnitLimit: cfg.ComputeUnitLimit, UnitPrice: cfg.ComputeUnitPrice, Dynamic: true, Percentile: cfg.PriorityFeePercentile, Source: e.chain, Logger: logger},
		def:     cfg.DynamicPriorityFee,
		flags:   e.flags,
		logger:  logger,
	}
	simulator := simulate.New(e.chain, cfg.NativeReserveLamports, logger)

	// 7. Relays and confirmation
	blockEngine := rpc.NewClient(rpc.ClientConfig{BaseURL: cfg.BlockEngineURL, Timeout: cfg.RPCTimeout, MaxRetries: cfg.MaxRetries, RetryBackoff: cfg.RetryBackoff, Logger: logger})
	fastRelay := rpc.NewClient(rpc.ClientConfig{BaseURL: cfg.FastRelayURL, Timeout: cfg.RPCTimeout, MaxRetries: cfg.MaxRetries, RetryBackoff: cfg.RetryBackoff, Logger: logger})
	bundles := relay.NewBundleClient(blockEngine)
	var notifier relay.SignatureNotifier
	if cfg.RPCWSUrl != "" {
		notifier = stream.NewSignatureStream(cfg.RPCWSUrl, logger)
	}
	poller := relay.NewPoller(relay.PollerConfig{
		Bundles:    bundles,
		Signatures: e.chain,
		Notifier:   notifier,
		Interval:   cfg.PollInterval,
		Timeout:    cfg.ConfirmTimeout,
		Logger:     logger,
	})

	// 8. Risk and orchestration
	e.riskManager = NewRiskManager(RiskConfig{
		MaxLegs:          cfg.MaxLegs,
		MaxSlippageBps:   cfg.MaxSlippageBps,
		AllowedMints:     cfg.AllowedMints,
		DailyNativeLimit: cfg.DailyNativeLimit,
	})

	var recorder Recorder
	if sink := ledger.NewRecorder(e.clickhouse, e.publisher); sink.Enabled() {
		recorder = &ledgerRecorder{sink: sink}
	}
	e.orchestrator = NewOrchestrator(OrchestratorConfig{
		Quotes:            e.quotes,
		Builder:           builder,
		Simulator:         simulator,
		Chain:             e.chain,
		Fees:              fees,
		Signer:            signer,
		Fast:              relay.NewFastRelay(fastRelay),
		Bundles:           bundles,
		Confirm:           poller,
		Recorder:          recorder,
		Mode:              ParseSubmitMode(cfg.SubmitMode),
		MaxAttempts:       cfg.MaxAttempts,
		TipLamports:       cfg.TipLamports,
		ReconcileWait:     cfg.ReconcileWait,
		ReconcileInterval: cfg.PollInterval,
		Logger:            logger,
	})

	logger.WithFields(logrus.Fields{
		"wallet":    signer.PublicKey().String(),
		"rpc":       e.chain.URL(),
		"providers": e.quotes.Providers(),
		"mode":      cfg.SubmitMode,
		"redis":     e.redis != nil,
		"ledger":    e.clickhouse != nil,
	}).Info("execution engine ready")
	return e, nil
}

func newSigner(ctx context.Context, cfg *config.Config) (wallet.Signer, error) {
	if cfg.SignerURL != "" {
		return wallet.NewRemoteSigner(ctx, cfg.SignerURL, cfg.RPCTimeout)
	}
	return wallet.NewLocalSigner(cfg.WalletPrivateKey)
}

func newProviders(cfg *config.Config, user solana.PublicKey, vaults orca.VaultReader, logger *logrus.Logger) ([]quote.Provider, error) {
	out := make([]quote.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case "jupiter":
			c := jupiter.NewClient(cfg.JupiterBaseURL, cfg.JupiterAPIKey).WithRateLimit(cfg.QuoteRatePerSec, cfg.QuoteBurst)
			c.HTTP.Timeout = cfg.QuoteHTTPTimeout
			out = append(out, jupiter.NewProvider(c, user))
		case "routeapi":
			c := routeapi.NewClient(cfg.RouteAPIBaseURL, cfg.RouteAPIKey, user).WithRateLimit(cfg.QuoteRatePerSec, cfg.QuoteBurst)
			c.HTTP.Timeout = cfg.QuoteHTTPTimeout
			out = append(out, c)
		case "orca":
			reg, err := orca.LoadRegistry(cfg.OrcaPoolsPath)
			if err != nil {
				return nil, err
			}
			out = append(out, orca.NewProvider(reg, vaults, user,
				orca.WithMaxPriceImpact(cfg.OrcaMaxImpactBps),
				orca.WithLogger(logger),
			))
		default:
			return nil, fmt.Errorf("unknown quote provider %q", name)
		}
	}
	return out, nil
}

func parseKeys(in []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(in))
	for _, s := range in {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// Execute runs a leg set end-to-end after the kill switch and risk checks.
func (e *Engine) Execute(ctx context.Context, specs []quote.SwapSpec) (*Result, error) {
	// 1. Kill switch
	if e.flags != nil {
		on, err := e.flags.Enabled(ctx, flags.Executions, true)
		if err != nil {
			e.logger.WithError(err).Warn("flag read failed, using default")
		}
		if !on {
			return nil, ErrExecutionDisabled
		}
	}

	// 2. Preflight
	if check := e.riskManager.CheckLegs(specs); !check.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrRiskRejected, check.Reason)
	}

	// 3. Run
	res, err := e.orchestrator.Run(ctx, specs)
	e.riskManager.RecordResult(res)
	return res, err
}

// ParseLegs resolves human-written legs with the configured default slippage.
func (e *Engine) ParseLegs(intents []LegIntent) ([]quote.SwapSpec, error) {
	specs := make([]quote.SwapSpec, 0, len(intents))
	for i, li := range intents {
		spec, err := li.Spec(e.cfg.DefaultSlippageBps)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Quote returns the aggregator's quote for one leg without executing it.
func (e *Engine) Quote(ctx context.Context, spec quote.SwapSpec) (*quote.Quote, error) {
	return e.quotes.Fetch(ctx, spec, false)
}

// CheckRisk runs preflight checks without executing.
func (e *Engine) CheckRisk(specs []quote.SwapSpec) *RiskCheckResult {
	return e.riskManager.CheckLegs(specs)
}

// Status summarizes the engine for health endpoints.
func (e *Engine) Status(ctx context.Context) *EngineStatus {
	st := &EngineStatus{
		Wallet:           e.signer.PublicKey().String(),
		Providers:        e.quotes.Providers(),
		Mode:             string(e.orchestrator.Mode()),
		LookupTables:     e.tables.Len(),
		DailyNativeUsed:  e.riskManager.DailyUsage(),
		DailyNativeLimit: e.cfg.DailyNativeLimit,
		ExecutionsOn:     true,
	}
	if e.flags != nil {
		st.ExecutionsOn, _ = e.flags.Enabled(ctx, flags.Executions, true)
	}
	if bal, err := e.chain.GetBalance(ctx, e.signer.PublicKey()); err == nil {
		st.BalanceLamports = &bal
	}
	return st
}

// ExecutionLegs reads a recorded execution back from the ledger, in leg order.
func (e *Engine) ExecutionLegs(ctx context.Context, id string) ([]ledger.Leg, error) {
	if e.clickhouse == nil {
		return nil, ErrNoLedger
	}
	return e.clickhouse.LegsByExecution(ctx, id)
}

func (e *Engine) Flags() *flags.Store { return e.flags }

// Publisher is nil when Redis is not configured.
func (e *Engine) Publisher() *ledger.Publisher { return e.publisher }

// Close cleans up all resources
func (e *Engine) Close() error {
	var errs []error

	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if e.clickhouse != nil {
		if err := e.clickhouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}

	return nil
}

type EngineStatus struct {
	Wallet           string   `json:"wallet"`
	BalanceLamports  *uint64  `json:"balance_lamports,omitempty"`
	Providers        []string `json:"providers"`
	Mode             string   `json:"mode"`
	LookupTables     int      `json:"lookup_tables"`
	ExecutionsOn     bool     `json:"executions_enabled"`
	DailyNativeUsed  uint64   `json:"daily_native_used"`
	DailyNativeLimit uint64   `json:"daily_native_limit"`
}

// flaggedFees picks the static or percentile policy per round, following the
// fees.dynamic flag when it is set.
type flaggedFees struct {
	static  *txbuilder.FeePolicy
	dynamic *txbuilder.FeePolicy
	def     bool
	flags   *flags.Store
	logger  *logrus.Logger
}

func (f *flaggedFees) Budget(ctx context.Context, accounts []solana.PublicKey) txbuilder.Budget {
	dynamic := f.def
	if f.flags != nil {
		var err error
		if dynamic, err = f.flags.Enabled(ctx, flags.DynamicFees, f.def); err != nil {
			f.logger.WithError(err).Debug("fee flag read failed")
		}
	}
	if dynamic {
		return f.dynamic.Budget(ctx, accounts)
	}
	return f.static.Budget(ctx, accounts)
}

// ledgerRecorder adapts execution results to the ledger's record format.
type ledgerRecorder struct {
	sink *ledger.Recorder
}

func (r *ledgerRecorder) Record(ctx context.Context, res *Result) error {
	return r.sink.RecordExecution(ctx, ToLedger(res))
}

// ToLedger flattens a result into one ledger row per leg, in leg order.
func ToLedger(res *Result) *ledger.Execution {
	e := &ledger.Execution{
		ID:         res.ExecutionID,
		Mode:       string(res.Mode),
		Success:    res.Success,
		Attempt:    res.Attempt,
		Message:    res.Message,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	all := make([]LegOutcome, 0, len(res.Succeeded)+len(res.Failed)+len(res.Skipped))
	all = append(all, res.Succeeded...)
	all = append(all, res.Failed...)
	all = append(all, res.Skipped...)
	sortByIndex(all)

	for _, oc := range all {
		l := ledger.Leg{
			Index:       oc.Index,
			InputMint:   oc.Spec.InputMint.String(),
			OutputMint:  oc.Spec.OutputMint.String(),
			Amount:      oc.Spec.Amount,
			SlippageBps: oc.Spec.MaxSlippageBps,
			Status:      string(oc.Status),
			Stage:       string(oc.Stage),
			Attempt:     oc.Attempt,
			Signature:   oc.TransactionID,
			BundleID:    oc.BundleID,
		}
		if oc.Quote != nil {
			l.Provider = oc.Quote.Provider
			l.OutAmount = oc.Quote.OutAmount
			l.MinOut = oc.Quote.MinOut()
		}
		if oc.Err != nil {
			l.Error = ErrorMessage(oc.Err)
		}
		e.Legs = append(e.Legs, l)
	}
	return e
}
