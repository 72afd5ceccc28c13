package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/lookuptable"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// BuildError wraps instruction or transaction assembly failures.
type BuildError struct {
	Leg string
	Err error
}

func (e *BuildError) Error() string {
	if e.Leg == "" {
		return fmt.Sprintf("build transaction: %v", e.Err)
	}
	return fmt.Sprintf("build transaction for %s: %v", e.Leg, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Request is everything needed to assemble one leg's transaction.
type Request struct {
	Quote       *quote.Quote
	Payer       solana.PublicKey
	Blockhash   solana.Hash
	CurrentSlot uint64 // zero skips slot-based staleness
	Budget      Budget
	TipLamports uint64
}

// BuiltTransaction is an unsigned transaction for one leg and attempt. Signature
// slots are zero-filled so the bytes can be dry-run without a signer.
type BuiltTransaction struct {
	Tx         *solana.Transaction
	Serialized []byte
	Quote      *quote.Quote
	Blockhash  solana.Hash

	TipAccount    solana.PublicKey
	DroppedTables int
}

type Config struct {
	Tables      *lookuptable.Cache
	TipAccounts []solana.PublicKey
	Rand        *rand.Rand
	Now         func() time.Time
	Logger      *logrus.Logger
}

// Builder assembles versioned transactions. It holds no per-build state; the only
// shared state is the lookup-table cache.
type Builder struct {
	tables      *lookuptable.Cache
	tipAccounts []solana.PublicKey
	now         func() time.Time
	logger      *logrus.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Builder{
		tables:      cfg.Tables,
		tipAccounts: cfg.TipAccounts,
		now:         cfg.Now,
		logger:      cfg.Logger,
		rnd:         cfg.Rand,
	}
}

func (b *Builder) pickTipAccount() (solana.PublicKey, bool) {
	if len(b.tipAccounts) == 0 {
		return solana.PublicKey{}, false
	}
	b.mu.Lock()
	i := b.rnd.Intn(len(b.tipAccounts))
	b.mu.Unlock()
	return b.tipAccounts[i], true
}

// Build produces the unsigned transaction for req. Instruction order is compute
// budget, route instructions, then the tip transfer.
func (b *Builder) Build(ctx context.Context, req Request) (*BuiltTransaction, error) {
	q := req.Quote
	if q == nil {
		return nil, &BuildError{Err: errors.New("quote is required")}
	}
	leg := q.Spec().String()
	if req.Payer.IsZero() {
		return nil, &BuildError{Leg: leg, Err: errors.New("payer is required")}
	}
	if req.Blockhash == (solana.Hash{}) {
		return nil, &BuildError{Leg: leg, Err: errors.New("recent blockhash is required")}
	}
	if q.Stale(b.now(), req.CurrentSlot) {
		return nil, fmt.Errorf("%s: %w", leg, quote.ErrStale)
	}

	route, dropped := translate(q.Instructions)
	if len(route) == 0 {
		return nil, &BuildError{Leg: leg, Err: errors.New("quote carries no executable instructions")}
	}
	if dropped > 0 {
		b.logger.WithFields(logrus.Fields{"leg": leg, "dropped": dropped}).Debug("dropped provider compute-budget instructions")
	}

	var instructions []solana.Instruction
	if req.Budget.Enabled() {
		instructions = budgetInstructions(req.Budget)
	}
	instructions = append(instructions, route...)

	built := &BuiltTransaction{Quote: q, Blockhash: req.Blockhash}
	if req.TipLamports > 0 {
		tipTo, ok := b.pickTipAccount()
		if !ok {
			return nil, &BuildError{Leg: leg, Err: errors.New("tip requested but no tip accounts configured")}
		}
		instructions = append(instructions, tipInstruction(req.Payer, tipTo, req.TipLamports))
		built.TipAccount = tipTo
	}

	tables := map[solana.PublicKey]solana.PublicKeySlice{}
	if b.tables != nil && len(q.LookupTables) > 0 {
		var errs []error
		tables, errs = b.tables.Resolve(ctx, q.LookupTables)
		built.DroppedTables = len(errs)
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(req.Payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(instructions, req.Blockhash, opts...)
	if err != nil {
		return nil, &BuildError{Leg: leg, Err: err}
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, &BuildError{Leg: leg, Err: fmt.Errorf("serialize: %w", err)}
	}

	built.Tx = tx
	built.Serialized = raw
	return built, nil
}
