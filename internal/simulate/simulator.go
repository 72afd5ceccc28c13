package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// ChainSimulator dry-runs a transaction and reports balances for owner and watch.
type ChainSimulator interface {
	SimulateWithBalances(ctx context.Context, rawTx []byte, owner solana.PublicKey, watch []solana.PublicKey) (*rpc.SimulationSnapshot, error)
}

// SimulationError is a reverted dry run. The transaction must not be submitted.
type SimulationError struct {
	Payload json.RawMessage
	Logs    []string
}

func (e *SimulationError) Error() string {
	msg := fmt.Sprintf("simulation failed: %s", string(e.Payload))
	if n := len(e.Logs); n > 0 {
		msg += " (last log: " + strings.TrimSpace(e.Logs[n-1]) + ")"
	}
	return msg
}

// Result is one dry run scoped to a single owner.
type Result struct {
	Err             json.RawMessage
	Logs            []string
	Deltas          map[string]*big.Int
	NativeWithdrawn *big.Int
	UnitsConsumed   uint64
}

// Delta returns the owner's balance change for mint.
func (r *Result) Delta(mint solana.PublicKey) *big.Int {
	if v, ok := r.Deltas[mint.String()]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

type Simulator struct {
	chain   ChainSimulator
	reserve uint64
	logger  *logrus.Logger
}

func New(chain ChainSimulator, nativeReserve uint64, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Simulator{chain: chain, reserve: nativeReserve, logger: logger}
}

// Simulate dry-runs rawTx. A reverted run returns the Result together with a
// *SimulationError; transport failures return only the error.
func (s *Simulator) Simulate(ctx context.Context, rawTx []byte, owner solana.PublicKey, watch ...solana.PublicKey) (*Result, error) {
	snap, err := s.chain.SimulateWithBalances(ctx, rawTx, owner, watch)
	if err != nil {
		metrics.Simulations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("simulate: %w", err)
	}

	res := &Result{
		Err:             snap.Err,
		Logs:            snap.Logs,
		Deltas:          map[string]*big.Int{},
		NativeWithdrawn: new(big.Int),
		UnitsConsumed:   snap.UnitsConsumed,
	}
	if snap.Failed() {
		metrics.Simulations.WithLabelValues("reverted").Inc()
		s.logger.WithFields(logrus.Fields{
			"err":  string(snap.Err),
			"logs": len(snap.Logs),
		}).Debug("dry run reverted")
		return res, &SimulationError{Payload: snap.Err, Logs: snap.Logs}
	}

	d, err := ComputeDeltas(snap, owner, s.reserve)
	if err != nil {
		metrics.Simulations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("balance deltas: %w", err)
	}
	res.Deltas = d.PerMint
	res.NativeWithdrawn = d.NativeWithdrawn

	metrics.Simulations.WithLabelValues("ok").Inc()
	metrics.SimulatedComputeUnits.Observe(float64(snap.UnitsConsumed))
	return res, nil
}
