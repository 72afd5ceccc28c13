package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
	"github.com/sirupsen/logrus"
)

type BundleStatusSource interface {
	InflightStatus(ctx context.Context, id string) (*InflightStatus, error)
	FinalizedStatus(ctx context.Context, id string) (*FinalizedStatus, error)
}

type SignatureSource interface {
	GetSignatureStatus(ctx context.Context, signature string) (*rpc.SignatureStatus, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// SignatureNotifier pushes a wake-up when a signature reaches confirmation. The
// returned channel is closed on notification and may never close.
type SignatureNotifier interface {
	Notify(ctx context.Context, sig string) <-chan struct{}
}

type PollerConfig struct {
	Bundles    BundleStatusSource
	Signatures SignatureSource
	Notifier   SignatureNotifier // optional; without it signatures are only polled
	Interval   time.Duration
	Timeout    time.Duration
	Logger     *logrus.Logger
}

// Poller waits for bundles and transactions to reach a terminal state. Its timeout is
// a wall-clock bound of its own, independent of the caller's retry rounds.
type Poller struct {
	bundles    BundleStatusSource
	signatures SignatureSource
	notifier   SignatureNotifier
	interval   time.Duration
	timeout    time.Duration
	logger     *logrus.Logger
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultConfirmTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Poller{
		bundles:    cfg.Bundles,
		signatures: cfg.Signatures,
		notifier:   cfg.Notifier,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// BundleResult is a landed bundle. Finalized is nil when the block engine had no
// finalized record at the time of the single follow-up fetch.
type BundleResult struct {
	BundleID   string
	LandedSlot uint64
	Finalized  *FinalizedStatus
}

// WaitBundle polls inflight status until the bundle is terminal or the timeout
// passes. Landed triggers exactly one finalized-status fetch.
func (p *Poller) WaitBundle(ctx context.Context, id string) (*BundleResult, error) {
	var last BundleStatus
	err := p.poll(ctx, nil, func(ctx context.Context) (bool, error) {
		st, err := p.bundles.InflightStatus(ctx, id)
		if err != nil {
			p.logger.WithField("bundle", id).WithError(err).Debug("inflight status poll failed")
			return false, nil
		}
		last = st.Status
		return st.Status.Terminal(), nil
	})
	if err != nil {
		if IsTimeout(err) {
			metrics.ConfirmationTimeouts.Inc()
			return nil, fmt.Errorf("bundle %s last seen %s: %w", id, orUnknown(last), err)
		}
		return nil, err
	}

	metrics.BundleStatuses.WithLabelValues(string(last)).Inc()
	if last != StatusLanded {
		return nil, &BundleFailedError{BundleID: id, Status: last}
	}

	fin, err := p.bundles.FinalizedStatus(ctx, id)
	if err != nil {
		p.logger.WithField("bundle", id).WithError(err).Warn("finalized status fetch failed; treating landed bundle as confirmed")
		return &BundleResult{BundleID: id}, nil
	}
	if fin == nil {
		return &BundleResult{BundleID: id}, nil
	}
	if fin.Failed() {
		return nil, &BundleFailedError{BundleID: id, Status: StatusLanded, Payload: fin.Err}
	}
	return &BundleResult{BundleID: id, LandedSlot: fin.Slot, Finalized: fin}, nil
}

// WaitSignature polls one transaction until it is confirmed, fails, or the timeout
// passes.
func (p *Poller) WaitSignature(ctx context.Context, sig string) (*rpc.SignatureStatus, error) {
	var landed *rpc.SignatureStatus
	var wake <-chan struct{}
	if p.notifier != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		wake = p.notifier.Notify(subCtx, sig)
	}
	err := p.poll(ctx, wake, func(ctx context.Context) (bool, error) {
		st, err := p.signatures.GetSignatureStatus(ctx, sig)
		if err != nil {
			p.logger.WithField("signature", sig).WithError(err).Debug("signature status poll failed")
			return false, nil
		}
		if st == nil {
			return false, nil
		}
		if st.Failed() {
			return true, &TransactionFailedError{Signature: sig, Payload: st.Err}
		}
		switch st.ConfirmationStatus {
		case "confirmed", "finalized":
			landed = st
			return true, nil
		}
		return false, nil
	})
	if IsTimeout(err) {
		metrics.ConfirmationTimeouts.Inc()
		return nil, fmt.Errorf("transaction %s: %w", sig, err)
	}
	return landed, err
}

// poll runs check every interval until it reports done. A close of wake triggers one
// immediate re-check.
func (p *Poller) poll(ctx context.Context, wake <-chan struct{}, check func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrConfirmationTimeout
		case <-ticker.C:
		case <-wake:
			wake = nil
		}
	}
}

// Reconciliation is the resolved state of a transaction whose confirmation timed out.
type Reconciliation int

const (
	// StillPending means the blockhash is valid and the transaction may yet land.
	StillPending Reconciliation = iota
	Landed
	LandedWithError
	// Expired means the blockhash expired without the transaction landing; it is
	// now safe to submit a replacement.
	Expired
)

func (r Reconciliation) String() string {
	switch r {
	case Landed:
		return "landed"
	case LandedWithError:
		return "landed_with_error"
	case Expired:
		return "expired"
	default:
		return "pending"
	}
}

// Reconcile decides what a timed-out transaction turned into.
func (p *Poller) Reconcile(ctx context.Context, sig string, lastValidBlockHeight uint64) (Reconciliation, error) {
	st, err := p.signatures.GetSignatureStatus(ctx, sig)
	if err != nil {
		return StillPending, err
	}
	if st != nil {
		if st.Failed() {
			return LandedWithError, nil
		}
		if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
			return Landed, nil
		}
		return StillPending, nil
	}

	height, err := p.signatures.GetBlockHeight(ctx)
	if err != nil {
		return StillPending, err
	}
	if height > lastValidBlockHeight {
		return Expired, nil
	}
	return StillPending, nil
}

func orUnknown(s BundleStatus) string {
	if s == "" {
		return "Unknown"
	}
	return string(s)
}
