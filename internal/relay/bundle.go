package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/rpc"
)

// BundleClient speaks the block-engine bundle JSON-RPC dialect.
type BundleClient struct {
	rpc *rpc.Client
}

func NewBundleClient(c *rpc.Client) *BundleClient {
	return &BundleClient{rpc: c}
}

// SubmitBundle sends signed transactions as one all-or-nothing bundle. Oversized and
// empty bundles are rejected before any network call.
func (b *BundleClient) SubmitBundle(ctx context.Context, signed [][]byte) (string, error) {
	if len(signed) == 0 {
		return "", &SubmissionError{Mode: "bundle", Err: ErrEmptyBundle}
	}
	if len(signed) > constants.MaxBundleSize {
		metrics.Submissions.WithLabelValues("bundle", "rejected").Inc()
		return "", &SubmissionError{
			Mode: "bundle",
			Err:  fmt.Errorf("%w: %d > %d", ErrBundleTooLarge, len(signed), constants.MaxBundleSize),
		}
	}

	encoded := make([]string, len(signed))
	for i, tx := range signed {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}

	id, err := rpc.Invoke[string](ctx, b.rpc, "sendBundle", []any{encoded, map[string]any{"encoding": "base64"}})
	if err != nil {
		metrics.Submissions.WithLabelValues("bundle", "error").Inc()
		return "", sendFailure("bundle", err)
	}
	metrics.Submissions.WithLabelValues("bundle", "ok").Inc()
	return id, nil
}

// InflightStatus reports the short-lived status of a recent bundle. Unknown bundles
// come back as StatusNotFound.
func (b *BundleClient) InflightStatus(ctx context.Context, id string) (*InflightStatus, error) {
	res, err := rpc.Invoke[struct {
		Value []InflightStatus `json:"value"`
	}](ctx, b.rpc, "getInflightBundleStatuses", []any{[]string{id}})
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return &InflightStatus{BundleID: id, Status: StatusNotFound}, nil
	}
	st := res.Value[0]
	if st.Status == "" {
		st.Status = StatusNotFound
	}
	return &st, nil
}

// FinalizedStatus returns the landed bundle's confirmation, or nil when the block
// engine has no record yet.
func (b *BundleClient) FinalizedStatus(ctx context.Context, id string) (*FinalizedStatus, error) {
	res, err := rpc.Invoke[struct {
		Value []*FinalizedStatus `json:"value"`
	}](ctx, b.rpc, "getBundleStatuses", []any{[]string{id}})
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// FastRelay submits single transactions through a sendTransaction endpoint.
type FastRelay struct {
	rpc  *rpc.Client
	opts rpc.SendOptions
}

func NewFastRelay(c *rpc.Client) *FastRelay {
	return &FastRelay{rpc: c, opts: rpc.DefaultSendOptions()}
}

func (f *FastRelay) Submit(ctx context.Context, signed []byte) (string, error) {
	if len(signed) == 0 {
		return "", &SubmissionError{Mode: "fast", Err: fmt.Errorf("empty transaction")}
	}
	sig, err := f.rpc.SendTransaction(ctx, signed, &f.opts)
	if err != nil {
		metrics.Submissions.WithLabelValues("fast", "error").Inc()
		return "", sendFailure("fast", err)
	}
	metrics.Submissions.WithLabelValues("fast", "ok").Inc()
	return sig, nil
}

// sendFailure wraps an error from a send call. Only a JSON-RPC error reply is a clear
// rejection; transport failures may have reached the relay.
func sendFailure(mode string, err error) *SubmissionError {
	var rejected *rpc.RPCError
	return &SubmissionError{Mode: mode, Err: err, Ambiguous: !errors.As(err, &rejected)}
}
