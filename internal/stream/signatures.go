// Package stream pushes cluster notifications over the RPC websocket so pollers can
// re-check state as soon as it changes instead of waiting out their interval.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SignatureStream opens one signatureSubscribe per watched transaction.
type SignatureStream struct {
	url        string
	commitment string
	dialer     *websocket.Dialer
	logger     *logrus.Logger
	nextID     atomic.Uint64
}

func NewSignatureStream(url string, logger *logrus.Logger) *SignatureStream {
	if logger == nil {
		logger = logrus.New()
	}
	return &SignatureStream{
		url:        url,
		commitment: "confirmed",
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:     logger,
	}
}

type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
	} `json:"params,omitempty"`
}

// Notify returns a channel closed once the cluster reports sig at the stream's
// commitment. Connection failures are logged and leave the channel open, so callers
// keep polling as before. Cancel ctx to release the subscription.
func (s *SignatureStream) Notify(ctx context.Context, sig string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		if err := s.watch(ctx, sig, done); err != nil && ctx.Err() == nil {
			s.logger.WithField("signature", sig).WithError(err).Debug("signature stream ended")
		}
	}()
	return done
}

func (s *SignatureStream) watch(ctx context.Context, sig string, done chan<- struct{}) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	id := s.nextID.Add(1)
	subscribe := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "signatureSubscribe",
		"params": []any{
			sig,
			map[string]any{"commitment": s.commitment},
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch {
		case msg.Error != nil:
			return fmt.Errorf("subscribe rejected: %d %s", msg.Error.Code, msg.Error.Message)
		case msg.Method == "signatureNotification":
			close(done)
			return nil
		}
	}
}
