package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer answers one signatureSubscribe and then runs reply.
func wsServer(t *testing.T, reply func(conn *websocket.Conn, req map[string]any)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		reply(conn, req)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNotify_ClosesOnNotification(t *testing.T) {
	got := make(chan map[string]any, 1)
	url := wsServer(t, func(conn *websocket.Conn, req map[string]any) {
		got <- req
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": 7})
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "signatureNotification",
			"params":  map[string]any{"subscription": 7, "result": map[string]any{"value": map[string]any{"err": nil}}},
		})
		time.Sleep(100 * time.Millisecond)
	})

	s := NewSignatureStream(url, nil)
	select {
	case <-s.Notify(context.Background(), "sig-1"):
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	req := <-got
	assert.Equal(t, "signatureSubscribe", req["method"])
	params, ok := req["params"].([]any)
	require.True(t, ok)
	assert.Equal(t, "sig-1", params[0])
	raw, _ := json.Marshal(params[1])
	assert.JSONEq(t, `{"commitment":"confirmed"}`, string(raw))
}

func TestNotify_RejectedSubscriptionNeverFires(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, req map[string]any) {
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req["id"], "error": map[string]any{"code": -32602, "message": "bad signature"}})
	})

	ch := NewSignatureStream(url, nil).Notify(context.Background(), "nope")
	select {
	case <-ch:
		t.Fatal("rejected subscription must not notify")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNotify_DialFailureNeverFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewSignatureStream("ws://127.0.0.1:1", nil).Notify(ctx, "sig")
	select {
	case <-ch:
		t.Fatal("unreachable stream must not notify")
	case <-time.After(200 * time.Millisecond):
	}
}
