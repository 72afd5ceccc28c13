package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/flags"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/ledger"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/relay"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/swapengine"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

var (
	solMint  = solana.MustPublicKeyFromBase58(constants.TokenMints["SOL"])
	usdcMint = solana.MustPublicKeyFromBase58(constants.TokenMints["USDC"])
)

type fakeEngine struct {
	executed [][]quote.SwapSpec
	execute  func(specs []quote.SwapSpec) (*swapengine.Result, error)
	quoteErr error
	legs     map[string][]ledger.Leg
	noLedger bool
}

func (f *fakeEngine) ParseLegs(intents []swapengine.LegIntent) ([]quote.SwapSpec, error) {
	specs := make([]quote.SwapSpec, 0, len(intents))
	for i, li := range intents {
		spec, err := li.Spec(50)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (f *fakeEngine) Execute(_ context.Context, specs []quote.SwapSpec) (*swapengine.Result, error) {
	f.executed = append(f.executed, specs)
	return f.execute(specs)
}

func (f *fakeEngine) CheckRisk(specs []quote.SwapSpec) *swapengine.RiskCheckResult {
	return swapengine.NewRiskManager(swapengine.RiskConfig{MaxLegs: 1}).CheckLegs(specs)
}

func (f *fakeEngine) Quote(_ context.Context, spec quote.SwapSpec) (*quote.Quote, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &quote.Quote{
		Provider:     "jupiter",
		InputMint:    spec.InputMint,
		OutputMint:   spec.OutputMint,
		InAmount:     spec.Amount,
		OutAmount:    150_000_000,
		SlippageBps:  spec.MaxSlippageBps,
		Instructions: make([]quote.Instruction, 3),
	}, nil
}

func (f *fakeEngine) Status(context.Context) *swapengine.EngineStatus {
	return &swapengine.EngineStatus{Wallet: "wallet", Providers: []string{"jupiter"}, Mode: "fast", ExecutionsOn: true}
}

func (f *fakeEngine) ExecutionLegs(_ context.Context, id string) ([]ledger.Leg, error) {
	if f.noLedger {
		return nil, swapengine.ErrNoLedger
	}
	return f.legs[id], nil
}

func landed(specs []quote.SwapSpec) *swapengine.Result {
	start := time.Now()
	res := &swapengine.Result{ExecutionID: "exec-1", Mode: swapengine.ModeFast, Success: true, Attempt: 1, StartedAt: start, FinishedAt: start.Add(time.Second)}
	for i, s := range specs {
		res.Succeeded = append(res.Succeeded, swapengine.LegOutcome{
			Index: i, Spec: s, Status: swapengine.LegSucceeded, Stage: swapengine.StageConfirm, Attempt: 1,
			TransactionID: fmt.Sprintf("sig-%d", i),
		})
	}
	return res
}

func newTestServer(t *testing.T, engine *fakeEngine, flagStore *flags.Store, cfg ServerConfig) http.Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	srv, err := NewServer(ServerDeps{
		Handlers: &Handlers{Engine: engine, Flags: flagStore, DevMode: true, Logger: logger},
		Config:   cfg,
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(ServerDeps{Handlers: &Handlers{}})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	resp := decode[HealthResponse](t, rec)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Engine)
	assert.Equal(t, []string{"jupiter"}, resp.Engine.Providers)
}

func TestAPIKeyRequired(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}, nil, ServerConfig{APIKey: testAPIKey})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Metrics are scraped without a key.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecute_Success(t *testing.T) {
	engine := &fakeEngine{execute: func(specs []quote.SwapSpec) (*swapengine.Result, error) { return landed(specs), nil }}
	h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodPost, "/v1/executions", ExecuteRequest{Legs: []LegRequest{
		{Input: "SOL", Output: "USDC", Amount: "1.5"},
		{Input: "USDC", Output: "SOL", Amount: "10"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, engine.executed, 1)
	assert.Equal(t, uint64(1_500_000_000), engine.executed[0][0].Amount)
	assert.Equal(t, uint64(10_000_000), engine.executed[0][1].Amount)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "exec-1", body["id"])
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1000, body["duration_ms"])
	assert.Len(t, body["legs"], 2)
}

func TestExecute_PartialReturnsOutcomes(t *testing.T) {
	engine := &fakeEngine{execute: func(specs []quote.SwapSpec) (*swapengine.Result, error) {
		res := landed(specs[:1])
		res.Success = false
		res.Attempt = 3
		res.Failed = []swapengine.LegOutcome{{Index: 1, Spec: specs[1], Status: swapengine.LegFailed, Stage: swapengine.StageQuote, Attempt: 3, Err: quote.ErrNoRoute}}
		return res, &swapengine.PartialExecutionError{Succeeded: res.Succeeded, Failed: res.Failed, Attempt: 3, Last: quote.ErrNoRoute}
	}}
	h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodPost, "/v1/executions", ExecuteRequest{Legs: []LegRequest{
		{Input: "SOL", Output: "USDC", Amount: "1"},
		{Input: "USDT", Output: "USDC", Amount: "1"},
	}})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body ledger.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.Len(t, body.Legs, 2)
	assert.Equal(t, "succeeded", body.Legs[0].Status)
	assert.Equal(t, "no route", body.Legs[1].Error)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		legs []LegRequest
		code int
	}{
		{"disabled", swapengine.ErrExecutionDisabled, nil, http.StatusServiceUnavailable},
		{"risk", fmt.Errorf("%w: too many legs", swapengine.ErrRiskRejected), nil, http.StatusUnprocessableEntity},
		{"bundle too large", &relay.SubmissionError{Mode: "bundle", Err: relay.ErrBundleTooLarge}, nil, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), nil, http.StatusInternalServerError},
		{"no legs", nil, []LegRequest{}, http.StatusBadRequest},
		{"bad amount", nil, []LegRequest{{Input: "SOL", Output: "USDC", Amount: "1.0000000001"}}, http.StatusBadRequest},
		{"unknown token", nil, []LegRequest{{Input: "NOPE", Output: "USDC", Amount: "1"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{execute: func([]quote.SwapSpec) (*swapengine.Result, error) { return nil, tt.err }}
			h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey, ExecRate: 100, ExecBurst: 100})

			legs := tt.legs
			if legs == nil {
				legs = []LegRequest{{Input: "SOL", Output: "USDC", Amount: "1"}}
			}
			rec := do(t, h, http.MethodPost, "/v1/executions", ExecuteRequest{Legs: legs})
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestExecute_RateLimited(t *testing.T) {
	engine := &fakeEngine{execute: func(specs []quote.SwapSpec) (*swapengine.Result, error) { return landed(specs), nil }}
	h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey, ExecRate: 0.01, ExecBurst: 1})

	req := ExecuteRequest{Legs: []LegRequest{{Input: "SOL", Output: "USDC", Amount: "1"}}}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/executions", req).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/v1/executions", req).Code)
	assert.Len(t, engine.executed, 1)
}

func TestCheckRisk(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodPost, "/v1/risk/check", ExecuteRequest{Legs: []LegRequest{
		{Input: "SOL", Output: "USDC", Amount: "1"},
		{Input: "USDC", Output: "SOL", Amount: "1"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RiskCheckResponse](t, rec)
	assert.False(t, resp.Allowed)
	assert.Contains(t, resp.Reason, "exceed max 1")
}

func TestQuote(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=1.5&slippageBps=100", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[QuoteResponse](t, rec)
	assert.Equal(t, "jupiter", resp.Provider)
	assert.Equal(t, "1.5", resp.InAmount)
	assert.Equal(t, "150", resp.OutAmount)
	assert.Equal(t, "148.5", resp.MinOut)
	assert.Equal(t, 3, resp.Instructions)
	assert.Equal(t, solMint.String(), resp.InputMint)
	assert.Equal(t, usdcMint.String(), resp.OutputMint)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=1&slippageBps=x", nil).Code)

	engine.quoteErr = fmt.Errorf("jupiter: %w", quote.ErrNoRoute)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=1", nil).Code)
	engine.quoteErr = &quote.QuoteError{Attempts: []quote.ProviderError{{Provider: "jupiter", Err: errors.New("upstream down")}}}
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=1", nil).Code)
	engine.quoteErr = context.DeadlineExceeded
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/v1/quote?input=SOL&output=USDC&amount=1", nil).Code)
}

func TestExecutionLegs(t *testing.T) {
	engine := &fakeEngine{legs: map[string][]ledger.Leg{"exec-1": {{Index: 0, Status: "succeeded", Signature: "sig-0"}}}}
	h := newTestServer(t, engine, nil, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodGet, "/v1/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ExecutionLegsResponse](t, rec)
	assert.Equal(t, "sig-0", resp.Legs[0].Signature)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/executions/missing", nil).Code)

	engine.noLedger = true
	assert.Equal(t, http.StatusNotImplemented, do(t, h, http.MethodGet, "/v1/executions/exec-1", nil).Code)
}

func TestFlags_NotConfigured(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}, nil, ServerConfig{APIKey: testAPIKey})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/v1/flags", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPut, "/v1/flags/executions.enabled", FlagUpdateRequest{}).Code)
}

func TestNotFound(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}, nil, ServerConfig{})
	rec := do(t, h, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestFlagsCRUD(t *testing.T) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, DB: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for flag tests: %v", err)
	}
	require.NoError(t, client.Del(ctx, constants.RedisKeyFlags).Err())
	t.Cleanup(func() {
		_ = client.Del(context.Background(), constants.RedisKeyFlags).Err()
		_ = client.Close()
	})

	store, err := flags.NewStore(client)
	require.NoError(t, err)
	h := newTestServer(t, &fakeEngine{}, store, ServerConfig{APIKey: testAPIKey})

	rec := do(t, h, http.MethodPost, "/v1/flags", FlagUpsertRequest{Key: flags.Executions, Value: false})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[flags.Flag](t, rec)
	assert.Equal(t, flags.Executions, created.Key)
	assert.False(t, created.Value)

	rec = do(t, h, http.MethodPut, "/v1/flags/"+flags.Executions, FlagUpdateRequest{Value: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[flags.Flag](t, rec).Value)

	rec = do(t, h, http.MethodGet, "/v1/flags/"+flags.Executions, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[flags.Flag](t, rec).Value)

	rec = do(t, h, http.MethodGet, "/v1/flags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]flags.Flag](t, rec)["items"], 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/flags", FlagUpsertRequest{Key: "bad key"}).Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/flags/"+flags.Executions, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/flags/"+flags.Executions, nil).Code)
}
