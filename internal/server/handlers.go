package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/flags"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/ledger"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/relay"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/swapengine"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Executor is the part of the engine the API drives. *swapengine.Engine implements it.
type Executor interface {
	ParseLegs(intents []swapengine.LegIntent) ([]quote.SwapSpec, error)
	Execute(ctx context.Context, specs []quote.SwapSpec) (*swapengine.Result, error)
	CheckRisk(specs []quote.SwapSpec) *swapengine.RiskCheckResult
	Quote(ctx context.Context, spec quote.SwapSpec) (*quote.Quote, error)
	Status(ctx context.Context) *swapengine.EngineStatus
	ExecutionLegs(ctx context.Context, id string) ([]ledger.Leg, error)
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Engine  Executor
	Flags   *flags.Store   // Redis-backed feature flags store, nil without Redis
	DevMode bool           // Enable detailed error responses in development
	Logger  *logrus.Logger // Structured logger

	// ExecuteTimeout bounds one execution including all retry rounds
	ExecuteTimeout time.Duration
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func (h *Handlers) log() *logrus.Logger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// Health reports liveness plus a summary of the engine
func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	return c.JSON(http.StatusOK, HealthResponse{OK: true, Engine: h.Engine.Status(ctx)})
}

// parseLegs writes the error response itself; nil specs mean the request is done.
func (h *Handlers) parseLegs(c echo.Context) ([]quote.SwapSpec, error) {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return nil, h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if len(req.Legs) == 0 {
		return nil, h.err(c, http.StatusBadRequest, "legs are required", map[string]any{"legs": "at least one leg"})
	}
	intents := make([]swapengine.LegIntent, len(req.Legs))
	for i, l := range req.Legs {
		intents[i] = l.intent()
	}
	specs, err := h.Engine.ParseLegs(intents)
	if err != nil {
		return nil, h.err(c, http.StatusBadRequest, "invalid legs", map[string]any{"err": err.Error()})
	}
	return specs, nil
}

// Execute runs a leg set and reports every leg's outcome. A partial execution
// answers 502 with the same body so callers can see which legs landed.
func (h *Handlers) Execute(c echo.Context) error {
	specs, err := h.parseLegs(c)
	if specs == nil {
		return err
	}

	// The execution outlives a dropped client; its legs may already be on chain.
	ctx, cancel := h.withTimeout(context.WithoutCancel(c.Request().Context()), h.ExecuteTimeout)
	defer cancel()

	res, err := h.Engine.Execute(ctx, specs)
	if res == nil {
		return h.executeError(c, err)
	}

	body := ExecutionResponse{Execution: swapengine.ToLedger(res), DurationMs: res.Duration().Milliseconds()}
	if err != nil {
		h.log().WithError(err).WithField("execution_id", res.ExecutionID).Warn("execution finished with failed legs")
		return c.JSON(http.StatusBadGateway, body)
	}
	return c.JSON(http.StatusOK, body)
}

func (h *Handlers) executeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, swapengine.ErrExecutionDisabled):
		return h.err(c, http.StatusServiceUnavailable, "executions are disabled", nil)
	case errors.Is(err, swapengine.ErrRiskRejected):
		return h.err(c, http.StatusUnprocessableEntity, "rejected by risk checks", map[string]any{"reason": err.Error()})
	case errors.Is(err, relay.ErrBundleTooLarge), errors.Is(err, swapengine.ErrNoLegs):
		return h.err(c, http.StatusBadRequest, "invalid legs", map[string]any{"err": err.Error()})
	default:
		h.log().WithError(err).Error("execution failed to start")
		return h.err(c, http.StatusInternalServerError, "execution failed", map[string]any{"err": err.Error()})
	}
}

// CheckRisk runs preflight checks without quoting or executing
func (h *Handlers) CheckRisk(c echo.Context) error {
	specs, err := h.parseLegs(c)
	if specs == nil {
		return err
	}
	r := h.Engine.CheckRisk(specs)
	return c.JSON(http.StatusOK, RiskCheckResponse{
		Allowed:          r.Allowed,
		Reason:           r.Reason,
		Leg:              r.Leg,
		DailyNativeUsed:  r.DailyNativeUsed,
		DailyNativeLimit: r.DailyNativeLimit,
	})
}

// ExecutionLegs returns the recorded legs of a past execution
func (h *Handlers) ExecutionLegs(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return h.err(c, http.StatusBadRequest, "invalid id", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	legs, err := h.Engine.ExecutionLegs(ctx, id)
	if err != nil {
		if errors.Is(err, swapengine.ErrNoLedger) {
			return h.err(c, http.StatusNotImplemented, "execution ledger is not configured", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to read execution", nil)
	}
	if len(legs) == 0 {
		return h.err(c, http.StatusNotFound, "execution not found", nil)
	}
	return c.JSON(http.StatusOK, ExecutionLegsResponse{ID: id, Legs: legs})
}

func (h *Handlers) flagsUnavailable(c echo.Context) error {
	return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
}

// FlagsUpsert creates or updates a feature flag with the given key and value
func (h *Handlers) FlagsUpsert(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	var req FlagUpsertRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if err := flags.ValidateKey(req.Key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, req.Key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to upsert flag", nil)
	}
	h.log().WithFields(logrus.Fields{"key": out.Key, "value": out.Value}).Info("flag updated")
	return c.JSON(http.StatusOK, out)
}

// FlagsUpdate updates an existing feature flag with the given key
func (h *Handlers) FlagsUpdate(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}
	var req FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to update flag", nil)
	}
	h.log().WithFields(logrus.Fields{"key": out.Key, "value": out.Value}).Info("flag updated")
	return c.JSON(http.StatusOK, out)
}

// FlagsGet retrieves a feature flag by its key
// Returns 404 if flag doesn't exist
func (h *Handlers) FlagsGet(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Get(ctx, key)
	if err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "flag not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get flag", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsList returns all feature flags in the system
func (h *Handlers) FlagsList(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Flags.List(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list flags", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// FlagsDelete removes a feature flag by its key
// Returns 204 No Content on successful deletion
func (h *Handlers) FlagsDelete(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Flags.Delete(ctx, key); err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to delete flag", nil)
	}
	return c.NoContent(http.StatusNoContent)
}
