package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/aman-zulfiqar/solana-leg-executor/internal/swapengine"
	"github.com/labstack/echo/v4"
)

// Quote returns the best route for one leg without building or executing it.
// Query: input, output, amount (UI units), optional slippageBps.
func (h *Handlers) Quote(c echo.Context) error {
	leg := LegRequest{
		Input:  strings.TrimSpace(c.QueryParam("input")),
		Output: strings.TrimSpace(c.QueryParam("output")),
		Amount: strings.TrimSpace(c.QueryParam("amount")),
	}
	if leg.Input == "" {
		return h.err(c, http.StatusBadRequest, "invalid input", map[string]any{"input": "required"})
	}
	if leg.Output == "" {
		return h.err(c, http.StatusBadRequest, "invalid output", map[string]any{"output": "required"})
	}
	if leg.Amount == "" {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "required"})
	}
	if v := strings.TrimSpace(c.QueryParam("slippageBps")); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid slippageBps", map[string]any{"slippageBps": "must be uint16"})
		}
		tmp := uint16(n)
		leg.SlippageBps = &tmp
	}

	specs, err := h.Engine.ParseLegs([]swapengine.LegIntent{leg.intent()})
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid leg", map[string]any{"err": err.Error()})
	}
	spec := specs[0]
	if spec.Skippable() {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "must be > 0"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	q, err := h.Engine.Quote(ctx, spec)
	if err != nil {
		switch {
		case errors.Is(err, quote.ErrNoRoute):
			return h.err(c, http.StatusNotFound, "no route", map[string]any{"err": err.Error()})
		case quote.IsQuoteError(err):
			return h.err(c, http.StatusBadGateway, "quote failed", map[string]any{"err": err.Error()})
		}
		return h.err(c, http.StatusInternalServerError, "quote failed", map[string]any{"err": err.Error()})
	}

	return c.JSON(http.StatusOK, QuoteResponse{
		Provider:     q.Provider,
		InputMint:    q.InputMint.String(),
		OutputMint:   q.OutputMint.String(),
		InAmount:     swapengine.FormatAmount(q.InputMint, q.InAmount),
		OutAmount:    swapengine.FormatAmount(q.OutputMint, q.OutAmount),
		MinOut:       swapengine.FormatAmount(q.OutputMint, q.MinOut()),
		SlippageBps:  q.SlippageBps,
		Instructions: len(q.Instructions),
		LookupTables: len(q.LookupTables),
		ContextSlot:  q.ContextSlot,
		ExpiresAt:    q.ExpiresAt,
	})
}
