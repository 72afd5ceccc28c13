package routeapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/quote"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"
)

// Client talks to a single-call route provider that returns quote, instructions,
// lookup tables and expiry in one response.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Limiter *rate.Limiter

	user solana.PublicKey
}

func NewClient(baseURL, apiKey string, user solana.PublicKey) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(apiKey),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		user:    user,
	}
}

func (c *Client) WithRateLimit(perSec float64, burst int) *Client {
	if perSec > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
	}
	return c
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("routeapi http %d", e.StatusCode)
	}
	return fmt.Sprintf("routeapi http %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Name() string { return "routeapi" }

// Quote implements quote.Provider.
func (c *Client) Quote(ctx context.Context, spec quote.SwapSpec) (*quote.Quote, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("routeapi base url not configured")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(QuoteRequest{
		InputMint:     spec.InputMint.String(),
		OutputMint:    spec.OutputMint.String(),
		Amount:        strconv.FormatUint(spec.Amount, 10),
		SlippageBps:   spec.MaxSlippageBps,
		UserPublicKey: c.user.String(),
		WrapNative:    true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/quote", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("authorization", "Bearer "+c.APIKey)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routeapi request: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusNotFound {
		return nil, quote.ErrNoRoute
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &HTTPError{StatusCode: res.StatusCode, Message: msg}
	}

	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode routeapi quote: %w", err)
	}
	return out.toQuote()
}

func (r *QuoteResponse) toQuote() (*quote.Quote, error) {
	in, err := solana.PublicKeyFromBase58(r.InputMint)
	if err != nil {
		return nil, fmt.Errorf("invalid inputMint: %w", err)
	}
	out, err := solana.PublicKeyFromBase58(r.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("invalid outputMint: %w", err)
	}
	inAmount, err := strconv.ParseUint(r.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inAmount %q: %w", r.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(r.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid outAmount %q: %w", r.OutAmount, err)
	}

	q := &quote.Quote{
		Provider:      "routeapi",
		InputMint:     in,
		OutputMint:    out,
		InAmount:      inAmount,
		OutAmount:     outAmount,
		SlippageBps:   r.SlippageBps,
		ExpiresAtSlot: r.ExpiresAtSlot,
		ContextSlot:   r.ContextSlot,
	}
	if r.ExpiresAt > 0 {
		q.ExpiresAt = time.UnixMilli(r.ExpiresAt)
	}

	for i, ix := range r.Instructions {
		program, err := solana.PublicKeyFromBase58(ix.Program)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid program: %w", i, err)
		}
		data, err := base64.StdEncoding.DecodeString(ix.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid data: %w", i, err)
		}
		metas := make([]quote.AccountMeta, len(ix.Accounts))
		for j, a := range ix.Accounts {
			pk, err := solana.PublicKeyFromBase58(a.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d account %d: %w", i, j, err)
			}
			metas[j] = quote.AccountMeta{Pubkey: pk, IsSigner: a.Signer, IsWritable: a.Writable}
		}
		q.Instructions = append(q.Instructions, quote.Instruction{ProgramID: program, Accounts: metas, Data: data})
	}

	for _, a := range r.AddressLookupTables {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid lookup table %q: %w", a, err)
		}
		q.LookupTables = append(q.LookupTables, pk)
	}
	return q, nil
}
