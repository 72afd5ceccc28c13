package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// RemoteSigner delegates signing to an external custody service:
//
//	GET  /v1/pubkey -> {"publicKey": "<base58>"}
//	POST /v1/sign   {"transaction": "<base64>"} -> {"signedTransaction": "<base64>"}
type RemoteSigner struct {
	baseURL string
	http    *http.Client
	pub     solana.PublicKey
}

// NewRemoteSigner resolves the signer's public key once at startup.
func NewRemoteSigner(ctx context.Context, baseURL string, timeout time.Duration) (*RemoteSigner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("wallet: signer url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &RemoteSigner{baseURL: baseURL, http: &http.Client{Timeout: timeout}}

	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/pubkey", nil, &resp); err != nil {
		return nil, err
	}
	pub, err := solana.PublicKeyFromBase58(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: signer returned invalid public key: %w", err)
	}
	s.pub = pub
	return s, nil
}

func (s *RemoteSigner) PublicKey() solana.PublicKey { return s.pub }

func (s *RemoteSigner) Sign(ctx context.Context, unsigned []byte) ([]byte, error) {
	var resp struct {
		SignedTransaction string `json:"signedTransaction"`
	}
	body := map[string]string{"transaction": base64.StdEncoding.EncodeToString(unsigned)}
	if err := s.do(ctx, http.MethodPost, "/v1/sign", body, &resp); err != nil {
		return nil, err
	}
	signed, err := base64.StdEncoding.DecodeString(resp.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("wallet: signer returned invalid base64: %w", err)
	}
	return signed, nil
}

func (s *RemoteSigner) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("wallet: signer request failed: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet: signer http %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wallet: decode signer response: %w", err)
	}
	return nil
}
