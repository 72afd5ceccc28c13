package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signer turns a serialized unsigned transaction into a serialized signed one.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, unsigned []byte) ([]byte, error)
}

// LocalSigner signs with an in-process key. Intended for development and tests;
// production deployments point SIGNER_URL at a custody service.
type LocalSigner struct {
	priv solana.PrivateKey
	pub  solana.PublicKey
}

// NewLocalSigner parses a base58-encoded 64-byte key or a solana-keygen JSON array.
func NewLocalSigner(privateKey string) (*LocalSigner, error) {
	if strings.TrimSpace(privateKey) == "" {
		return nil, fmt.Errorf("wallet: private key is required")
	}
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{priv: priv, pub: priv.PublicKey()}, nil
}

func NewLocalSignerFromKey(priv solana.PrivateKey) *LocalSigner {
	return &LocalSigner{priv: priv, pub: priv.PublicKey()}
}

func (s *LocalSigner) PublicKey() solana.PublicKey { return s.pub }

func (s *LocalSigner) Sign(_ context.Context, unsigned []byte) ([]byte, error) {
	tx, err := DecodeTransaction(unsigned)
	if err != nil {
		return nil, err
	}

	// Sign appends; drop the zero-filled placeholders first.
	tx.Signatures = nil
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pub) {
			return &s.priv
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return out, nil
}

// DecodeTransaction parses a wire-format transaction.
func DecodeTransaction(raw []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("wallet: decode transaction: %w", err)
	}
	return tx, nil
}

// FirstSignature returns the fee payer's signature, which is the transaction id.
func FirstSignature(signed []byte) (solana.Signature, error) {
	tx, err := DecodeTransaction(signed)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return solana.Signature{}, fmt.Errorf("wallet: transaction is not signed")
	}
	return tx.Signatures[0], nil
}

func parsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("wallet: invalid JSON private key: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet: invalid byte at %d: %d", i, v)
			}
			b[i] = byte(v)
		}
		if len(b) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(b))
		}
		return solana.PrivateKey(ed25519.PrivateKey(b)), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid base58 private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return solana.PrivateKey(ed25519.PrivateKey(raw)), nil
}
