package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedTransfer(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()},
		solana.HashFromBytes(make([]byte, 32)),
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestParsePrivateKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	fromB58, err := parsePrivateKey(base58.Encode(key))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), fromB58.PublicKey())

	ints := make([]string, len(key))
	for i, b := range key {
		ints[i] = fmt.Sprint(b)
	}
	fromJSON, err := parsePrivateKey("[" + strings.Join(ints, ",") + "]")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), fromJSON.PublicKey())

	_, err = parsePrivateKey("[1,2,3]")
	assert.Error(t, err)
	_, err = parsePrivateKey("[1,2,300]")
	assert.Error(t, err)
	_, err = parsePrivateKey("0OIl")
	assert.Error(t, err)
}

func TestLocalSigner_Sign(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	signer := NewLocalSignerFromKey(key)

	unsigned := unsignedTransfer(t, signer.PublicKey())
	_, err := FirstSignature(unsigned)
	assert.Error(t, err, "placeholder signatures are not a transaction id")

	signed, err := signer.Sign(context.Background(), unsigned)
	require.NoError(t, err)
	assert.Equal(t, len(unsigned), len(signed))

	sig, err := FirstSignature(signed)
	require.NoError(t, err)

	tx, err := DecodeTransaction(signed)
	require.NoError(t, err)
	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, sig.Verify(signer.PublicKey(), msg))
}

func TestLocalSigner_ForeignPayer(t *testing.T) {
	signer := NewLocalSignerFromKey(solana.NewWallet().PrivateKey)
	_, err := signer.Sign(context.Background(), unsignedTransfer(t, solana.NewWallet().PublicKey()))
	assert.Error(t, err)
}

func TestNewLocalSigner_Empty(t *testing.T) {
	_, err := NewLocalSigner("  ")
	assert.Error(t, err)
}

func TestRemoteSigner(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	local := NewLocalSignerFromKey(key)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/pubkey":
			_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": key.PublicKey().String()})
		case "/v1/sign":
			var body struct {
				Transaction string `json:"transaction"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			raw, err := base64.StdEncoding.DecodeString(body.Transaction)
			require.NoError(t, err)
			signed, err := local.Sign(r.Context(), raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"signedTransaction": base64.StdEncoding.EncodeToString(signed)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	remote, err := NewRemoteSigner(context.Background(), srv.URL+"/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), remote.PublicKey())

	signed, err := remote.Sign(context.Background(), unsignedTransfer(t, remote.PublicKey()))
	require.NoError(t, err)
	_, err = FirstSignature(signed)
	assert.NoError(t, err)

	_, err = remote.Sign(context.Background(), unsignedTransfer(t, solana.NewWallet().PublicKey()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
}
