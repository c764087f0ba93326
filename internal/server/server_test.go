package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/ledger"
	"solana-token-ledger/internal/minting"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/program"
	"solana-token-ledger/internal/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	prog, err := program.New(program.Config{
		Store:  memory.NewAccountStore(),
		Events: memory.NewEventStore(),
	})
	require.NoError(t, err)

	srv := New(prog)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, ts
}

// post sends a signed envelope and decodes the response body into out.
func post(t *testing.T, ts *httptest.Server, path, method string, params any, out any, keys ...solana.PrivateKey) int {
	t.Helper()
	return postBody(t, ts, path, signedBody(t, method, params, keys...), out)
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var nonceSeq atomic.Uint64

func nextNonce() string {
	return fmt.Sprintf("n-%d", nonceSeq.Add(1))
}

// signedBody returns an encoded envelope for params signed by keys.
func signedBody(t *testing.T, method string, params any, keys ...solana.PrivateKey) []byte {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	env := Envelope{Params: raw}
	for _, k := range keys {
		sig, err := auth.Sign(k, SigningMessage(method, raw))
		require.NoError(t, err)
		env.Signatures = append(env.Signatures, sig)
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func postBody(t *testing.T, ts *httptest.Server, path string, body []byte, out any) int {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newKey() solana.PrivateKey {
	return solana.NewWallet().PrivateKey
}

func initialize(t *testing.T, ts *httptest.Server) {
	t.Helper()
	data := newKey()
	var receipt domain.Receipt
	code := post(t, ts, "/v1/initialize", MethodInitialize,
		InitializeParams{DataAccount: data.PublicKey().String()}, &receipt, data)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, receipt.Signature)
}

func createMint(t *testing.T, ts *httptest.Server, payerKey solana.PrivateKey) string {
	t.Helper()
	payer := payerKey.PublicKey().String()
	mint := newKey().PublicKey().String()
	meta, err := pda.SolanaDeriver{}.MetadataAddress(mint)
	require.NoError(t, err)

	req := minting.CreateMintRequest{
		Payer:           payer,
		Mint:            mint,
		FreezeAuthority: &payer,
		MintAuthority:   &payer,
		MetadataAddress: meta,
		Decimals:        9,
		Name:            "Solana Gold",
		Symbol:          "GOLDSOL",
		URI:             "https://example.com/spl-token.json",
	}
	var receipt domain.Receipt
	require.Equal(t, http.StatusCreated, post(t, ts, "/v1/mints", MethodCreateTokenMint, req, &receipt, payerKey))
	return mint
}

func ata(t *testing.T, ts *httptest.Server, payerKey solana.PrivateKey, mint, owner string) AccountResponse {
	t.Helper()
	var acct AccountResponse
	code := post(t, ts, "/v1/accounts", MethodGetOrCreateToken, AccountParams{
		Payer: payerKey.PublicKey().String(),
		Mint:  mint,
		Owner: owner,
	}, &acct, payerKey)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, code)
	return acct
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	_, ts := newTestServer(t)

	var status StatusResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/status", &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "memory", status.Backend)
	assert.False(t, status.Initialized)

	initialize(t, ts)
	require.Equal(t, http.StatusOK, get(t, ts, "/status", &status))
	assert.True(t, status.Initialized)
	assert.NotEmpty(t, status.DataAccount)
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t)
	get(t, ts, "/health", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsUptimeFreshOnScrape(t *testing.T) {
	_, ts := newTestServer(t)

	scrape := func() float64 {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		for _, line := range strings.Split(string(body), "\n") {
			if v, ok := strings.CutPrefix(line, "health_uptime_seconds "); ok {
				f, err := strconv.ParseFloat(v, 64)
				require.NoError(t, err)
				return f
			}
		}
		t.Fatal("health_uptime_seconds not exported")
		return 0
	}

	first := scrape()
	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, scrape(), first, "uptime advances without a /status call")
}

func TestServer_ReplayedEnvelopeRejected(t *testing.T) {
	_, ts := newTestServer(t)
	initialize(t, ts)

	payerKey := newKey()
	payer := payerKey.PublicKey().String()
	mint := createMint(t, ts, payerKey)
	from := ata(t, ts, payerKey, mint, payer)
	to := ata(t, ts, payerKey, mint, newKey().PublicKey().String())
	require.Equal(t, http.StatusOK, post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
		Payer: payer, Destination: from.Account, Mint: mint, Amount: 100, Nonce: nextNonce(),
	}, nil, payerKey))

	transfer := signedBody(t, MethodTransfer, ledger.TransferRequest{
		Source: from.Account, Destination: to.Account, Amount: 10, Nonce: nextNonce(),
	}, payerKey)
	require.Equal(t, http.StatusOK, postBody(t, ts, "/v1/transfer", transfer, nil))

	for i := 0; i < 2; i++ {
		var errResp ErrorResponse
		assert.Equal(t, http.StatusConflict, postBody(t, ts, "/v1/transfer", transfer, &errResp))
		assert.Equal(t, "replayed", errResp.Code)
	}

	var bal BalanceResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+from.Account+"/balance", &bal))
	assert.Equal(t, uint64(90), bal.Balance)
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+to.Account+"/balance", &bal))
	assert.Equal(t, uint64(10), bal.Balance)

	mintTo := signedBody(t, MethodMintTo, ledger.MintToRequest{
		Payer: payer, Destination: from.Account, Mint: mint, Amount: 5, Nonce: nextNonce(),
	}, payerKey)
	require.Equal(t, http.StatusOK, postBody(t, ts, "/v1/mint", mintTo, nil))
	assert.Equal(t, http.StatusConflict, postBody(t, ts, "/v1/mint", mintTo, nil))

	var info MintResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/mints/"+mint, &info))
	assert.Equal(t, uint64(105), info.Supply)

	var history []EventResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+to.Account+"/history", &history))
	assert.Len(t, history, 2, "account creation and one transfer")
}

func TestServer_NonceRequired(t *testing.T) {
	_, ts := newTestServer(t)
	initialize(t, ts)

	payerKey := newKey()
	payer := payerKey.PublicKey().String()
	mint := createMint(t, ts, payerKey)
	acct := ata(t, ts, payerKey, mint, payer)

	var errResp ErrorResponse
	code := post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
		Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1,
	}, &errResp, payerKey)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", errResp.Code)

	code = post(t, ts, "/v1/transfer", MethodTransfer, ledger.TransferRequest{
		Source: acct.Account, Destination: acct.Account, Amount: 1,
	}, &errResp, payerKey)
	assert.Equal(t, http.StatusBadRequest, code)

	code = post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
		Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1,
		Nonce: strings.Repeat("x", ledger.MaxNonceLen+1),
	}, &errResp, payerKey)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid", errResp.Code)

	// The nonce is part of the signed params.
	raw, err := json.Marshal(ledger.MintToRequest{Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1, Nonce: "a"})
	require.NoError(t, err)
	sig, err := auth.Sign(payerKey, SigningMessage(MethodMintTo, raw))
	require.NoError(t, err)
	tampered, err := json.Marshal(ledger.MintToRequest{Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1, Nonce: "b"})
	require.NoError(t, err)
	body, err := json.Marshal(Envelope{Params: tampered, Signatures: []auth.SignedBy{sig}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, postBody(t, ts, "/v1/mint", body, nil))
}

func TestServer_InitializeConfiguredDataAccount(t *testing.T) {
	configured := newKey()
	prog, err := program.New(program.Config{
		Store:       memory.NewAccountStore(),
		DataAccount: configured.PublicKey().String(),
	})
	require.NoError(t, err)
	srv := New(prog)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})

	other := newKey()
	var errResp ErrorResponse
	code := post(t, ts, "/v1/initialize", MethodInitialize,
		InitializeParams{DataAccount: other.PublicKey().String()}, &errResp, other)
	assert.Equal(t, http.StatusForbidden, code)

	code = post(t, ts, "/v1/initialize", MethodInitialize,
		InitializeParams{DataAccount: configured.PublicKey().String()}, nil, configured)
	assert.Equal(t, http.StatusCreated, code)
}

func TestServer_Uninitialized(t *testing.T) {
	_, ts := newTestServer(t)

	var errResp ErrorResponse
	code := get(t, ts, "/v1/accounts/"+newKey().PublicKey().String()+"/balance", &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "uninitialized", errResp.Code)
}

func TestServer_MintAndTransferFlow(t *testing.T) {
	_, ts := newTestServer(t)
	initialize(t, ts)

	payerKey := newKey()
	payer := payerKey.PublicKey().String()
	recipient := newKey().PublicKey().String()
	mint := createMint(t, ts, payerKey)

	from := ata(t, ts, payerKey, mint, payer)
	assert.True(t, from.Created)
	to := ata(t, ts, payerKey, mint, recipient)
	assert.Equal(t, recipient, to.Owner)

	// Second call returns the existing account.
	again := ata(t, ts, payerKey, mint, payer)
	assert.False(t, again.Created)
	assert.Equal(t, from.Account, again.Account)

	var receipt domain.Receipt
	code := post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
		Payer:       payer,
		Destination: from.Account,
		Mint:        mint,
		Amount:      150,
		Nonce:       nextNonce(),
	}, &receipt, payerKey)
	require.Equal(t, http.StatusOK, code)

	code = post(t, ts, "/v1/transfer", MethodTransfer, ledger.TransferRequest{
		Source:      from.Account,
		Destination: to.Account,
		Amount:      150,
		Nonce:       nextNonce(),
	}, &receipt, payerKey)
	require.Equal(t, http.StatusOK, code)

	var bal BalanceResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+from.Account+"/balance", &bal))
	assert.Equal(t, uint64(0), bal.Balance)
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+to.Account+"/balance", &bal))
	assert.Equal(t, uint64(150), bal.Balance)

	var acct AccountResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+to.Account, &acct))
	assert.Equal(t, mint, acct.Mint)

	var info MintResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/mints/"+mint, &info))
	assert.Equal(t, uint64(150), info.Supply)
	assert.Equal(t, uint8(9), info.Decimals)
	require.NotNil(t, info.Metadata)
	assert.Equal(t, "GOLDSOL", info.Metadata.Symbol)
	assert.Equal(t, payer, info.Metadata.UpdateAuthority)

	var history []EventResponse
	require.Equal(t, http.StatusOK, get(t, ts, "/v1/accounts/"+to.Account+"/history", &history))
	kinds := make([]string, 0, len(history))
	for _, e := range history {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{"CREATE_ACCOUNT", "TRANSFER"}, kinds)

	require.Equal(t, http.StatusOK, get(t, ts, "/v1/mints/"+mint+"/history", &history))
	assert.GreaterOrEqual(t, len(history), 5)
}

func TestServer_ErrorMapping(t *testing.T) {
	_, ts := newTestServer(t)
	initialize(t, ts)

	payerKey := newKey()
	payer := payerKey.PublicKey().String()
	mint := createMint(t, ts, payerKey)
	acct := ata(t, ts, payerKey, mint, payer)

	var errResp ErrorResponse

	t.Run("unsigned mint is forbidden", func(t *testing.T) {
		code := post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
			Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1, Nonce: nextNonce(),
		}, &errResp)
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "unauthorized", errResp.Code)
	})

	t.Run("signature over another method is ignored", func(t *testing.T) {
		raw, err := json.Marshal(ledger.MintToRequest{Payer: payer, Destination: acct.Account, Mint: mint, Amount: 1, Nonce: nextNonce()})
		require.NoError(t, err)
		sig, err := auth.Sign(payerKey, SigningMessage(MethodTransfer, raw))
		require.NoError(t, err)
		body, err := json.Marshal(Envelope{Params: raw, Signatures: []auth.SignedBy{sig}})
		require.NoError(t, err)

		resp, err := http.Post(ts.URL+"/v1/mint", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		other := ata(t, ts, payerKey, mint, newKey().PublicKey().String())
		code := post(t, ts, "/v1/transfer", MethodTransfer, ledger.TransferRequest{
			Source: acct.Account, Destination: other.Account, Amount: 1, Nonce: nextNonce(),
		}, &errResp, payerKey)
		assert.Equal(t, http.StatusUnprocessableEntity, code)
		assert.Equal(t, "insufficient_funds", errResp.Code)
	})

	t.Run("zero amount", func(t *testing.T) {
		code := post(t, ts, "/v1/mint", MethodMintTo, ledger.MintToRequest{
			Payer: payer, Destination: acct.Account, Mint: mint, Amount: 0, Nonce: nextNonce(),
		}, &errResp, payerKey)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown account", func(t *testing.T) {
		code := get(t, ts, "/v1/accounts/"+newKey().PublicKey().String()+"/balance", &errResp)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "not_found", errResp.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		code := get(t, ts, "/v1/mints/not-an-address", &errResp)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("second initialize conflicts", func(t *testing.T) {
		data := newKey()
		code := post(t, ts, "/v1/initialize", MethodInitialize,
			InitializeParams{DataAccount: data.PublicKey().String()}, &errResp, data)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "already_exists", errResp.Code)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/v1/transfer", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown params field", func(t *testing.T) {
		code := post(t, ts, "/v1/transfer", MethodTransfer, map[string]any{"src": acct.Account}, &errResp, payerKey)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "bad_request", errResp.Code)
	})

	t.Run("wrong http method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/transfer")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrMintNotFound, http.StatusNotFound},
		{domain.ErrAccountNotFound, http.StatusNotFound},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrUninitialized, http.StatusConflict},
		{domain.ErrReplayed, http.StatusConflict},
		{domain.ErrInvalidNonce, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrInvalidDecimals, http.StatusBadRequest},
		{domain.ErrMintMismatch, http.StatusUnprocessableEntity},
		{domain.ErrOverflow, http.StatusUnprocessableEntity},
		{domain.ErrConflict, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}
}

func TestSigningMessage(t *testing.T) {
	assert.Equal(t, []byte(`transfer:{"a":1}`), SigningMessage(MethodTransfer, []byte(`{"a":1}`)))
}
