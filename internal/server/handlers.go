package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/ledger"
	"solana-token-ledger/internal/minting"
	"solana-token-ledger/internal/observability"
)

// Instruction names. A mutation's signatures cover "<method>:" followed by
// the raw params bytes. Balance-changing params carry a nonce, so the
// signatures cover it and a resubmitted envelope is rejected.
const (
	MethodInitialize       = "initialize"
	MethodCreateTokenMint  = "createTokenMint"
	MethodMintTo           = "mintTo"
	MethodTransfer         = "transfer"
	MethodGetOrCreateToken = "getOrCreateAssociatedTokenAccount"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// Envelope is the body of every mutating request.
type Envelope struct {
	Params     json.RawMessage `json:"params"`
	Signatures []auth.SignedBy `json:"signatures"`
}

// SigningMessage returns the bytes a client signs for method and params.
func SigningMessage(method string, params []byte) []byte {
	msg := make([]byte, 0, len(method)+1+len(params))
	msg = append(msg, method...)
	msg = append(msg, ':')
	return append(msg, params...)
}

// InitializeParams are the params of MethodInitialize.
type InitializeParams struct {
	DataAccount string `json:"data_account"`
}

// AccountParams are the params of MethodGetOrCreateToken.
type AccountParams struct {
	Payer string `json:"payer"`
	Mint  string `json:"mint"`
	Owner string `json:"owner"`
}

// AccountResponse describes a token account.
type AccountResponse struct {
	Account     string `json:"account"`
	Owner       string `json:"owner"`
	Mint        string `json:"mint"`
	Balance     uint64 `json:"balance"`
	CreatedSlot uint64 `json:"created_slot"`
	Created     bool   `json:"created,omitempty"`
}

// BalanceResponse is the body of the balance endpoint.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

// MintResponse describes a mint and its metadata.
type MintResponse struct {
	Mint            string  `json:"mint"`
	Decimals        uint8   `json:"decimals"`
	Supply          uint64  `json:"supply"`
	MintAuthority   *string `json:"mint_authority"`
	FreezeAuthority *string `json:"freeze_authority"`
	MetadataAddress string  `json:"metadata_address"`
	CreatedSlot     uint64  `json:"created_slot"`

	Metadata *MetadataResponse `json:"metadata,omitempty"`
}

// MetadataResponse describes a mint's metadata record.
type MetadataResponse struct {
	Address         string `json:"address"`
	UpdateAuthority string `json:"update_authority"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	URI             string `json:"uri"`
}

// EventResponse is one journaled ledger event.
type EventResponse struct {
	Signature   string `json:"signature"`
	Kind        string `json:"kind"`
	Slot        uint64 `json:"slot"`
	Mint        string `json:"mint,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Authority   string `json:"authority,omitempty"`
	Amount      uint64 `json:"amount"`
	SupplyAfter uint64 `json:"supply_after"`
	Timestamp   int64  `json:"timestamp"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var params InitializeParams
	signers, err := decodeEnvelope(r, MethodInitialize, &params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.program.Initialize(r.Context(), signers, params.DataAccount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	var params minting.CreateMintRequest
	signers, err := decodeEnvelope(r, MethodCreateTokenMint, &params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.program.CreateTokenMint(r.Context(), signers, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleMintTo(w http.ResponseWriter, r *http.Request) {
	var params ledger.MintToRequest
	signers, err := decodeEnvelope(r, MethodMintTo, &params)
	if err == nil {
		err = requireNonce(params.Nonce)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.program.Mint(r.Context(), signers, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var params ledger.TransferRequest
	signers, err := decodeEnvelope(r, MethodTransfer, &params)
	if err == nil {
		err = requireNonce(params.Nonce)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.program.Transfer(r.Context(), signers, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetOrCreateAccount(w http.ResponseWriter, r *http.Request) {
	var params AccountParams
	signers, err := decodeEnvelope(r, MethodGetOrCreateToken, &params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, created, err := s.program.GetOrCreateAssociatedTokenAccount(r.Context(), signers, params.Payer, params.Mint, params.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	resp := accountResponse(acct)
	resp.Created = created
	writeJSON(w, code, resp)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.program.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	balance, err := s.program.BalanceOf(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: id, Balance: balance})
}

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.program.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponses(events))
}

func (s *Server) handleMintInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.program.MintInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	m := info.Mint
	resp := MintResponse{
		Mint:            m.MintID,
		Decimals:        m.Decimals,
		Supply:          m.Supply,
		MintAuthority:   m.MintAuthority,
		FreezeAuthority: m.FreezeAuthority,
		MetadataAddress: m.MetadataAddress,
		CreatedSlot:     m.CreatedSlot,
	}
	if md := info.Metadata; md != nil {
		resp.Metadata = &MetadataResponse{
			Address:         md.Address,
			UpdateAuthority: md.UpdateAuthority,
			Name:            md.Name,
			Symbol:          md.Symbol,
			URI:             md.URI,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMintHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.program.MintHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponses(events))
}

// decodeEnvelope reads a mutation envelope, verifies its signatures over
// method and the raw params, and decodes params into dst.
func decodeEnvelope(r *http.Request, method string, dst any) (auth.Verifier, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxBodyBytes)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", errBadRequest, err)
	}
	if len(env.Params) == 0 {
		return nil, fmt.Errorf("%w: params are required", errBadRequest)
	}

	signers, err := auth.NewSignatureSet(SigningMessage(method, env.Params), env.Signatures)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, fmt.Errorf("%w: decode params: %v", errBadRequest, err)
	}
	return signers, nil
}

func requireNonce(nonce string) error {
	if nonce == "" {
		return fmt.Errorf("%w: params.nonce is required", errBadRequest)
	}
	return nil
}

// statusCode maps an operation error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrInvalidDecimals),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidNonce):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrUninitialized),
		errors.Is(err, domain.ErrReplayed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMintMismatch),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	label := observability.ResultLabel(err)
	if errors.Is(err, errBadRequest) {
		label = "bad_request"
	}

	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, code, ErrorResponse{Error: "internal error", Code: label})
		return
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: label})
}

func accountResponse(a *domain.TokenAccount) AccountResponse {
	return AccountResponse{
		Account:     a.AccountID,
		Owner:       a.Owner,
		Mint:        a.MintID,
		Balance:     a.Balance,
		CreatedSlot: a.CreatedSlot,
	}
}

func eventResponse(e *domain.LedgerEvent) EventResponse {
	return EventResponse{
		Signature:   e.Signature,
		Kind:        e.Kind.String(),
		Slot:        e.Slot,
		Mint:        e.MintID,
		Source:      e.Source,
		Destination: e.Destination,
		Authority:   e.Authority,
		Amount:      e.Amount,
		SupplyAfter: e.SupplyAfter,
		Timestamp:   e.Timestamp,
	}
}

func eventResponses(events []*domain.LedgerEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}
