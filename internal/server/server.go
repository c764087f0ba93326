// Package server exposes the ledger program over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/program"
)

// Server serves the ledger HTTP API.
type Server struct {
	program *program.Program
	hub     *Hub
	logger  *zap.Logger
	backend string

	started time.Time
	mux     *http.ServeMux

	mu   sync.Mutex
	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBackend names the storage backend reported by /status.
func WithBackend(name string) Option {
	return func(s *Server) { s.backend = name }
}

// New creates a Server for p and subscribes its WebSocket hub to p's journal.
func New(p *program.Program, opts ...Option) *Server {
	s := &Server{
		program: p,
		logger:  zap.NewNop(),
		backend: "memory",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	observability.MarkStarted(s.started)

	s.hub = NewHub(s.logger.Named("ws"))
	p.Recorder().Subscribe(s.hub)

	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", observability.Handler())
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.handle("POST /v1/initialize", s.handleInitialize)
	s.handle("POST /v1/mints", s.handleCreateMint)
	s.handle("POST /v1/mint", s.handleMintTo)
	s.handle("POST /v1/transfer", s.handleTransfer)
	s.handle("POST /v1/accounts", s.handleGetOrCreateAccount)
	s.handle("GET /v1/accounts/{id}", s.handleAccount)
	s.handle("GET /v1/accounts/{id}/balance", s.handleBalance)
	s.handle("GET /v1/accounts/{id}/history", s.handleAccountHistory)
	s.handle("GET /v1/mints/{id}", s.handleMintInfo)
	s.handle("GET /v1/mints/{id}/history", s.handleMintHistory)
	s.mux.Handle("GET /v1/ws", s.hub)
}

// handle registers h behind the request metrics middleware.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(pattern, h))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the WebSocket subscription hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket subscribers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	Started       time.Time `json:"started"`
	Backend       string    `json:"backend"`
	Initialized   bool      `json:"initialized"`
	DataAccount   string    `json:"data_account,omitempty"`
	Subscriptions int       `json:"subscriptions"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.started)

	dataAccount := s.program.DataAccount()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "running",
		Uptime:        uptime.Truncate(time.Second).String(),
		Started:       s.started,
		Backend:       s.backend,
		Initialized:   dataAccount != "",
		DataAccount:   dataAccount,
		Subscriptions: s.hub.Subscriptions(),
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.RecordHTTPRequest(route, strconv.Itoa(rec.code), time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
