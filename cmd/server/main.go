// Package main runs the token ledger HTTP and WebSocket API.
//
// State lives in PostgreSQL and the journal in ClickHouse, or both in
// memory with --use-memory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solana-token-ledger/internal/config"
	"solana-token-ledger/internal/program"
	"solana-token-ledger/internal/server"
	"solana-token-ledger/internal/storage"
	chstore "solana-token-ledger/internal/storage/clickhouse"
	"solana-token-ledger/internal/storage/memory"
	"solana-token-ledger/internal/storage/migrations"
	pgstore "solana-token-ledger/internal/storage/postgres"
)

const shutdownTimeout = 30 * time.Second

// stores holds the selected storage backends.
type stores struct {
	accounts storage.AccountStore
	events   storage.EventStore
	backend  string
}

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	prog, err := program.New(program.Config{
		Store:       st.accounts,
		Events:      st.events,
		Logger:      logger,
		DataAccount: cfg.DataAccount,
	})
	if err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	if err := prog.Load(ctx); err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	if data := prog.DataAccount(); data != "" {
		logger.Info("resumed initialized ledger", zap.String("data_account", data))
	}

	srv := server.New(prog,
		server.WithLogger(logger.Named("http")),
		server.WithBackend(st.backend),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.HTTPAddr)
	}()

	logger.Info("ledger server started",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("backend", st.backend),
		zap.Duration("lock_timeout", cfg.LockTimeout),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received signal, shutting down gracefully", zap.String("signal", sig.String()))
	}

	// A second signal or the timeout forces exit.
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out, forcing exit")
		}
		_ = logger.Sync()
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	cancel()

	logger.Info("server stopped")
	return nil
}

// createStores creates the account store and journal for the configured backend.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func(), error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return &stores{
			accounts: memory.NewAccountStore(memory.WithLockTimeout(cfg.LockTimeout)),
			events:   memory.NewEventStore(),
			backend:  "memory",
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, logger.Named("migrations")); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger.Named("migrations"))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	st := &stores{
		accounts: pgstore.NewAccountStore(pool, pgstore.WithLockTimeout(cfg.LockTimeout)),
		events:   chstore.NewEventStore(chConn),
		backend:  "postgres+clickhouse",
	}

	cleanup := func() {
		_ = chConn.Close()
		pool.Close()
	}

	return st, cleanup, nil
}
