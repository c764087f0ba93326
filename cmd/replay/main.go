// Package main replays the ledger journal for one or more mints and checks
// it against the account state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"solana-token-ledger/internal/config"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/replay"
	chstore "solana-token-ledger/internal/storage/clickhouse"
	pgstore "solana-token-ledger/internal/storage/postgres"
	"solana-token-ledger/internal/verification"
)

func main() {
	_ = godotenv.Load()

	mints := flag.String("mints", "", "Comma-separated mint addresses to replay (required)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv(config.EnvPostgresDSN), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv(config.EnvClickhouseDSN), "ClickHouse connection string")
	verify := flag.Bool("verify", true, "Compare replayed balances with stored state")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	mintIDs := splitList(*mints)
	if len(mintIDs) == 0 {
		logger.Fatal("--mints is required")
	}
	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
	}
	if *verify && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required with --verify")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	chConn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatal("connect to clickhouse", zap.Error(err))
	}
	defer chConn.Close()
	events := chstore.NewEventStore(chConn)

	if !*verify {
		runner := replay.NewRunner(events)
		for _, id := range mintIDs {
			engine := NewLoggingEngine(id, *outputJSON)
			if _, err := runner.RunMint(ctx, id, engine); err != nil {
				logger.Fatal("replay failed", zap.String("mint", id), zap.Error(err))
			}
			printStats(engine.Stats(), *outputJSON)
		}
		return
	}

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	verifier := verification.NewReplayVerifier(pgstore.NewAccountStore(pool), events, logger)
	report, err := verifier.VerifyMints(ctx, mintIDs)
	if err != nil {
		logger.Fatal("verification failed", zap.Error(err))
	}
	printReport(report, *outputJSON)

	if report.DivergentMints > 0 {
		_ = logger.Sync()
		os.Exit(3)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printReport(report *verification.VerificationReport, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Verification Summary ===\n")
	fmt.Printf("Mints:             %d\n", report.TotalMints)
	fmt.Printf("Matched:           %d\n", report.MatchedMints)
	fmt.Printf("Divergent:         %d\n", report.DivergentMints)
	for _, r := range report.Results {
		status := "OK"
		if !r.Match {
			status = "DIVERGENT"
		}
		fmt.Printf("\n%s  %s\n", r.MintID, status)
		fmt.Printf("  events=%d accounts=%d supply stored=%d replayed=%d\n",
			r.Events, r.Accounts, r.StoredSupply, r.ReplayedSupply)
		for _, d := range r.Divergences {
			fmt.Printf("  - %s %s stored=%d replayed=%d %s\n", d.Field, d.Address, d.Expected, d.Actual, d.Detail)
		}
	}
}

func printStats(stats ReplayStats, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Mint:              %s\n", stats.MintID)
	fmt.Printf("Total Events:      %d\n", stats.TotalEvents)
	for kind, n := range stats.ByKind {
		fmt.Printf("  %-16s %d\n", kind+":", n)
	}
	if stats.TotalEvents > 0 {
		fmt.Printf("Slots:             %d..%d\n", stats.FirstSlot, stats.LastSlot)
		fmt.Printf("First Event Time:  %s\n", time.UnixMilli(stats.FirstEventTime).Format(time.RFC3339))
		fmt.Printf("Last Event Time:   %s\n", time.UnixMilli(stats.LastEventTime).Format(time.RFC3339))
	}
}

// LoggingEngine implements replay.ReplayEngine and prints events.
type LoggingEngine struct {
	outputJSON bool
	stats      ReplayStats
}

// ReplayStats holds replay statistics.
type ReplayStats struct {
	MintID         string         `json:"mint"`
	TotalEvents    int            `json:"total_events"`
	ByKind         map[string]int `json:"by_kind"`
	FirstSlot      uint64         `json:"first_slot"`
	LastSlot       uint64         `json:"last_slot"`
	FirstEventTime int64          `json:"first_event_time"`
	LastEventTime  int64          `json:"last_event_time"`
}

// NewLoggingEngine creates a new logging engine.
func NewLoggingEngine(mintID string, outputJSON bool) *LoggingEngine {
	return &LoggingEngine{
		outputJSON: outputJSON,
		stats: ReplayStats{
			MintID: mintID,
			ByKind: make(map[string]int),
		},
	}
}

// OnEvent processes an event.
func (e *LoggingEngine) OnEvent(_ context.Context, event *domain.LedgerEvent) error {
	if e.stats.TotalEvents == 0 {
		e.stats.FirstSlot = event.Slot
		e.stats.FirstEventTime = event.Timestamp
	}
	e.stats.TotalEvents++
	e.stats.LastSlot = event.Slot
	e.stats.LastEventTime = event.Timestamp
	e.stats.ByKind[event.Kind.String()]++

	if !e.outputJSON {
		fmt.Printf("[%s] slot=%d kind=%s amount=%d %s -> %s\n",
			time.UnixMilli(event.Timestamp).Format(time.RFC3339Nano),
			event.Slot,
			event.Kind,
			event.Amount,
			event.Source,
			event.Destination,
		)
	}

	return nil
}

// Stats returns replay statistics.
func (e *LoggingEngine) Stats() ReplayStats {
	return e.stats
}

var _ replay.ReplayEngine = (*LoggingEngine)(nil)
