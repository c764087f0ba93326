package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"go.uber.org/zap"

	chstore "solana-token-ledger/internal/storage/clickhouse"
)

// journalMigrationsTable records applied ClickHouse files.
const journalMigrationsTable = "journal_migrations"

var (
	errNotIdempotent = errors.New("statement must use IF NOT EXISTS or IF EXISTS")
	errForeignTable  = errors.New("statement must target the ledger journal")

	ddlTarget = regexp.MustCompile(`(?is)^(?:CREATE\s+(?:TABLE|(?:MATERIALIZED\s+)?VIEW)|ALTER\s+TABLE)\s+(?:IF\s+NOT\s+EXISTS\s+)?([A-Za-z0-9_.` + "`" + `]+)`)
	ifExists  = regexp.MustCompile(`(?i)\bIF\s+(?:NOT\s+)?EXISTS\b`)
)

// RunClickhouseMigrations creates the journal database named in dsn and
// applies embedded files not yet recorded in journal_migrations. ClickHouse
// DDL is not transactional, so every statement must be safe to rerun after
// a partial failure. Returns a connection to the journal database.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := chstore.Database(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}
	if err := applyClickhouseFiles(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewAdminConn(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer func() { _ = admin.Close() }()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(db)); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

func applyClickhouseFiles(ctx context.Context, conn *chstore.Conn, logger *zap.Logger) error {
	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+journalMigrationsTable+` (
			filename   String,
			applied_at DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(applied_at)
		ORDER BY filename`); err != nil {
		return fmt.Errorf("create %s: %w", journalMigrationsTable, err)
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}

	for _, file := range files {
		var seen uint64
		if err := conn.QueryRow(ctx,
			`SELECT count() FROM `+journalMigrationsTable+` FINAL WHERE filename = ?`, file,
		).Scan(&seen); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if seen > 0 {
			continue
		}

		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := journalStatements(string(data))
		if err != nil {
			return fmt.Errorf("migration %s: %w", file, err)
		}

		// The native protocol takes one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		if err := conn.Exec(ctx,
			`INSERT INTO `+journalMigrationsTable+` (filename) VALUES (?)`, file,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		logger.Info("applied clickhouse migration", zap.String("file", file), zap.Int("statements", len(stmts)))
	}
	return nil
}

// journalStatements splits a migration file and checks that each statement
// is rerunnable DDL over the ledger_events table or a table derived from it.
func journalStatements(sql string) ([]string, error) {
	stmts, err := splitStatements(sql)
	if err != nil {
		return nil, err
	}
	for i, stmt := range stmts {
		m := ddlTarget.FindStringSubmatch(stmt)
		if m == nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, errForeignTable)
		}
		if !isJournalTable(m[1]) {
			return nil, fmt.Errorf("statement %d targets %s: %w", i+1, m[1], errForeignTable)
		}
		if !ifExists.MatchString(stmt) {
			return nil, fmt.Errorf("statement %d: %w", i+1, errNotIdempotent)
		}
	}
	return stmts, nil
}

func isJournalTable(name string) bool {
	name = strings.ReplaceAll(name, "`", "")
	if _, table, ok := strings.Cut(name, "."); ok {
		name = table
	}
	return name == chstore.EventsTable || strings.HasPrefix(name, chstore.EventsTable+"_")
}

// splitStatements splits sql on semicolons outside quoted strings, quoted
// identifiers and "--" comments. Comments are dropped.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == '\\' && i+1 < len(sql) {
				i++
				cur.WriteByte(sql[i])
			} else if ch == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					cur.WriteByte(sql[i])
				} else {
					quote = 0
				}
			}
		case ch == '\'' || ch == '`' || ch == '"':
			quote = ch
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return stmts, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
