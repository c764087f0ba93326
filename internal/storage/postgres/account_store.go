package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

const (
	// DefaultLockTimeout bounds how long a transaction waits for one key.
	DefaultLockTimeout = 5 * time.Second

	// DefaultMaxRetries is how many times an aborted transaction is retried.
	DefaultMaxRetries = 3
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountStore implements storage.AccountStore using PostgreSQL.
// Transactions serialize on transaction-scoped advisory locks, one per key.
type AccountStore struct {
	pool        *Pool
	lockTimeout time.Duration
	maxRetries  int
	reader
}

// Option configures an AccountStore.
type Option func(*AccountStore)

// WithLockTimeout sets the per-key lock wait before a transaction is aborted.
func WithLockTimeout(d time.Duration) Option {
	return func(s *AccountStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithMaxRetries sets how many times a transaction aborted by contention is retried.
func WithMaxRetries(n int) Option {
	return func(s *AccountStore) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool, opts ...Option) *AccountStore {
	s := &AccountStore{
		pool:        pool,
		lockTimeout: DefaultLockTimeout,
		maxRetries:  DefaultMaxRetries,
		reader:      reader{q: pool},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// ListTokenAccountsByOwner returns all accounts of owner ordered by account ID.
func (s *AccountStore) ListTokenAccountsByOwner(ctx context.Context, owner string) ([]*domain.TokenAccount, error) {
	query := `
		SELECT account_id, owner, mint_id, balance, created_slot
		FROM token_accounts
		WHERE owner = $1
		ORDER BY account_id ASC
	`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query token accounts by owner: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenAccount
	for rows.Next() {
		a, err := scanTokenAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token account: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token accounts: %w", err)
	}
	return result, nil
}

// Update runs fn in a transaction holding exclusive advisory locks on keys.
// A transaction aborted by deadlock, serialization failure or lock timeout
// is retried; when retries run out storage.ErrConflict is returned.
func (s *AccountStore) Update(ctx context.Context, keys []string, fn func(tx storage.Tx) error) error {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return storage.ErrInvalidInput
	}

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.updateOnce(ctx, keys, fn)
		if !isRetryableError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", storage.ErrConflict, err)
}

func (s *AccountStore) updateOnce(ctx context.Context, keys []string, fn func(tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := s.lockKeys(ctx, pgTx, keys, "pg_advisory_xact_lock"); err != nil {
		return err
	}

	var slot int64
	if err := pgTx.QueryRow(ctx, `SELECT nextval('ledger_slot_seq')`).Scan(&slot); err != nil {
		return fmt.Errorf("allocate slot: %w", err)
	}

	tx := newTx(pgTx, keys, uint64(slot))
	if err := fn(tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs fn while holding shared advisory locks on keys, so no
// transaction touching them can commit until fn returns.
func (s *AccountStore) View(ctx context.Context, keys []string, fn func(r storage.Reader) error) error {
	keys = normalizeKeys(keys)

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.viewOnce(ctx, keys, fn)
		if !isRetryableError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", storage.ErrConflict, err)
}

func (s *AccountStore) viewOnce(ctx context.Context, keys []string, fn func(r storage.Reader) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := s.lockKeys(ctx, pgTx, keys, "pg_advisory_xact_lock_shared"); err != nil {
		return err
	}
	if err := fn(reader{q: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// lockKeys takes one advisory lock per key in sorted order. lock_timeout
// makes a blocked acquisition fail with lock_not_available.
func (s *AccountStore) lockKeys(ctx context.Context, tx pgx.Tx, keys []string, lockFn string) error {
	if len(keys) == 0 {
		return nil
	}

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	query := fmt.Sprintf("SELECT %s(hashtextextended($1, 0))", lockFn)
	for _, key := range keys {
		if _, err := tx.Exec(ctx, query, key); err != nil {
			if isRetryableError(err) {
				return err
			}
			return fmt.Errorf("lock key %s: %w", key, err)
		}
	}
	return nil
}

// reader implements storage.Reader over a pool or a transaction.
type reader struct {
	q querier
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (r reader) GetMint(ctx context.Context, mintID string) (*domain.Mint, error) {
	query := `
		SELECT mint_id, decimals, mint_authority, freeze_authority, supply, metadata_address, created_slot
		FROM mints
		WHERE mint_id = $1
	`

	m, err := scanMint(r.q.QueryRow(ctx, query, mintID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}
	return m, nil
}

// GetTokenAccount retrieves a token account. Returns ErrNotFound if not exists.
func (r reader) GetTokenAccount(ctx context.Context, accountID string) (*domain.TokenAccount, error) {
	query := `
		SELECT account_id, owner, mint_id, balance, created_slot
		FROM token_accounts
		WHERE account_id = $1
	`

	a, err := scanTokenAccount(r.q.QueryRow(ctx, query, accountID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}
	return a, nil
}

// GetMetadata retrieves metadata by address. Returns ErrNotFound if not exists.
func (r reader) GetMetadata(ctx context.Context, address string) (*domain.TokenMetadata, error) {
	query := `
		SELECT address, mint_id, update_authority, name, symbol, uri, created_slot
		FROM token_metadata
		WHERE address = $1
	`

	var (
		m    domain.TokenMetadata
		slot int64
	)
	err := r.q.QueryRow(ctx, query, address).Scan(
		&m.Address, &m.MintID, &m.UpdateAuthority, &m.Name, &m.Symbol, &m.URI, &slot,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	m.CreatedSlot = uint64(slot)
	return &m, nil
}

// GetDataAccount retrieves the data account. Returns ErrNotFound if not exists.
func (r reader) GetDataAccount(ctx context.Context, address string) (*domain.DataAccount, error) {
	query := `SELECT address, created_slot FROM data_accounts WHERE address = $1`

	var (
		d    domain.DataAccount
		slot int64
	)
	if err := r.q.QueryRow(ctx, query, address).Scan(&d.Address, &slot); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get data account: %w", err)
	}
	d.CreatedSlot = uint64(slot)
	return &d, nil
}

// GetProgramDataAccount returns the single data account. Returns ErrNotFound
// before initialization.
func (r reader) GetProgramDataAccount(ctx context.Context) (*domain.DataAccount, error) {
	query := `SELECT address, created_slot FROM data_accounts WHERE singleton`

	var (
		d    domain.DataAccount
		slot int64
	)
	if err := r.q.QueryRow(ctx, query).Scan(&d.Address, &slot); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get program data account: %w", err)
	}
	d.CreatedSlot = uint64(slot)
	return &d, nil
}

func scanMint(row pgx.Row) (*domain.Mint, error) {
	var (
		m        domain.Mint
		decimals int16
		supply   pgtype.Numeric
		slot     int64
	)
	err := row.Scan(
		&m.MintID, &decimals, &m.MintAuthority, &m.FreezeAuthority,
		&supply, &m.MetadataAddress, &slot,
	)
	if err != nil {
		return nil, err
	}

	m.Decimals = uint8(decimals)
	m.CreatedSlot = uint64(slot)
	if m.Supply, err = numericToUint64(supply); err != nil {
		return nil, fmt.Errorf("decode supply: %w", err)
	}
	return &m, nil
}

func scanTokenAccount(row pgx.Row) (*domain.TokenAccount, error) {
	var (
		a       domain.TokenAccount
		balance pgtype.Numeric
		slot    int64
	)
	if err := row.Scan(&a.AccountID, &a.Owner, &a.MintID, &balance, &slot); err != nil {
		return nil, err
	}

	a.CreatedSlot = uint64(slot)
	var err error
	if a.Balance, err = numericToUint64(balance); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &a, nil
}

// normalizeKeys returns keys sorted with duplicates and empties removed.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
