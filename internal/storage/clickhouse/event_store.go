package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	signature, kind, slot, mint_id, source, destination,
	authority, amount, supply_after, timestamp_ms
`

// Append adds a new event. Returns ErrDuplicateKey if signature exists.
func (s *EventStore) Append(ctx context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.Signature == "" || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	// MergeTree does not enforce uniqueness; check explicitly.
	exists, err := s.exists(ctx, e.Signature)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO `+EventsTable+` (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.Signature, e.Kind.String(), e.Slot, e.MintID, e.Source, e.Destination,
		e.Authority, e.Amount, e.SupplyAfter, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *EventStore) GetBySignature(ctx context.Context, signature string) (*domain.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ` + EventsTable + ` FINAL WHERE signature = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("query by signature: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return events[0], nil
}

// GetByAccount retrieves events whose source or destination is account, ordered by slot ASC.
func (s *EventStore) GetByAccount(ctx context.Context, account string) ([]*domain.LedgerEvent, error) {
	if account == "" {
		return nil, nil
	}

	query := `
		SELECT ` + eventColumns + `
		FROM ` + EventsTable + ` FINAL
		WHERE source = ? OR destination = ?
		ORDER BY slot ASC
	`

	rows, err := s.conn.Query(ctx, query, account, account)
	if err != nil {
		return nil, fmt.Errorf("query by account: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByMint retrieves events for a mint, ordered by slot ASC.
func (s *EventStore) GetByMint(ctx context.Context, mintID string) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ` + EventsTable + ` FINAL
		WHERE mint_id = ?
		ORDER BY slot ASC
	`

	rows, err := s.conn.Query(ctx, query, mintID)
	if err != nil {
		return nil, fmt.Errorf("query by mint: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM `+EventsTable+` WHERE signature = ?`, signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanEvents(rows driver.Rows) ([]*domain.LedgerEvent, error) {
	var result []*domain.LedgerEvent
	for rows.Next() {
		var (
			e    domain.LedgerEvent
			kind string
		)
		err := rows.Scan(
			&e.Signature, &kind, &e.Slot, &e.MintID, &e.Source, &e.Destination,
			&e.Authority, &e.Amount, &e.SupplyAfter, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return result, nil
}
