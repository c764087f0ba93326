package memory

import (
	"context"
	"sort"
	"sync"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu          sync.RWMutex
	data        []*domain.LedgerEvent
	bySignature map[string]*domain.LedgerEvent
}

// NewEventStore creates a new in-memory ledger journal.
func NewEventStore() *EventStore {
	return &EventStore{
		data:        make([]*domain.LedgerEvent, 0),
		bySignature: make(map[string]*domain.LedgerEvent),
	}
}

// Append adds a new event. Returns ErrDuplicateKey if signature exists.
func (s *EventStore) Append(_ context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.Signature == "" || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySignature[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy
	cp := *e
	s.data = append(s.data, &cp)
	s.bySignature[e.Signature] = &cp
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *EventStore) GetBySignature(_ context.Context, signature string) (*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.bySignature[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// GetByAccount retrieves events whose source or destination is account, ordered by slot ASC.
func (s *EventStore) GetByAccount(_ context.Context, account string) ([]*domain.LedgerEvent, error) {
	return s.filter(func(e *domain.LedgerEvent) bool {
		return account != "" && (e.Source == account || e.Destination == account)
	}), nil
}

// GetByMint retrieves events for a mint, ordered by slot ASC.
func (s *EventStore) GetByMint(_ context.Context, mintID string) ([]*domain.LedgerEvent, error) {
	return s.filter(func(e *domain.LedgerEvent) bool {
		return e.MintID == mintID
	}), nil
}

func (s *EventStore) filter(match func(*domain.LedgerEvent) bool) []*domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if match(e) {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Slot < result[j].Slot
	})
	return result
}

var _ storage.EventStore = (*EventStore)(nil)
