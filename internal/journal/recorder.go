// Package journal records committed ledger operations and fans them out to
// live subscribers.
package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/storage"
)

// Notifier receives every recorded event. Notify must not block.
type Notifier interface {
	Notify(e *domain.LedgerEvent)
}

// Recorder writes events to an EventStore after their transaction committed.
// A failed write is logged and counted; the committed state stands.
type Recorder struct {
	store  storage.EventStore
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier
}

// NewRecorder creates a Recorder. A nil logger disables logging.
func NewRecorder(store storage.EventStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers n for all subsequently recorded events.
func (r *Recorder) Subscribe(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// Record journals e. Safe to call on a nil Recorder.
func (r *Recorder) Record(ctx context.Context, e *domain.LedgerEvent) {
	if r == nil || e == nil {
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = r.now().UnixMilli()
	}

	observability.UpdateCommittedSlot(e.Slot)

	if r.store != nil {
		// The transaction already committed; a caller that went away must
		// not drop its journal entry.
		err := r.store.Append(context.WithoutCancel(ctx), e)
		observability.RecordJournalAppend(err)
		if err != nil {
			r.logger.Warn("journal append failed",
				zap.String("signature", e.Signature),
				zap.String("kind", e.Kind.String()),
				zap.Uint64("slot", e.Slot),
				zap.Error(err),
			)
		}
	}

	r.mu.RLock()
	notifiers := r.notifiers
	r.mu.RUnlock()
	for _, n := range notifiers {
		n.Notify(e)
	}
}

// Store returns the underlying EventStore.
func (r *Recorder) Store() storage.EventStore {
	if r == nil {
		return nil
	}
	return r.store
}
