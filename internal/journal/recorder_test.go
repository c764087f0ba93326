package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage/memory"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []*domain.LedgerEvent
}

func (c *captureNotifier) Notify(e *domain.LedgerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

type failingStore struct {
	*memory.EventStore
}

func (failingStore) Append(context.Context, *domain.LedgerEvent) error {
	return errors.New("journal unavailable")
}

func TestRecorder_RecordStoresAndNotifies(t *testing.T) {
	store := memory.NewEventStore()
	r := NewRecorder(store, nil)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }

	n := &captureNotifier{}
	r.Subscribe(n)

	e := &domain.LedgerEvent{Signature: "sig", Kind: domain.EventKindMintTo, Slot: 7, MintID: "m", Destination: "a", Amount: 5}
	r.Record(context.Background(), e)

	got, err := store.GetBySignature(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), got.Timestamp)
	require.Len(t, n.events, 1)
	assert.Equal(t, "sig", n.events[0].Signature)
}

func TestRecorder_StoreFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(failingStore{memory.NewEventStore()}, zap.New(core))

	n := &captureNotifier{}
	r.Subscribe(n)

	r.Record(context.Background(), &domain.LedgerEvent{Signature: "sig", Kind: domain.EventKindTransfer, Slot: 1})

	require.Equal(t, 1, logs.FilterMessage("journal append failed").Len())
	assert.Len(t, n.events, 1, "subscribers still see committed events")
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Record(context.Background(), &domain.LedgerEvent{Signature: "sig", Kind: domain.EventKindTransfer})
	})
	assert.Nil(t, r.Store())
}
