// Package replay feeds journaled ledger events through an engine in commit
// order.
package replay

import (
	"context"

	"solana-token-ledger/internal/domain"
)

// ReplayEngine processes events in deterministic order.
type ReplayEngine interface {
	// OnEvent is called for each event in order.
	// Events are guaranteed to be ordered by (slot, signature).
	OnEvent(ctx context.Context, event *domain.LedgerEvent) error
}

// EngineFunc adapts a function to ReplayEngine.
type EngineFunc func(ctx context.Context, event *domain.LedgerEvent) error

// OnEvent implements ReplayEngine.
func (f EngineFunc) OnEvent(ctx context.Context, event *domain.LedgerEvent) error {
	return f(ctx, event)
}
