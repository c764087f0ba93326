package replay

import (
	"context"
	"fmt"

	"solana-token-ledger/internal/storage"
)

// Runner loads journaled events and replays them in deterministic order.
type Runner struct {
	events storage.EventStore
}

// NewRunner creates a new replay runner.
func NewRunner(events storage.EventStore) *Runner {
	return &Runner{events: events}
}

// RunMint replays every event of a mint through the engine and returns the
// number of events replayed. Returns ErrNoEvents if the journal has none.
func (r *Runner) RunMint(ctx context.Context, mintID string, engine ReplayEngine) (int, error) {
	events, err := r.events.GetByMint(ctx, mintID)
	if err != nil {
		return 0, fmt.Errorf("load events for mint %s: %w", mintID, err)
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("mint %s: %w", mintID, ErrNoEvents)
	}

	SortEvents(events)
	if err := ValidateOrdering(events); err != nil {
		return 0, fmt.Errorf("mint %s: %w", mintID, err)
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := engine.OnEvent(ctx, event); err != nil {
			return 0, fmt.Errorf("replay %s %s: %w", event.Kind, event.Signature, err)
		}
	}

	return len(events), nil
}
