// Package verification replays the ledger journal and compares the result
// with the state in the account store.
package verification

import (
	"context"
	"fmt"

	smath "github.com/ava-labs/avalanchego/utils/math"

	"solana-token-ledger/internal/domain"
)

// Divergence fields.
const (
	FieldSupply      = "supply"
	FieldBalance     = "balance"
	FieldMint        = "mint"
	FieldSupplyAfter = "supply_after"
	FieldMissing     = "missing"
)

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string `json:"field"`
	Address  string `json:"address"`
	Expected uint64 `json:"expected"` // stored value
	Actual   uint64 `json:"actual"`   // replayed value
	Detail   string `json:"detail,omitempty"`
}

// VerificationResult contains the result of verifying a single mint.
type VerificationResult struct {
	MintID         string            `json:"mint"`
	Events         int               `json:"events"`
	Accounts       int               `json:"accounts"`
	ReplayedSupply uint64            `json:"replayed_supply"`
	StoredSupply   uint64            `json:"stored_supply"`
	Match          bool              `json:"match"`
	Divergences    []FieldDivergence `json:"divergences,omitempty"`
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalMints     int                  `json:"total_mints"`
	MatchedMints   int                  `json:"matched_mints"`
	DivergentMints int                  `json:"divergent_mints"`
	Results        []VerificationResult `json:"results"`
}

// Verifier checks that journal and state agree.
type Verifier interface {
	// VerifyMint replays the mint's journal and compares supply and every
	// replayed account balance with the store.
	VerifyMint(ctx context.Context, mintID string) (*VerificationResult, error)

	// VerifyMints verifies each mint in order.
	VerifyMints(ctx context.Context, mintIDs []string) (*VerificationReport, error)
}

// BalanceEngine rebuilds one mint's supply and balances from its events.
// It implements replay.ReplayEngine.
type BalanceEngine struct {
	mintID      string
	supply      uint64
	balances    map[string]uint64
	order       []string
	divergences []FieldDivergence
}

// NewBalanceEngine creates an engine for mintID.
func NewBalanceEngine(mintID string) *BalanceEngine {
	return &BalanceEngine{
		mintID:   mintID,
		balances: make(map[string]uint64),
	}
}

// OnEvent applies one event. Events of other mints are rejected.
// Internal inconsistencies are recorded as divergences, not returned.
func (e *BalanceEngine) OnEvent(_ context.Context, event *domain.LedgerEvent) error {
	if event.MintID != e.mintID {
		return fmt.Errorf("event %s belongs to mint %q", event.Signature, event.MintID)
	}

	switch event.Kind {
	case domain.EventKindCreateMint:
		e.supply = 0

	case domain.EventKindCreateAccount:
		e.touch(event.Destination)

	case domain.EventKindMintTo:
		supply, err := smath.Add(e.supply, event.Amount)
		if err != nil {
			return fmt.Errorf("mint_to %s: %w", event.Signature, domain.ErrOverflow)
		}
		e.supply = supply
		if event.SupplyAfter != supply {
			e.diverge(FieldDivergence{
				Field:    FieldSupplyAfter,
				Address:  event.Signature,
				Expected: event.SupplyAfter,
				Actual:   supply,
				Detail:   "journaled supply_after disagrees with replayed supply",
			})
		}
		e.credit(event.Destination, event.Amount)

	case domain.EventKindTransfer:
		e.touch(event.Source)
		src, err := smath.Sub(e.balances[event.Source], event.Amount)
		if err != nil {
			e.diverge(FieldDivergence{
				Field:    FieldBalance,
				Address:  event.Source,
				Expected: event.Amount,
				Actual:   e.balances[event.Source],
				Detail:   "transfer " + event.Signature + " exceeds replayed balance",
			})
			src = 0
		}
		e.balances[event.Source] = src
		e.credit(event.Destination, event.Amount)
	}
	return nil
}

// Supply returns the replayed supply.
func (e *BalanceEngine) Supply() uint64 {
	return e.supply
}

// Balances returns replayed balances keyed by account, and the accounts in
// first-seen order.
func (e *BalanceEngine) Balances() (map[string]uint64, []string) {
	return e.balances, e.order
}

func (e *BalanceEngine) touch(account string) {
	if _, ok := e.balances[account]; !ok {
		e.balances[account] = 0
		e.order = append(e.order, account)
	}
}

func (e *BalanceEngine) credit(account string, amount uint64) {
	e.touch(account)
	bal, err := smath.Add(e.balances[account], amount)
	if err != nil {
		e.diverge(FieldDivergence{
			Field:   FieldBalance,
			Address: account,
			Actual:  e.balances[account],
			Detail:  "replayed balance overflows",
		})
		return
	}
	e.balances[account] = bal
}

func (e *BalanceEngine) diverge(d FieldDivergence) {
	e.divergences = append(e.divergences, d)
}
