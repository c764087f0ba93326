package domain

// EventKind identifies the ledger operation that produced an event.
type EventKind string

const (
	EventKindInitialize    EventKind = "INITIALIZE"
	EventKindCreateMint    EventKind = "CREATE_MINT"
	EventKindCreateAccount EventKind = "CREATE_ACCOUNT"
	EventKindMintTo        EventKind = "MINT_TO"
	EventKindTransfer      EventKind = "TRANSFER"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindInitialize, EventKindCreateMint, EventKindCreateAccount, EventKindMintTo, EventKindTransfer:
		return true
	}
	return false
}

// LedgerEvent is one committed ledger operation, as recorded in the journal.
// Corresponds to ledger_events table in ClickHouse.
type LedgerEvent struct {
	Signature   string    // deterministic transaction id (PK)
	Kind        EventKind // operation type
	Slot        uint64    // commit slot
	MintID      string    // mint involved (empty for INITIALIZE)
	Source      string    // debited account (TRANSFER only)
	Destination string    // credited or created account
	Authority   string    // signer that authorized the operation
	Amount      uint64    // moved or minted amount
	SupplyAfter uint64    // mint supply after CREATE_MINT or MINT_TO
	Timestamp   int64     // Unix timestamp in milliseconds
}

// Touches reports whether the event involves the given account or mint address.
func (e *LedgerEvent) Touches(address string) bool {
	return address != "" &&
		(e.Source == address || e.Destination == address || e.MintID == address)
}

// Receipt is returned to callers of mutating operations.
type Receipt struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}
