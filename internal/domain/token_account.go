package domain

// TokenAccount is one owner's holding of one mint.
// Corresponds to the token_accounts table in PostgreSQL.
type TokenAccount struct {
	AccountID   string // associated token account address
	Owner       string // identity allowed to transfer out
	MintID      string // fixed at creation
	Balance     uint64 // base units
	CreatedSlot uint64
}

// Clone returns a copy of the account.
func (a *TokenAccount) Clone() *TokenAccount {
	cp := *a
	return &cp
}
