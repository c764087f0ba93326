package domain

// DataAccount is the program storage allocated by the one-time initialize call.
type DataAccount struct {
	Address     string
	CreatedSlot uint64
}
