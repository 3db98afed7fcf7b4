package accounts

import "time"

// Account is a user's balance at one bar. Balance is cached from the ledger.
type Account struct {
	ID        int64
	OwnerID   int64
	BarID     string
	Balance   float64
	LedgerSeq int64
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows account listings.
type Filter struct {
	BarID          string
	OwnerID        int64
	IncludeDeleted bool
}
