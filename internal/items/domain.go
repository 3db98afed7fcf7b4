package items

import (
	"fmt"
	"strings"
	"time"

	"github.com/tapline/tapline/internal/shared"
)

// Unit selects the basis of externally supplied quantities and prices.
type Unit string

const (
	// UnitDefault is the internal basis.
	UnitDefault Unit = ""
	UnitSell    Unit = "sell"
	UnitBuy     Unit = "buy"
)

// ParseUnit accepts "", "sell" and "buy".
func ParseUnit(raw string) (Unit, error) {
	u := Unit(strings.TrimSpace(strings.ToLower(raw)))
	switch u {
	case UnitDefault, UnitSell, UnitBuy:
		return u, nil
	default:
		return "", shared.NewValidationError("unit", fmt.Sprintf("unknown unit %q", raw))
	}
}

// ItemDetails is the bar-independent catalog description.
type ItemDetails struct {
	ID        int64
	Name      string
	Brand     string
	Container string
}

// SellItem carries the tax rate of a sellable item.
type SellItem struct {
	ID    int64
	BarID string
	Name  string
	Tax   float64
}

// StockItem is a bar's stock of a catalog item. Qty and Price are in the buy basis.
type StockItem struct {
	ID            int64
	BarID         string
	DetailsID     int64
	SellItemID    int64
	Qty           float64
	Price         float64
	UnitFactor    float64
	LastInventory *time.Time
	Deleted       bool
	LedgerSeq     int64
	// Tax is joined from the sell item.
	Tax       float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows stock item listings.
type Filter struct {
	BarID          string
	SellItemID     int64
	IncludeDeleted bool
}

// CreateInput describes a new stock item. Qty and Price are expressed in Unit.
type CreateInput struct {
	BarID      string
	DetailsID  int64
	SellItemID int64
	SellToBuy  float64
	Unit       Unit
	Qty        float64
	Price      float64
	Reason     string
}
