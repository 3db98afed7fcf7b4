package items

import (
	"math"

	"github.com/tapline/tapline/internal/shared"
)

// UnitScale is 1 for the internal and buy bases and UnitFactor for the sell basis.
func (s StockItem) UnitScale(unit Unit) float64 {
	if unit == UnitSell {
		return s.UnitFactor
	}
	return 1
}

// GetPrice returns the price per unit, tax included when tax is set.
func (s StockItem) GetPrice(unit Unit, tax bool) float64 {
	multiplier := 1.0
	if tax {
		multiplier = 1 + s.Tax
	}
	return s.Price * multiplier / s.UnitScale(unit)
}

// SellQty is the quantity in sell units.
func (s StockItem) SellQty() float64 {
	return s.Qty * s.UnitFactor
}

// SellPrice is the tax-inclusive price of one sell unit.
func (s StockItem) SellPrice() float64 {
	return s.GetPrice(UnitSell, true)
}

// DisplayPrice is the tax-exclusive price of one sell unit.
func (s StockItem) DisplayPrice() float64 {
	return s.GetPrice(UnitSell, false)
}

// ToInternal converts a value expressed in unit into the internal basis.
func (s StockItem) ToInternal(unit Unit, v float64) float64 {
	return v / s.UnitScale(unit)
}

// ToSellToBuy returns the buy/sell scale ratio.
func ToSellToBuy(s StockItem) float64 {
	return 1 / s.UnitFactor
}

// FromSellToBuy returns the unit factor matching a sell_to_buy ratio.
func FromSellToBuy(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, shared.NewValidationError("sell_to_buy", "must be strictly positive")
	}
	factor := 1 / v
	if math.IsInf(factor, 0) || factor == 0 {
		return 0, shared.NewValidationError("sell_to_buy", "out of range")
	}
	return factor, nil
}
