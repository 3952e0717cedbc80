package order

import "github.com/shopspring/decimal"

var (
	TaxRate               = decimal.RequireFromString("0.08")
	FreeShippingThreshold = decimal.NewFromInt(50)
	FlatShippingCost      = decimal.RequireFromString("9.99")
)

type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// ComputeTotals derives tax, shipping and total from a subtotal. Shipping
// is free strictly above the threshold. Values are not rounded.
func ComputeTotals(subtotal, discount decimal.Decimal) (Totals, error) {
	t := Totals{
		Subtotal:     subtotal,
		Tax:          subtotal.Mul(TaxRate),
		ShippingCost: FlatShippingCost,
		Discount:     discount,
	}
	if subtotal.GreaterThan(FreeShippingThreshold) {
		t.ShippingCost = decimal.Zero
	}
	t.Total = t.Subtotal.Add(t.Tax).Add(t.ShippingCost).Sub(t.Discount)
	if t.Total.IsNegative() {
		return t, ErrInvalidDiscount
	}
	return t, nil
}
