package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entity as seen by the ordering core. Only Stock
// and StockVersion are ever written here, and only through the stock ledger.
type Product struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	Stock         int                 `json:"stock"`
	StockVersion  int64               `json:"-"`
	IsActive      bool                `json:"isActive"`
	Images        []string            `json:"images"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// EffectivePrice is the discount price when it is set and lower than the
// list price, otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.LessThan(p.Price) {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

func (p *Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Available reports whether qty units can currently be sold. It is a
// read-time check only; reservations go through the stock ledger.
func (p *Product) Available(qty int) bool {
	return p.IsActive && p.Stock >= qty
}
