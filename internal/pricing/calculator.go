package pricing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
)

// CartItem is a transient line supplied by the caller. ProductID may be nil for
// ad-hoc priced items.
type CartItem struct {
	ProductID *uuid.UUID
	Name      string
	UnitPrice decimal.Decimal
	Qty       int
}

// Quote holds the server-computed money breakdown for a cart. All values are
// rounded to two decimal places, half up.
type Quote struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// Calculator computes cart totals for a fixed tax rate. It is pure: identical
// input always yields identical output, which lets the confirm path recompute
// and never trust a client-supplied total.
type Calculator struct {
	taxRate decimal.Decimal
}

// NewCalculator builds a calculator for the given fractional tax rate (0.10 = 10%).
func NewCalculator(taxRate decimal.Decimal) (*Calculator, error) {
	if taxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative, got %s", taxRate)
	}
	return &Calculator{taxRate: taxRate}, nil
}

// TaxRate returns the configured fractional rate.
func (c *Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// QuoteItems computes subtotal, tax and total for the given lines.
func (c *Calculator) QuoteItems(items []CartItem) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "at least one cart item is required")
	}

	subtotal := decimal.Zero
	for i, item := range items {
		if item.Qty < 1 {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be at least 1", i))
		}
		if item.UnitPrice.IsNegative() {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price must not be negative", i))
		}
		subtotal = subtotal.Add(c.LineSubtotal(item))
	}

	subtotal = roundMoney(subtotal)
	tax := roundMoney(subtotal.Mul(c.taxRate))

	return Quote{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}, nil
}

// LineSubtotal returns unit price times quantity, rounded to two places.
func (c *Calculator) LineSubtotal(item CartItem) decimal.Decimal {
	return roundMoney(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
}

// LineTax returns the tax portion attributable to a single line.
func (c *Calculator) LineTax(item CartItem) decimal.Decimal {
	return roundMoney(c.LineSubtotal(item).Mul(c.taxRate))
}

// decimal.Round rounds half away from zero, which for non-negative money is
// exactly round-half-up.
func roundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
